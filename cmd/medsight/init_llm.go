package main

import (
	"fmt"
	"log/slog"

	"medsight/internal/adapter/llm"
	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

// LLMComponents holds the model providers used by the agents.
type LLMComponents struct {
	Image  domain.LLMProvider
	Record domain.LLMProvider // nil when record extraction is heuristic only
}

func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	image, err := llm.NewProvider(cfg.Model.Image, cfg.Model, log)
	if err != nil {
		return nil, fmt.Errorf("image model: %w", err)
	}

	comp := &LLMComponents{Image: image}
	if cfg.Agents.RecordParser.UseModel {
		record, err := llm.NewProvider(cfg.Model.Record, cfg.Model, log)
		if err != nil {
			return nil, fmt.Errorf("record model: %w", err)
		}
		comp.Record = record
	}

	log.Info("model providers ready",
		"image", cfg.Model.Image.Type,
		"image_model", cfg.Model.Image.Model,
		"record_model_enabled", comp.Record != nil,
	)
	return comp, nil
}
