package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"medsight/internal/adapter/store"
	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/usecase"
	"medsight/internal/usecase/multiagent"
)

// initOrchestrator wires the specialist agents into an orchestrator.
func initOrchestrator(cfg *config.Config, models *LLMComponents, sec *SecurityComponents, log *slog.Logger) (*usecase.Orchestrator, error) {
	ia := cfg.Agents.ImageAnalyzer
	image := multiagent.NewImageAnalyzerAgent(models.Image, multiagent.ImageAnalyzerConfig{
		Model:            cfg.Model.Image.Model,
		MaxTokens:        ia.MaxTokens,
		Temperature:      ia.Temperature,
		MinImageQuality:  ia.MinImageQuality,
		SkipQualityCheck: !ia.QualityCheck,
	}, log)

	var recordModel string
	if models.Record != nil {
		recordModel = cfg.Model.Record.Model
	}
	record := multiagent.NewRecordParserAgent(models.Record, multiagent.RecordParserConfig{Model: recordModel}, log)

	orch, err := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Router:        multiagent.NewRunner[domain.RoutingInput](multiagent.NewRoutingAgent(log), log),
		ImageAnalyzer: multiagent.NewRunner[domain.ImageInput](image, log),
		RecordParser:  multiagent.NewRunner[*domain.MedicalRecord](record, log),
		Synthesis:     multiagent.NewRunner[domain.SynthesisInput](multiagent.NewSynthesisAgent(log), log),
		QA:            multiagent.NewRunner[domain.QAInput](multiagent.NewQAAgent(log), log),
		Input:         sec.Input,
		Output:        sec.Output,
		Safety:        sec.Safety,
		Compliance:    sec.Compliance,
		Config:        &cfg.Agents.Orchestrator,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return orch, nil
}

// initStore opens the conversation store selected by cfg.Store.Backend.
func initStore(cfg config.StoreConfig, enc domain.ContentEncryptor, log *slog.Logger) (domain.SessionStore, error) {
	opts := []store.Option{store.WithLogger(log)}
	if enc != nil {
		opts = append(opts, store.WithEncryptor(enc))
	}

	switch cfg.Backend {
	case "json", "":
		s, err := store.NewJSONFileStore(cfg.Dir, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		s, err := store.NewSQLiteStore(filepath.Join(cfg.Dir, "conversations.db"), opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
