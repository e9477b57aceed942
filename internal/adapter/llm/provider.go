package llm

import (
	"fmt"
	"io"
	"log/slog"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewProvider builds the provider described by cfg and wraps it with the
// model-wide rate limit and circuit breaker. It returns nil, nil when
// cfg.Type is empty.
func NewProvider(cfg config.ProviderConfig, model config.ModelConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	if logger == nil {
		logger = discardLogger()
	}

	var p domain.LLMProvider
	switch cfg.Type {
	case "":
		return nil, nil
	case "endpoint":
		if cfg.BaseURL == "" {
			return nil, domain.NewDomainError("llm.NewProvider", domain.ErrConfigLoad, "endpoint provider requires base_url")
		}
		p = NewEndpointProvider(cfg, logger)
	case "openai":
		p = NewOpenAIProvider(cfg, logger)
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrConfigLoad, fmt.Sprintf("unknown provider type %q", cfg.Type))
	}

	p = NewRateLimitedProvider(p, model.RateLimit)
	if model.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, model.CircuitBreaker, logger)
	}
	return p, nil
}
