package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

// RateLimitedProvider waits on a token bucket before each call so a burst
// of sessions cannot exceed the endpoint's quota.
type RateLimitedProvider struct {
	inner   domain.LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner. A zero RequestsPerMinute returns inner unchanged.
func NewRateLimitedProvider(inner domain.LLMProvider, cfg config.RateLimitConfig) domain.LLMProvider {
	if cfg.RequestsPerMinute <= 0 {
		return inner
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst),
	}
}

// Chat implements domain.LLMProvider. It fails with ErrRateLimit when ctx
// ends before a token is available.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
	}
	return p.inner.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }
