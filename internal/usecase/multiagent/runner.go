package multiagent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"medsight/internal/domain"
	"medsight/internal/infra/tracer"
)

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Runner drives an Agent through the fixed execute lifecycle
// (validate, pre-process, process, post-process, metrics) and owns the
// agent's counters. A Runner is safe for concurrent use.
type Runner[I any] struct {
	agent  domain.Agent[I]
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	status        domain.AgentStatus
	inflight      int
	total         int
	successful    int
	failed        int
	totalTime     time.Duration
	avgConfidence float64
}

// NewRunner wraps agent. A nil logger discards output.
func NewRunner[I any](agent domain.Agent[I], logger *slog.Logger) *Runner[I] {
	if logger == nil {
		logger = discardLogger()
	}
	return &Runner[I]{
		agent:  agent,
		logger: logger.With("agent", agent.Name()),
		now:    time.Now,
		status: domain.StatusIdle,
	}
}

func (r *Runner[I]) Name() string           { return r.agent.Name() }
func (r *Runner[I]) Type() domain.AgentType { return r.agent.Type() }

// Agent returns the wrapped agent.
func (r *Runner[I]) Agent() domain.Agent[I] { return r.agent }

// Status returns the current lifecycle state.
func (r *Runner[I]) Status() domain.AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Execute runs the agent on in. It never panics and never returns an error:
// every failure is reported through a result with Success false.
func (r *Runner[I]) Execute(ctx context.Context, in I) domain.AgentResult {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanAgentExecute,
		trace.WithAttributes(
			tracer.StringAttr("agent.name", r.agent.Name()),
			tracer.StringAttr("agent.type", string(r.agent.Type())),
		),
	)
	defer span.End()

	start := r.now()
	r.begin()
	res := r.run(ctx, in)
	elapsed := r.now().Sub(start)
	r.finish(res, elapsed)

	tracer.SetResult(span, res.Success, res.Confidence, res.Error)
	if res.Success {
		r.logger.Info("agent completed",
			"duration_ms", elapsed.Milliseconds(),
			"confidence", res.Confidence,
		)
	} else {
		r.logger.Warn("agent failed",
			"duration_ms", elapsed.Milliseconds(),
			"error", res.Error,
		)
	}
	return res
}

func (r *Runner[I]) run(ctx context.Context, in I) (res domain.AgentResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("agent panicked", "panic", p)
			res = domain.Failure(fmt.Sprintf("Agent execution failed: %v", p))
		}
	}()

	if !r.agent.ValidateInput(in) {
		r.logger.Error("invalid input")
		return domain.Failure("Invalid input data")
	}

	if pre, ok := r.agent.(domain.PreProcessor[I]); ok {
		var err error
		if in, err = pre.PreProcess(ctx, in); err != nil {
			return domain.Failure(fmt.Sprintf("Agent execution failed: %v", err))
		}
	}

	r.logger.Debug("processing request")
	res, err := r.agent.Process(ctx, in)
	if err != nil {
		return domain.Failure(fmt.Sprintf("Agent execution failed: %v", err))
	}

	if post, ok := r.agent.(domain.PostProcessor); ok {
		if res, err = post.PostProcess(ctx, res); err != nil {
			return domain.Failure(fmt.Sprintf("Agent execution failed: %v", err))
		}
	}

	if res.Timestamp.IsZero() {
		res.Timestamp = r.now()
	}
	if !res.Success {
		res.Data = nil
		res.Confidence = 0
	}
	return res
}

func (r *Runner[I]) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.inflight++
	r.status = domain.StatusProcessing
}

func (r *Runner[I]) finish(res domain.AgentResult, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalTime += elapsed
	if res.Success {
		r.successful++
		n := float64(r.successful)
		r.avgConfidence = (r.avgConfidence*(n-1) + res.Confidence) / n
		r.status = domain.StatusCompleted
	} else {
		r.failed++
		r.status = domain.StatusFailed
	}

	r.inflight--
	if r.inflight == 0 {
		r.status = domain.StatusIdle
	} else {
		r.status = domain.StatusProcessing
	}
}

// Metrics returns a snapshot of the agent's counters.
func (r *Runner[I]) Metrics() domain.AgentMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := domain.AgentMetrics{
		AgentName:          r.agent.Name(),
		AgentType:          r.agent.Type(),
		Status:             r.status,
		TotalRequests:      r.total,
		SuccessfulRequests: r.successful,
		FailedRequests:     r.failed,
		AverageConfidence:  r.avgConfidence,
	}
	if r.total > 0 {
		m.SuccessRate = float64(r.successful) / float64(r.total)
		m.AverageProcessingTime = r.totalTime.Seconds() / float64(r.total)
	}
	return m
}

// ResetMetrics zeroes every counter.
func (r *Runner[I]) ResetMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total, r.successful, r.failed = 0, 0, 0
	r.totalTime = 0
	r.avgConfidence = 0
	r.logger.Info("metrics reset")
}
