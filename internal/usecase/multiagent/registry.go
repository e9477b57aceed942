package multiagent

import (
	"log/slog"
	"sort"
	"sync"

	"medsight/internal/domain"
)

// MetricsSource is anything that reports agent metrics. Every Runner is one.
type MetricsSource interface {
	Name() string
	Metrics() domain.AgentMetrics
	ResetMetrics()
}

// Registry holds the agents of a pipeline by name for metrics reporting.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]MetricsSource
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{agents: make(map[string]MetricsSource), logger: logger}
}

// Register adds an agent. Returns ErrInvalidInput if the name is taken.
func (r *Registry) Register(src MetricsSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if _, exists := r.agents[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, "duplicate agent "+name)
	}
	r.agents[name] = src
	r.logger.Debug("agent registered", "agent", name)
	return nil
}

// Get returns the agent registered under name, or ErrNotFound.
func (r *Registry) Get(name string) (MetricsSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.agents[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return src, nil
}

// Metrics returns a snapshot for every registered agent, sorted by name.
func (r *Registry) Metrics() []domain.AgentMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentMetrics, 0, len(r.agents))
	for _, src := range r.agents {
		out = append(out, src.Metrics())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentName < out[j].AgentName
	})
	return out
}

// ResetAll zeroes the metrics of every registered agent.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.agents {
		src.ResetMetrics()
	}
}
