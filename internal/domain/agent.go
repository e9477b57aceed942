package domain

import (
	"context"
	"time"
)

// AgentType identifies the role an agent plays in the pipeline. The same
// names are used in routing plans.
type AgentType string

const (
	AgentRouting          AgentType = "routing"
	AgentImageAnalyzer    AgentType = "image_analyzer"
	AgentRecordParser     AgentType = "record_parser"
	AgentSynthesis        AgentType = "synthesis"
	AgentQA               AgentType = "qa"
	AgentOrchestrator     AgentType = "orchestrator"
	AgentEmergencyHandler AgentType = "emergency_handler"
	AgentComparison       AgentType = "comparison"
)

// AgentStatus is the lifecycle state of an agent instance.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusProcessing AgentStatus = "processing"
	StatusCompleted  AgentStatus = "completed"
	StatusFailed     AgentStatus = "failed"
	StatusWaiting    AgentStatus = "waiting"
)

// AgentResult is the uniform envelope every agent operation returns.
// When Success is false, Data is nil and Error is set.
type AgentResult struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Failure builds a failed result with zero confidence.
func Failure(msg string) AgentResult {
	return AgentResult{Success: false, Error: msg, Timestamp: time.Now()}
}

// Agent is the contract every concrete agent implements. Process must not
// panic; a returned error is converted into a failed result by the caller.
type Agent[I any] interface {
	Name() string
	Type() AgentType
	ValidateInput(in I) bool
	Process(ctx context.Context, in I) (AgentResult, error)
}

// PreProcessor is an optional hook run on valid input before Process.
type PreProcessor[I any] interface {
	PreProcess(ctx context.Context, in I) (I, error)
}

// PostProcessor is an optional hook run on the result of Process.
type PostProcessor interface {
	PostProcess(ctx context.Context, res AgentResult) (AgentResult, error)
}

// AgentMetrics is a read-only snapshot of an agent's counters.
type AgentMetrics struct {
	AgentName             string      `json:"agent_name"`
	AgentType             AgentType   `json:"agent_type"`
	Status                AgentStatus `json:"status"`
	TotalRequests         int         `json:"total_requests"`
	SuccessfulRequests    int         `json:"successful_requests"`
	FailedRequests        int         `json:"failed_requests"`
	SuccessRate           float64     `json:"success_rate"`
	AverageProcessingTime float64     `json:"average_processing_time"` // seconds
	AverageConfidence     float64     `json:"average_confidence"`
}
