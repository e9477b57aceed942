package domain

// RequestType is the classification the routing agent assigns to a request.
type RequestType string

const (
	RequestImageAnalysis       RequestType = "image_analysis"
	RequestRecordAnalysis      RequestType = "record_analysis"
	RequestComprehensiveReview RequestType = "comprehensive_review"
	RequestFollowUpQuestion    RequestType = "follow_up_question"
	RequestEmergency           RequestType = "emergency"
	RequestComparison          RequestType = "comparison"
	RequestUnknown             RequestType = "unknown"
)

// Priority labels attached to a routing outcome.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// RoutingInput is what the routing agent classifies.
type RoutingInput struct {
	Query        string `json:"query"`
	HasImages    bool   `json:"has_images"`
	HasDocuments bool   `json:"has_documents"`
	HasHistory   bool   `json:"has_history"`
}

// RoutingDecision names the agents that should handle a request.
type RoutingDecision struct {
	Agents     []AgentType `json:"agents"`
	MultiAgent bool        `json:"multi_agent"`
	Confidence float64     `json:"confidence"`
	Priority   string      `json:"priority,omitempty"`
}

// RoutingOutcome is the data payload of a successful routing result.
type RoutingOutcome struct {
	RequestType        RequestType     `json:"request_type"`
	Routing            RoutingDecision `json:"routing"`
	Priority           string          `json:"priority"`
	RequiresMultiAgent bool            `json:"requires_multi_agent"`
}
