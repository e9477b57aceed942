package multiagent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"medsight/internal/domain"
)

// Keyword sets used by the routing agent. Matching is case-insensitive
// substring containment, so short keywords can match inside longer words.
var (
	emergencyKeywords = []string{
		"emergency", "urgent", "chest pain", "difficulty breathing",
		"severe", "critical", "immediate",
	}
	comprehensiveKeywords = []string{
		"combine", "together", "correlate", "compare with history",
		"comprehensive", "overall", "complete analysis",
	}
	comparisonKeywords = []string{
		"compare", "difference", "change", "progression",
		"before and after", "previous scan", "last time",
	}
	followUpKeywords = []string{
		"what does", "explain", "clarify", "tell me more",
		"previous", "earlier", "that finding", "the scan",
	}
	imageKeywords = []string{
		"analyze", "image", "scan", "x-ray", "mri", "ct",
		"what do you see", "findings", "abnormalities",
	}
	recordKeywords = []string{
		"record", "history", "document", "report", "notes",
		"previous diagnosis", "medical history",
	}
)

// classificationRule maps a predicate over the routing input to a request type.
type classificationRule struct {
	match func(in domain.RoutingInput, lower string) bool
	typ   domain.RequestType
}

// classificationRules is evaluated in order and the first match wins.
var classificationRules = []classificationRule{
	{func(_ domain.RoutingInput, q string) bool { return containsAny(q, emergencyKeywords) }, domain.RequestEmergency},
	{func(in domain.RoutingInput, q string) bool {
		return (in.HasImages && in.HasDocuments) || containsAny(q, comprehensiveKeywords)
	}, domain.RequestComprehensiveReview},
	{func(_ domain.RoutingInput, q string) bool { return containsAny(q, comparisonKeywords) }, domain.RequestComparison},
	{func(in domain.RoutingInput, q string) bool {
		return in.HasHistory && containsAny(q, followUpKeywords)
	}, domain.RequestFollowUpQuestion},
	{func(in domain.RoutingInput, q string) bool { return in.HasImages || containsAny(q, imageKeywords) }, domain.RequestImageAnalysis},
	{func(in domain.RoutingInput, q string) bool { return in.HasDocuments || containsAny(q, recordKeywords) }, domain.RequestRecordAnalysis},
}

// routingTable maps each request type to the agents that handle it.
var routingTable = map[domain.RequestType]domain.RoutingDecision{
	domain.RequestEmergency: {
		Agents: []domain.AgentType{domain.AgentEmergencyHandler}, Confidence: 0.95, Priority: domain.PriorityUrgent,
	},
	domain.RequestImageAnalysis: {
		Agents: []domain.AgentType{domain.AgentImageAnalyzer}, Confidence: 0.90,
	},
	domain.RequestRecordAnalysis: {
		Agents: []domain.AgentType{domain.AgentRecordParser}, Confidence: 0.85,
	},
	domain.RequestComprehensiveReview: {
		Agents:     []domain.AgentType{domain.AgentImageAnalyzer, domain.AgentRecordParser, domain.AgentSynthesis},
		MultiAgent: true, Confidence: 0.85,
	},
	domain.RequestComparison: {
		Agents:     []domain.AgentType{domain.AgentImageAnalyzer, domain.AgentComparison},
		MultiAgent: true, Confidence: 0.80,
	},
	domain.RequestFollowUpQuestion: {
		Agents: []domain.AgentType{domain.AgentQA}, Confidence: 0.75,
	},
	domain.RequestUnknown: {
		Agents: []domain.AgentType{domain.AgentQA}, Confidence: 0.50,
	},
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Classify returns the request type for in using the ordered rule list.
func Classify(in domain.RoutingInput) domain.RequestType {
	lower := strings.ToLower(in.Query)
	for _, rule := range classificationRules {
		if rule.match(in, lower) {
			return rule.typ
		}
	}
	return domain.RequestUnknown
}

// DecisionFor returns the routing decision for a request type.
func DecisionFor(t domain.RequestType) domain.RoutingDecision {
	d, ok := routingTable[t]
	if !ok {
		d = routingTable[domain.RequestUnknown]
	}
	d.Agents = append([]domain.AgentType(nil), d.Agents...)
	return d
}

// PriorityFor returns the priority label for a request type.
func PriorityFor(t domain.RequestType) string {
	switch t {
	case domain.RequestEmergency:
		return domain.PriorityUrgent
	case domain.RequestComprehensiveReview, domain.RequestImageAnalysis:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// RoutingAgent classifies requests and picks the agents that handle them.
// It is stateless.
type RoutingAgent struct {
	logger *slog.Logger
}

// NewRoutingAgent creates a RoutingAgent. A nil logger discards output.
func NewRoutingAgent(logger *slog.Logger) *RoutingAgent {
	if logger == nil {
		logger = discardLogger()
	}
	return &RoutingAgent{logger: logger}
}

func (a *RoutingAgent) Name() string           { return "RoutingAgent" }
func (a *RoutingAgent) Type() domain.AgentType { return domain.AgentRouting }

// ValidateInput requires a non-blank query.
func (a *RoutingAgent) ValidateInput(in domain.RoutingInput) bool {
	return strings.TrimSpace(in.Query) != ""
}

func (a *RoutingAgent) Process(_ context.Context, in domain.RoutingInput) (domain.AgentResult, error) {
	reqType := Classify(in)
	decision := DecisionFor(reqType)
	a.logger.Debug("request classified",
		"request_type", reqType,
		"multi_agent", decision.MultiAgent,
		"confidence", decision.Confidence,
	)

	return domain.AgentResult{
		Success: true,
		Data: &domain.RoutingOutcome{
			RequestType:        reqType,
			Routing:            decision,
			Priority:           PriorityFor(reqType),
			RequiresMultiAgent: decision.MultiAgent,
		},
		Confidence: decision.Confidence,
		Metadata:   map[string]any{"query_length": len(in.Query)},
		Timestamp:  time.Now(),
	}, nil
}
