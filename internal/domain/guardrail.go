package domain

// InputReport is the outcome of validating a user query.
type InputReport struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues"`
	IsEmergency bool     `json:"is_emergency"`
	PIIDetected bool     `json:"pii_detected"`
	PIITypes    []string `json:"pii_types"`
	Warnings    []string `json:"warnings"`
}

// ConfidenceLevel is a banded confidence label.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// OutputReport is the outcome of validating generated text.
type OutputReport struct {
	Valid               bool            `json:"valid"`
	Issues              []string        `json:"issues"`
	Warnings            []string        `json:"warnings"`
	ConfidenceLevel     ConfidenceLevel `json:"confidence_level"`
	RequiresHumanReview bool            `json:"requires_human_review"`
}

// CriticalFindings lists the configured critical terms present in a text.
type CriticalFindings struct {
	HasCriticalFindings        bool     `json:"has_critical_findings"`
	CriticalFindings           []string `json:"critical_findings"`
	RequiresImmediateAttention bool     `json:"requires_immediate_attention"`
	EscalationRequired         bool     `json:"escalation_required"`
}

// HumanReview is the recommendation for clinician review.
type HumanReview struct {
	RequiresReview bool     `json:"requires_review"`
	Reasons        []string `json:"reasons"`
	Priority       string   `json:"priority"`
}

// SafetyReport is attached to every formatted answer.
type SafetyReport struct {
	SafeToDisplay    bool             `json:"safe_to_display"`
	CriticalFindings CriticalFindings `json:"critical_findings"`
	HumanReview      HumanReview      `json:"human_review"`
	IsEmergency      bool             `json:"is_emergency"`
	Confidence       float64          `json:"confidence"`
}

// RetentionDecision says what to keep for data of a given age.
type RetentionDecision struct {
	ShouldRetainConversation bool `json:"should_retain_conversation"`
	ShouldRetainAuditLog     bool `json:"should_retain_audit_log"`
	ActionRequired           bool `json:"action_required"`
}
