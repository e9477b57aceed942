package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GuardrailsConfig is the safety policy shared by the input, output, safety
// and compliance checks. It can be inlined under "guardrails" or kept in a
// separate file referenced by Path.
type GuardrailsConfig struct {
	Path             string                 `yaml:"path,omitempty"`
	InputValidation  InputValidationConfig  `yaml:"input_validation"`
	OutputValidation OutputValidationConfig `yaml:"output_validation"`
	Disclaimers      DisclaimersConfig      `yaml:"disclaimers"`
	SafetyChecks     SafetyChecksConfig     `yaml:"safety_checks"`
	Compliance       ComplianceConfig       `yaml:"compliance"`
}

// InputValidationConfig holds query checks.
type InputValidationConfig struct {
	MaxQueryLength    int          `yaml:"max_query_length"`
	MinQueryLength    int          `yaml:"min_query_length"`
	BlockedPatterns   []string     `yaml:"blocked_patterns"`
	EmergencyKeywords []string     `yaml:"emergency_keywords"`
	PIIPatterns       []PIIPattern `yaml:"pii_patterns"`
}

// PIIPattern is a regular expression tagged with the kind of data it finds.
type PIIPattern struct {
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"`
}

// OutputValidationConfig holds generated-text checks.
type OutputValidationConfig struct {
	ProhibitedOutputPhrases []string             `yaml:"prohibited_output_phrases"`
	ConfidenceThresholds    ConfidenceThresholds `yaml:"confidence_thresholds"`
}

// ConfidenceThresholds band a confidence score into high, medium and low.
type ConfidenceThresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// DisclaimersConfig holds the disclaimer texts by category.
type DisclaimersConfig struct {
	General    string `yaml:"general"`
	Diagnostic string `yaml:"diagnostic"`
	Emergency  string `yaml:"emergency"`
	Limitation string `yaml:"limitation"`
}

// SafetyChecksConfig holds critical-finding and review settings.
type SafetyChecksConfig struct {
	CriticalFindings    []string          `yaml:"critical_findings"`
	HumanReviewRequired HumanReviewConfig `yaml:"human_review_required"`
}

// HumanReviewConfig sets when an answer needs clinician review.
type HumanReviewConfig struct {
	ConfidenceBelow float64 `yaml:"confidence_below"`
}

// UnmarshalYAML accepts both a mapping and the older list-of-mappings form,
// merging list items in order.
func (h *HumanReviewConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain HumanReviewConfig
	switch node.Kind {
	case yaml.MappingNode:
		return node.Decode((*plain)(h))
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				continue
			}
			if err := item.Decode((*plain)(h)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("human_review_required: expected mapping, got %s", node.Tag)
	}
}

// ComplianceConfig holds retention and anonymization settings.
type ComplianceConfig struct {
	ConversationRetentionDays int      `yaml:"conversation_retention_days"`
	AuditRetentionDays        int      `yaml:"audit_retention_days"`
	SensitiveFields           []string `yaml:"sensitive_fields"`
}

// DefaultGuardrails returns the built-in policy used when no file is given.
func DefaultGuardrails() GuardrailsConfig {
	return GuardrailsConfig{
		InputValidation: InputValidationConfig{
			MaxQueryLength:    2000,
			MinQueryLength:    3,
			BlockedPatterns:   []string{"prescribe", "dosage for"},
			EmergencyKeywords: []string{"chest pain", "difficulty breathing", "severe bleeding"},
			PIIPatterns: []PIIPattern{
				{Regex: `\b\d{3}-\d{2}-\d{4}\b`, Type: "ssn"},
				{Regex: `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`, Type: "phone"},
				{Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Type: "email"},
				{Regex: `(?i)\bMRN[:#\s]*\d+\b`, Type: "mrn"},
			},
		},
		OutputValidation: OutputValidationConfig{
			ProhibitedOutputPhrases: []string{"definitely", "certainly", "100% sure"},
			ConfidenceThresholds:    ConfidenceThresholds{High: 0.85, Medium: 0.65, Low: 0.45},
		},
		Disclaimers: DisclaimersConfig{
			General:    "⚕️ MEDICAL DISCLAIMER: This analysis is for informational purposes only.",
			Diagnostic: "⚕️ DIAGNOSTIC DISCLAIMER: These are preliminary findings.",
			Emergency:  "🚨 EMERGENCY: If experiencing a medical emergency, call 911.",
			Limitation: "⚠️ LIMITATIONS: AI analysis has inherent limitations.",
		},
		SafetyChecks: SafetyChecksConfig{
			CriticalFindings: []string{
				"pneumothorax", "aortic dissection", "pulmonary embolism",
				"intracranial hemorrhage", "stroke", "myocardial infarction", "free air",
			},
			HumanReviewRequired: HumanReviewConfig{ConfidenceBelow: 0.65},
		},
		Compliance: ComplianceConfig{
			ConversationRetentionDays: 90,
			AuditRetentionDays:        2555,
			SensitiveFields:           []string{"patient_id", "user_id", "name", "email", "phone"},
		},
	}
}

// LoadGuardrails reads a guardrail policy file over the defaults. Keys present
// in the file replace the default value for that key; a missing file yields
// the defaults unchanged.
func LoadGuardrails(path string) (GuardrailsConfig, error) {
	g := DefaultGuardrails()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return g, fmt.Errorf("read guardrails: %w", err)
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return DefaultGuardrails(), fmt.Errorf("parse guardrails: %w", err)
	}
	return g, nil
}
