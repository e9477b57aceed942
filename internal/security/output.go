package security

import (
	"fmt"
	"strings"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

// DisclaimerType selects the primary disclaimer prepended to an answer.
type DisclaimerType string

const (
	DisclaimerGeneral    DisclaimerType = "general"
	DisclaimerDiagnostic DisclaimerType = "diagnostic"
	DisclaimerEmergency  DisclaimerType = "emergency"
	DisclaimerLimitation DisclaimerType = "limitation"
)

var confidenceIndicators = map[domain.ConfidenceLevel]string{
	domain.ConfidenceHigh:   "🟢",
	domain.ConfidenceMedium: "🟡",
	domain.ConfidenceLow:    "🔴",
}

// OutputValidator checks generated answers and decorates them with
// disclaimers and a confidence indicator.
type OutputValidator struct {
	cfg         config.OutputValidationConfig
	disclaimers config.DisclaimersConfig
}

// NewOutputValidator creates an OutputValidator.
func NewOutputValidator(cfg config.OutputValidationConfig, disclaimers config.DisclaimersConfig) *OutputValidator {
	return &OutputValidator{cfg: cfg, disclaimers: disclaimers}
}

// ValidateOutput flags prohibited phrases and low confidence.
func (v *OutputValidator) ValidateOutput(output string, confidence float64) domain.OutputReport {
	report := domain.OutputReport{Issues: []string{}, Warnings: []string{}}

	lower := strings.ToLower(output)
	for _, phrase := range v.cfg.ProhibitedOutputPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			report.Issues = append(report.Issues, fmt.Sprintf("Output contains prohibited phrase: '%s'", phrase))
		}
	}

	th := v.cfg.ConfidenceThresholds
	switch {
	case confidence < th.Low:
		report.Warnings = append(report.Warnings, "Very low confidence - human review strongly recommended")
	case confidence < th.Medium:
		report.Warnings = append(report.Warnings, "Low confidence - human review recommended")
	}

	report.Valid = len(report.Issues) == 0
	report.ConfidenceLevel = v.ConfidenceLevel(confidence)
	report.RequiresHumanReview = confidence < th.Medium
	return report
}

// ConfidenceLevel bands a score using the configured thresholds.
func (v *OutputValidator) ConfidenceLevel(confidence float64) domain.ConfidenceLevel {
	th := v.cfg.ConfidenceThresholds
	switch {
	case confidence >= th.High:
		return domain.ConfidenceHigh
	case confidence >= th.Medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

func (v *OutputValidator) disclaimer(t DisclaimerType) (string, bool) {
	switch t {
	case DisclaimerGeneral:
		return v.disclaimers.General, true
	case DisclaimerDiagnostic:
		return v.disclaimers.Diagnostic, true
	case DisclaimerEmergency:
		return v.disclaimers.Emergency, true
	case DisclaimerLimitation:
		return v.disclaimers.Limitation, true
	}
	return "", false
}

// AddDisclaimer prepends the emergency disclaimer (when emergency), the
// primary disclaimer for t (unknown types use the general one) and, below the
// medium threshold, the limitation disclaimer. Each is followed by a blank line.
func (v *OutputValidator) AddDisclaimer(output string, t DisclaimerType, emergency bool, confidence float64) string {
	var lines []string

	if emergency && v.disclaimers.Emergency != "" {
		lines = append(lines, v.disclaimers.Emergency, "")
	}

	primary, ok := v.disclaimer(t)
	if !ok {
		primary = v.disclaimers.General
	}
	if primary != "" {
		lines = append(lines, primary, "")
	}

	if confidence < v.cfg.ConfidenceThresholds.Medium && v.disclaimers.Limitation != "" {
		lines = append(lines, v.disclaimers.Limitation, "")
	}

	if len(lines) == 0 {
		return output
	}
	return strings.Join(lines, "\n") + "\n" + output
}

// AddConfidenceIndicator appends a coloured confidence line such as
// "🟢 **Confidence Level**: HIGH (92.00%)".
func (v *OutputValidator) AddConfidenceIndicator(output string, confidence float64) string {
	level := v.ConfidenceLevel(confidence)
	return fmt.Sprintf("%s\n\n%s **Confidence Level**: %s (%s)",
		output, confidenceIndicators[level], strings.ToUpper(string(level)), FormatPercent(confidence))
}

// FormatMedicalOutput applies AddDisclaimer and, when withConfidence is set,
// AddConfidenceIndicator.
func (v *OutputValidator) FormatMedicalOutput(output string, confidence float64, t DisclaimerType, emergency, withConfidence bool) string {
	formatted := v.AddDisclaimer(output, t, emergency, confidence)
	if withConfidence {
		formatted = v.AddConfidenceIndicator(formatted, confidence)
	}
	return formatted
}

// FormatPercent renders a 0..1 score as a percentage with two decimals.
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}
