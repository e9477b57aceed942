package security

import (
	"fmt"
	"log/slog"
	"strings"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

// Review priorities.
const (
	ReviewUrgent = "urgent"
	ReviewHigh   = "high"
	ReviewMedium = "medium"
	ReviewLow    = "low"
)

// SafetyChecker looks for critical findings and decides when an answer needs
// a clinician's review.
type SafetyChecker struct {
	cfg    config.SafetyChecksConfig
	logger *slog.Logger
}

// NewSafetyChecker creates a SafetyChecker.
func NewSafetyChecker(cfg config.SafetyChecksConfig, logger *slog.Logger) *SafetyChecker {
	if logger == nil {
		logger = discardLogger()
	}
	return &SafetyChecker{cfg: cfg, logger: logger}
}

// CheckCriticalFindings reports which configured critical terms occur in text.
func (s *SafetyChecker) CheckCriticalFindings(text string) domain.CriticalFindings {
	found := []string{}
	lower := strings.ToLower(text)
	for _, term := range s.cfg.CriticalFindings {
		if strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
			s.logger.Warn("critical finding detected", "finding", term)
		}
	}
	has := len(found) > 0
	return domain.CriticalFindings{
		HasCriticalFindings:        has,
		CriticalFindings:           found,
		RequiresImmediateAttention: has,
		EscalationRequired:         has,
	}
}

// RequiresHumanReview lists the reasons an answer should be reviewed.
func (s *SafetyChecker) RequiresHumanReview(confidence float64, emergency, critical, contradictions bool) domain.HumanReview {
	reasons := []string{}
	if confidence < s.cfg.HumanReviewRequired.ConfidenceBelow {
		reasons = append(reasons, fmt.Sprintf("Low confidence (%s)", FormatPercent(confidence)))
	}
	if emergency {
		reasons = append(reasons, "Emergency situation detected")
	}
	if critical {
		reasons = append(reasons, "Critical findings detected")
	}
	if contradictions {
		reasons = append(reasons, "Contradictory information found")
	}
	return domain.HumanReview{
		RequiresReview: len(reasons) > 0,
		Reasons:        reasons,
		Priority:       reviewPriority(emergency, critical, confidence),
	}
}

func reviewPriority(emergency, critical bool, confidence float64) string {
	switch {
	case emergency || critical:
		return ReviewUrgent
	case confidence < 0.5:
		return ReviewHigh
	case confidence < 0.65:
		return ReviewMedium
	default:
		return ReviewLow
	}
}

// CheckSafety combines the critical-finding scan with the review decision.
// An emergency answer that also mentions a critical finding is not safe to display.
func (s *SafetyChecker) CheckSafety(output string, confidence float64, emergency bool) domain.SafetyReport {
	critical := s.CheckCriticalFindings(output)
	review := s.RequiresHumanReview(confidence, emergency, critical.HasCriticalFindings, false)
	return domain.SafetyReport{
		SafeToDisplay:    !(emergency && critical.HasCriticalFindings),
		CriticalFindings: critical,
		HumanReview:      review,
		IsEmergency:      emergency,
		Confidence:       confidence,
	}
}
