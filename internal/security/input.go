package security

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

const (
	blockedContentWarning = "This system cannot provide medical prescriptions or treatment recommendations. " +
		"Please consult with a healthcare professional."
	piiWarning = "Potential personally identifiable information detected. " +
		"Please avoid sharing sensitive personal information."
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type piiMatcher struct {
	kind string
	re   *regexp.Regexp
}

// InputValidator screens user queries before any agent sees them.
type InputValidator struct {
	cfg    config.InputValidationConfig
	pii    []piiMatcher
	logger *slog.Logger
}

// NewInputValidator compiles the configured PII patterns.
func NewInputValidator(cfg config.InputValidationConfig, logger *slog.Logger) (*InputValidator, error) {
	if logger == nil {
		logger = discardLogger()
	}
	v := &InputValidator{cfg: cfg, logger: logger}
	for _, p := range cfg.PIIPatterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, domain.NewDomainError("NewInputValidator", domain.ErrInvalidInput,
				fmt.Sprintf("pii pattern %q: %v", p.Type, err))
		}
		kind := p.Type
		if kind == "" {
			kind = "unknown"
		}
		v.pii = append(v.pii, piiMatcher{kind: kind, re: re})
	}
	return v, nil
}

// ValidateQuery checks length, blocked content, emergency keywords and PII.
// Only length and blocked content make a query invalid.
func (v *InputValidator) ValidateQuery(query string) domain.InputReport {
	report := domain.InputReport{Issues: []string{}, Warnings: []string{}, PIITypes: []string{}}

	n := utf8.RuneCountInString(query)
	if n < v.cfg.MinQueryLength {
		report.Issues = append(report.Issues, fmt.Sprintf("Query too short (minimum %d characters)", v.cfg.MinQueryLength))
	}
	if n > v.cfg.MaxQueryLength {
		report.Issues = append(report.Issues, fmt.Sprintf("Query too long (maximum %d characters)", v.cfg.MaxQueryLength))
	}

	lower := strings.ToLower(query)
	for _, p := range v.cfg.BlockedPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			report.Issues = append(report.Issues, fmt.Sprintf("Query contains blocked content: '%s'", p))
			report.Warnings = append(report.Warnings, blockedContentWarning)
		}
	}

	report.IsEmergency = v.DetectEmergency(query)

	for _, m := range v.pii {
		if m.re.MatchString(query) {
			report.PIITypes = append(report.PIITypes, m.kind)
			v.logger.Warn("pii detected", "type", m.kind)
		}
	}
	if len(report.PIITypes) > 0 {
		report.PIIDetected = true
		report.Warnings = append(report.Warnings, piiWarning)
	}

	report.Valid = len(report.Issues) == 0
	return report
}

// DetectEmergency reports whether any emergency keyword occurs in text.
func (v *InputValidator) DetectEmergency(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range v.cfg.EmergencyKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			v.logger.Warn("emergency keyword detected", "keyword", kw)
			return true
		}
	}
	return false
}

// SanitizeQuery replaces PII matches with [TYPE_REDACTED].
func (v *InputValidator) SanitizeQuery(query string) string {
	for _, m := range v.pii {
		query = m.re.ReplaceAllLiteralString(query, "["+strings.ToUpper(m.kind)+"_REDACTED]")
	}
	return query
}
