package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medsight/internal/domain"
)

// correlationTerms is the clinical vocabulary checked in both sources.
var correlationTerms = []string{"pneumonia", "fracture", "mass", "infiltrate", "consolidation"}

// SynthesisAgent combines image findings and record data into one report.
type SynthesisAgent struct {
	logger *slog.Logger
}

// NewSynthesisAgent creates a SynthesisAgent. A nil logger discards output.
func NewSynthesisAgent(logger *slog.Logger) *SynthesisAgent {
	if logger == nil {
		logger = discardLogger()
	}
	return &SynthesisAgent{logger: logger}
}

func (a *SynthesisAgent) Name() string           { return "SynthesisAgent" }
func (a *SynthesisAgent) Type() domain.AgentType { return domain.AgentSynthesis }

// ValidateInput requires at least one source.
func (a *SynthesisAgent) ValidateInput(in domain.SynthesisInput) bool {
	return in.Count() > 0
}

func (a *SynthesisAgent) Process(_ context.Context, in domain.SynthesisInput) (domain.AgentResult, error) {
	synthesis := synthesize(in)
	correlations := findCorrelations(in)
	discrepancies := findDiscrepancies(in)

	report := &domain.SynthesisReport{
		Synthesis:           synthesis,
		Correlations:        correlations,
		Discrepancies:       discrepancies,
		ComprehensiveReport: buildReport(synthesis, correlations, discrepancies),
	}
	a.logger.Debug("synthesis built",
		"correlations", len(correlations),
		"discrepancies", len(discrepancies),
	)

	return domain.AgentResult{
		Success:    true,
		Data:       report,
		Confidence: synthesisConfidence(in, correlations, discrepancies),
		Metadata:   map[string]any{"sources_count": in.Count()},
		Sources:    []string{"Image Analysis", "Medical Records"},
		Timestamp:  time.Now(),
	}, nil
}

func synthesize(in domain.SynthesisInput) string {
	var parts []string
	if in.ImageFindings != nil {
		parts = append(parts, "**Imaging Findings:**\n"+in.ImageFindings.Summary)
	}
	if in.RecordData != nil {
		parts = append(parts, "\n**Clinical History:**\n"+in.RecordData.Summary)
	}
	if in.ImageFindings != nil && in.RecordData != nil {
		parts = append(parts, "\n**Integrated Analysis:**\n"+integrate(in.ImageFindings, in.RecordData))
	}
	if len(parts) == 0 {
		return "Insufficient data for synthesis."
	}
	return strings.Join(parts, "\n")
}

func integrate(img *domain.ImageAnalysis, rec *domain.RecordExtraction) string {
	var parts []string
	if len(img.Abnormalities) > 0 && len(rec.Diagnoses) > 0 {
		parts = append(parts, "The imaging findings should be correlated with the documented clinical history.")
	}
	if len(rec.Medications) > 0 {
		parts = append(parts, "Current medications and treatment history should be considered when interpreting imaging findings.")
	}
	if len(parts) == 0 {
		return "Limited integration possible with available data."
	}
	return strings.Join(parts, " ")
}

// flatten renders a payload as lower-cased JSON for term matching.
func flatten(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}

func findCorrelations(in domain.SynthesisInput) []domain.Correlation {
	out := []domain.Correlation{}
	if in.ImageFindings == nil || in.RecordData == nil {
		return out
	}
	imageText := flatten(in.ImageFindings)
	recordText := flatten(in.RecordData)
	for _, term := range correlationTerms {
		if strings.Contains(imageText, term) && strings.Contains(recordText, term) {
			out = append(out, domain.Correlation{
				Finding:     term,
				Correlation: "confirmed",
				Description: fmt.Sprintf("%s noted in both imaging and clinical history", strings.ToUpper(term[:1])+term[1:]),
			})
		}
	}
	return out
}

func findDiscrepancies(in domain.SynthesisInput) []domain.Discrepancy {
	out := []domain.Discrepancy{}
	var imageSummary, recordSummary string
	if in.ImageFindings != nil {
		imageSummary = strings.ToLower(in.ImageFindings.Summary)
	}
	if in.RecordData != nil {
		recordSummary = strings.ToLower(in.RecordData.Summary)
	}
	if strings.Contains(imageSummary, "normal") && strings.Contains(recordSummary, "abnormal") {
		out = append(out, domain.Discrepancy{
			Type:           "finding_mismatch",
			Description:    "Imaging appears normal but clinical history suggests abnormality",
			RequiresReview: true,
		})
	}
	return out
}

func buildReport(synthesis string, correlations []domain.Correlation, discrepancies []domain.Discrepancy) string {
	parts := []string{synthesis}
	if len(correlations) > 0 {
		parts = append(parts, "\n**Correlations:**")
		for _, c := range correlations {
			parts = append(parts, "- "+c.Description)
		}
	}
	if len(discrepancies) > 0 {
		parts = append(parts, "\n**⚠️ Discrepancies Noted:**")
		for _, d := range discrepancies {
			parts = append(parts, "- "+d.Description)
		}
		parts = append(parts, "\n*These discrepancies require clinical correlation and review.*")
	}
	return strings.Join(parts, "\n")
}

func synthesisConfidence(in domain.SynthesisInput, correlations []domain.Correlation, discrepancies []domain.Discrepancy) float64 {
	c := 0.6
	if in.Count() == 2 {
		c += 0.15
	}
	c += 0.1 * float64(min(len(correlations), 2))
	c -= 0.1 * float64(len(discrepancies))
	return max(0.3, min(c, 0.9))
}
