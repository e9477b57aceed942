package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"medsight/internal/domain"
)

func TestFormatImageAnalysis(t *testing.T) {
	a := &domain.ImageAnalysis{
		Summary: "Right lower lobe opacity.",
		DetailedFindings: []domain.Finding{
			{Finding: "f1"}, {Finding: "f2"}, {Finding: "f3"}, {Finding: "f4"}, {Finding: "f5"}, {Finding: "f6"},
		},
		Abnormalities: []domain.Abnormality{{Description: "opacity"}},
	}
	want := "**IMAGING ANALYSIS**\n\nRight lower lobe opacity.\n\n" +
		"**Detailed Findings:**\n- f1\n- f2\n- f3\n- f4\n- f5\n" +
		"\n**Abnormalities Detected:**\n- opacity\n"
	assert.Equal(t, want, FormatImageAnalysis(a))
}

func TestFormatImageAnalysis_SummaryOnly(t *testing.T) {
	assert.Equal(t, "**IMAGING ANALYSIS**\n\nNormal.\n\n",
		FormatImageAnalysis(&domain.ImageAnalysis{Summary: "Normal."}))
}

func TestFormatRecordExtraction(t *testing.T) {
	tests := []struct {
		name string
		in   *domain.RecordExtraction
		want string
	}{
		{
			name: "structured",
			in: &domain.RecordExtraction{
				Summary:     "Diagnoses: asthma",
				Diagnoses:   []string{"asthma"},
				Medications: []string{"albuterol", "fluticasone"},
			},
			want: "**MEDICAL RECORD ANALYSIS**\n\nDiagnoses: asthma\n\n" +
				"**Documented Diagnoses:**\n- asthma\n\n" +
				"**Current Medications:**\n- albuterol\n- fluticasone\n\n",
		},
		{
			name: "dates fallback sorted",
			in: &domain.RecordExtraction{
				Summary: noStructuredInfo,
				Dates:   []string{"05/01/2024", "01/02/2023"},
				Entities: []domain.MedicalEntity{
					{EntityType: "medication", Text: "ignored"},
				},
			},
			want: "**MEDICAL RECORD ANALYSIS**\n\n" +
				"**Key Dates Mentioned:**\n- 01/02/2023\n- 05/01/2024\n\n",
		},
		{
			name: "entities fallback skips duplicates",
			in: &domain.RecordExtraction{
				Summary: noStructuredInfo,
				Entities: []domain.MedicalEntity{
					{EntityType: "vital_sign", Text: "BP 120/80"},
					{EntityType: "vital_sign", Text: "BP 120/80"},
					{EntityType: "lab_value", Text: ""},
					{EntityType: "lab_value", Text: "HbA1c 6.1"},
				},
			},
			want: "**MEDICAL RECORD ANALYSIS**\n\n" +
				"**Extracted Entities:**\n- vital_sign: BP 120/80\n- lab_value: HbA1c 6.1\n\n",
		},
		{
			name: "narrative only",
			in:   &domain.RecordExtraction{Summary: noStructuredInfo},
			want: "**MEDICAL RECORD ANALYSIS**\n\n" + narrativeOnly,
		},
		{
			name: "model summary without lists",
			in:   &domain.RecordExtraction{Summary: "Routine visit."},
			want: "**MEDICAL RECORD ANALYSIS**\n\nRoutine visit.\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRecordExtraction(tt.in))
		})
	}
}

func TestCritique(t *testing.T) {
	long := "This answer is comfortably longer than fifty characters in total."

	ans := &domain.Answer{Answer: long}
	critique(ans, 0.7)
	assert.Equal(t, long, ans.Answer)
	assert.Empty(t, ans.RefinementNotes)

	ans = &domain.Answer{Answer: "Short."}
	critique(ans, 0.5)
	assert.Equal(t, "Short."+reflexionNote, ans.Answer)
	assert.Equal(t, []string{"Low confidence score", "Response may be too brief"}, ans.RefinementNotes)
}

func TestDisclaimerFor(t *testing.T) {
	assert.Equal(t, "diagnostic", string(disclaimerFor(domain.RequestImageAnalysis)))
	assert.Equal(t, "emergency", string(disclaimerFor(domain.RequestEmergency)))
	assert.Equal(t, "general", string(disclaimerFor(domain.RequestComprehensiveReview)))
	assert.Equal(t, "general", string(disclaimerFor(domain.RequestUnknown)))
}
