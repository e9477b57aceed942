package multiagent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsight/internal/domain"
)

const structuredNote = "Diagnosis: Community acquired pneumonia\n" +
	"Medications: Amoxicillin 500mg, Ibuprofen\n" +
	"Procedure: Chest X-ray on 03/15/2024\n" +
	"Follow up 03/15/2024 and 04/01/2024."

const narrativeNote = "Patient has a history of hypertension, and was started on lisinopril. " +
	"The biopsy was performed by Dr. Smith. He underwent appendectomy. " +
	"Dr. Lee performed bronchoscopy."

func record(content string) *domain.MedicalRecord {
	return &domain.MedicalRecord{RecordID: "rec-1", Content: content}
}

func TestExtractStructured(t *testing.T) {
	assert.Equal(t, []string{"Community acquired pneumonia"}, ExtractDiagnoses(structuredNote))
	assert.Equal(t, []string{"Amoxicillin 500mg", "Ibuprofen"}, ExtractMedications(structuredNote))
	assert.Equal(t, []string{"Chest X-ray on 03/15/2024"}, ExtractProcedures(structuredNote))
	assert.Equal(t, []string{"03/15/2024", "04/01/2024"}, ExtractDates(structuredNote))
}

func TestExtractNarrative(t *testing.T) {
	assert.Equal(t, []string{"hypertension"}, ExtractDiagnoses(narrativeNote))
	assert.Equal(t, []string{"lisinopril"}, ExtractMedications(narrativeNote))
	// "performed by" is skipped, "performed bronchoscopy" is kept.
	assert.Equal(t, []string{"appendectomy", "bronchoscopy"}, ExtractProcedures(narrativeNote))
}

func TestExtractRejectsNoise(t *testing.T) {
	assert.Empty(t, ExtractDiagnoses("Diagnosis: the patient is fine"))
	assert.Empty(t, ExtractDiagnoses("Assessment: review of systems"))
	assert.Empty(t, ExtractDiagnoses("Diagnosis: ok"))
}

func TestExtractEntities(t *testing.T) {
	entities := ExtractEntities(structuredNote)

	counts := map[string]int{}
	for _, e := range entities {
		counts[e.EntityType]++
		assert.InDelta(t, 0.7, e.Confidence, 1e-9)
		assert.Less(t, e.StartPos, e.EndPos)
	}
	assert.Equal(t, 1, counts["diagnosis"])
	assert.Equal(t, 1, counts["procedure"])
	assert.Equal(t, 3, counts["date"])
	assert.Equal(t, "Community acquired pneumonia", entities[0].Text)
}

func TestDedupePreservesOrder(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, dedupe(nil))
}

func TestRecordParser_RegexOnly(t *testing.T) {
	agent := NewRecordParserAgent(nil, RecordParserConfig{}, nil)
	res := NewRunner[*domain.MedicalRecord](agent, nil).Execute(context.Background(), record(structuredNote))

	require.True(t, res.Success)
	out := res.Data.(*domain.RecordExtraction)
	assert.Equal(t, "Diagnoses: Community acquired pneumonia | Medications: Amoxicillin 500mg, Ibuprofen | Procedures: Chest X-ray on 03/15/2024", out.Summary)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, false, res.Metadata["llm_used"])
	assert.Equal(t, len(structuredNote), res.Metadata["content_length"])
	assert.Equal(t, []string{"Regex Parser", "gemini-2.5-flash-lite"}, res.Sources)
}

func TestRecordParser_EmptyContent(t *testing.T) {
	res, err := NewRecordParserAgent(nil, RecordParserConfig{}, nil).Process(context.Background(), record("nothing here"))
	require.NoError(t, err)
	out := res.Data.(*domain.RecordExtraction)
	assert.Equal(t, noStructuredSummary, out.Summary)
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)
	assert.Empty(t, out.Entities)
}

func TestRecordParser_RejectsNilRecord(t *testing.T) {
	res := NewRunner[*domain.MedicalRecord](NewRecordParserAgent(nil, RecordParserConfig{}, nil), nil).
		Execute(context.Background(), nil)
	assert.Equal(t, "Invalid input data", res.Error)
}

func TestRecordParser_ModelMerge(t *testing.T) {
	reply := "```json\n" + `{
  "diagnoses": ["Community acquired pneumonia", "Sepsis"],
  "medications": ["Ceftriaxone"],
  "summary": "Pneumonia treated with antibiotics.",
  "critical_flags": ["sepsis risk"],
  "analysis_notes": "Monitor closely"
}` + "\n```"
	llm := &mockLLM{results: []llmResult{{content: reply}}}
	agent := NewRecordParserAgent(llm, RecordParserConfig{Model: "gemini-test"}, nil)

	res, err := agent.Process(context.Background(), record("Diagnosis: Community acquired pneumonia\nNo dates recorded"))
	require.NoError(t, err)
	require.True(t, res.Success)

	out := res.Data.(*domain.RecordExtraction)
	assert.Equal(t, []string{"Community acquired pneumonia", "Sepsis"}, out.Diagnoses)
	assert.Equal(t, []string{"Ceftriaxone"}, out.Medications)
	assert.Equal(t, "Pneumonia treated with antibiotics.", out.Summary)
	assert.Equal(t, []string{"sepsis risk"}, out.CriticalFlags)
	assert.Equal(t, "Monitor closely", out.AnalysisNotes)
	assert.Empty(t, out.Dates)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.Equal(t, true, res.Metadata["llm_used"])
	assert.Equal(t, []string{"Regex Parser", "gemini-test"}, res.Sources)

	require.Len(t, llm.requests, 1)
	assert.True(t, llm.requests[0].JSONMode)
	assert.Equal(t, "gemini-test", llm.requests[0].Model)
}

func TestRecordParser_ModelFallback(t *testing.T) {
	tests := []struct {
		name   string
		result llmResult
	}{
		{"provider error", llmResult{err: errors.New("quota exceeded")}},
		{"invalid json", llmResult{content: "I could not parse this."}},
		{"schema mismatch", llmResult{content: `{"diagnoses": "pneumonia"}`}},
		{"empty reply", llmResult{content: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockLLM{results: []llmResult{tt.result}}
			res, err := NewRecordParserAgent(llm, RecordParserConfig{}, nil).
				Process(context.Background(), record(structuredNote))
			require.NoError(t, err)
			require.True(t, res.Success)
			assert.Equal(t, false, res.Metadata["llm_used"])
			assert.True(t, strings.HasPrefix(res.Data.(*domain.RecordExtraction).Summary, "Diagnoses: "))
		})
	}
}

func TestRecordParser_TruncatesModelInput(t *testing.T) {
	llm := &mockLLM{results: []llmResult{{content: `{}`}}}
	long := strings.Repeat("x", maxModelInputChars+500)

	_, err := NewRecordParserAgent(llm, RecordParserConfig{}, nil).Process(context.Background(), record(long))
	require.NoError(t, err)
	prompt := llm.requests[0].Messages[0].Content
	assert.NotContains(t, prompt, strings.Repeat("x", maxModelInputChars+1))
	assert.Contains(t, prompt, strings.Repeat("x", maxModelInputChars))
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`  {"a":1}  `))
}
