package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/security"
	"medsight/internal/usecase/multiagent"
)

// --- Mocks ---

// scriptedLLM answers every chat with the same reply and counts calls.
type scriptedLLM struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (m *scriptedLLM) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &domain.ChatResponse{Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: m.reply}}, nil
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

const chestXRayReply = `SUMMARY: Clear lungs.
No acute process.
ANATOMICAL STRUCTURES:
- Lungs
FINDINGS:
No consolidation.
- Sharp costophrenic angles
ABNORMALITIES:
None detected
RECOMMENDATIONS:
- Routine follow-up`

func chestXRay() *domain.MedicalImage {
	return &domain.MedicalImage{
		ImageID:   "img-1",
		ImageType: domain.ImageXRay,
		ImageData: "aGVsbG8=",
		Width:     1024,
		Height:    1024,
		Grayscale: true,
	}
}

func clinicalNote() *domain.MedicalRecord {
	return &domain.MedicalRecord{
		RecordID:       "rec-1",
		RecordType:     domain.RecordClinicalNote,
		DocumentFormat: domain.FormatText,
		Content:        "Diagnosis: community acquired pneumonia\nMedications: amoxicillin 500mg\nFollow up on 03/14/2024.",
	}
}

func newTestOrchestrator(t *testing.T, llm domain.LLMProvider, mutate func(*OrchestratorDeps)) *Orchestrator {
	t.Helper()
	image := multiagent.NewImageAnalyzerAgent(llm, multiagent.ImageAnalyzerConfig{Model: "medgemma"}, nil)
	deps := OrchestratorDeps{
		ImageAnalyzer: multiagent.NewRunner[domain.ImageInput](image, nil),
		Config:        &config.OrchestratorConfig{EnableReflexion: true, AddConfidence: true},
	}
	if mutate != nil {
		mutate(&deps)
	}
	o, err := NewOrchestrator(deps)
	require.NoError(t, err)
	return o
}

func patientWith(img *domain.MedicalImage, rec *domain.MedicalRecord) *domain.PatientData {
	pd := domain.NewPatientData("patient-1")
	if img != nil {
		pd.AddImage(img)
	}
	if rec != nil {
		pd.AddRecord(rec)
	}
	return pd
}

func answerOf(t *testing.T, res domain.AgentResult) *domain.Answer {
	t.Helper()
	ans, ok := res.Data.(*domain.Answer)
	require.True(t, ok, "data is %T", res.Data)
	return ans
}

// --- End-to-end scenarios ---

func TestOrchestrator_ImageQuery(t *testing.T) {
	llm := &scriptedLLM{reply: chestXRayReply}
	o := newTestOrchestrator(t, llm, nil)

	res := o.Run(context.Background(), Request{
		Query:       "What do you see in this scan?",
		PatientData: patientWith(chestXRay(), nil),
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, llm.Calls())
	assert.Equal(t, "image_analysis", res.Metadata["request_type"])
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)

	g := config.DefaultGuardrails()
	ans := answerOf(t, res)
	assert.True(t, strings.HasPrefix(ans.Answer, g.Disclaimers.Diagnostic+"\n\n**IMAGING ANALYSIS**\n\nClear lungs. No acute process."))
	assert.Contains(t, ans.Answer, "**Detailed Findings:**\n- No consolidation.\n")
	assert.True(t, strings.HasSuffix(ans.Answer, "🟢 **Confidence Level**: HIGH (95.00%)"))
	assert.Empty(t, ans.RefinementNotes)
	require.NotNil(t, ans.SafetyCheck)
	assert.True(t, ans.SafetyCheck.SafeToDisplay)
	assert.IsType(t, &domain.ImageAnalysis{}, ans.Details)
}

func TestOrchestrator_EmergencyShortCircuit(t *testing.T) {
	llm := &scriptedLLM{reply: chestXRayReply}
	o := newTestOrchestrator(t, llm, nil)

	res := o.Run(context.Background(), Request{
		Query:       "I have severe chest pain",
		PatientData: patientWith(chestXRay(), nil),
	})

	require.True(t, res.Success)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, true, res.Metadata["is_emergency"])
	assert.Equal(t, emergencyResponse, answerOf(t, res).Answer)
	assert.Contains(t, answerOf(t, res).Answer, "EMERGENCY DETECTED")
	assert.Zero(t, llm.Calls())

	for _, m := range o.AgentMetrics() {
		if m.AgentName == "Orchestrator" {
			assert.Equal(t, 1, m.TotalRequests)
			continue
		}
		assert.Zero(t, m.TotalRequests, m.AgentName)
	}
}

func TestOrchestrator_ComprehensiveReview(t *testing.T) {
	llm := &scriptedLLM{reply: chestXRayReply}
	o := newTestOrchestrator(t, llm, nil)

	res := o.Run(context.Background(), Request{
		Query:       "Give me a comprehensive review",
		PatientData: patientWith(chestXRay(), clinicalNote()),
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "comprehensive_review", res.Metadata["request_type"])

	ans := answerOf(t, res)
	report, ok := ans.Details.(*domain.SynthesisReport)
	require.True(t, ok)
	assert.Contains(t, ans.Answer, report.ComprehensiveReport)
	assert.Contains(t, report.ComprehensiveReport, "**Imaging Findings:**\nClear lungs. No acute process.")
	assert.Contains(t, report.ComprehensiveReport, "**Clinical History:**")
	assert.True(t, strings.HasPrefix(ans.Answer, config.DefaultGuardrails().Disclaimers.General))

	byName := map[string]domain.AgentMetrics{}
	for _, m := range o.AgentMetrics() {
		byName[m.AgentName] = m
	}
	assert.Equal(t, 1, byName["ImageAnalyzerAgent"].SuccessfulRequests)
	assert.Equal(t, 1, byName["RecordParserAgent"].SuccessfulRequests)
	assert.Equal(t, 1, byName["SynthesisAgent"].SuccessfulRequests)
	assert.Zero(t, byName["QAAgent"].TotalRequests)
}

// --- Workflow branches ---

func TestOrchestrator_InputValidationFailure(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)

	res := o.Run(context.Background(), Request{Query: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "Input validation failed: Query too short (minimum 3 characters)", res.Error)

	res = o.Run(context.Background(), Request{Query: "Please prescribe something"})
	assert.False(t, res.Success)
	assert.Equal(t, "Input validation failed: Query contains blocked content: 'prescribe'", res.Error)
}

func TestOrchestrator_SingleAgentMissingData(t *testing.T) {
	llm := &scriptedLLM{reply: chestXRayReply}
	o := newTestOrchestrator(t, llm, nil)

	res := o.Run(context.Background(), Request{Query: "What do you see in this scan?"})
	assert.False(t, res.Success)
	assert.Equal(t, "Agent 'image_analyzer' not available or insufficient data", res.Error)
	assert.Equal(t, "image_analysis", res.Metadata["request_type"])
	assert.Zero(t, llm.Calls())
}

func TestOrchestrator_RoutedEmergencyHasNoHandler(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)

	res := o.Run(context.Background(), Request{Query: "This is urgent, please help"})
	assert.False(t, res.Success)
	assert.Equal(t, "Agent 'emergency_handler' not available or insufficient data", res.Error)
	assert.Equal(t, "emergency", res.Metadata["request_type"])
}

func TestOrchestrator_MultiAgentWithoutData(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)

	res := o.Run(context.Background(), Request{Query: "Give me a comprehensive review"})
	assert.False(t, res.Success)
	assert.Equal(t, "Insufficient data for multi-agent analysis", res.Error)
}

func TestOrchestrator_MultiAgentSingleSource(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{reply: chestXRayReply}, nil)

	res := o.Run(context.Background(), Request{
		Query:       "Give me a comprehensive review",
		PatientData: patientWith(chestXRay(), nil),
	})

	require.True(t, res.Success, res.Error)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	ans := answerOf(t, res)
	// The bare summary is short, so reflexion appends its note.
	assert.Equal(t, []string{"Response may be too brief"}, ans.RefinementNotes)
	assert.Contains(t, ans.Answer, "Clear lungs. No acute process."+reflexionNote)
	assert.True(t, strings.HasSuffix(ans.Answer, "🟡 **Confidence Level**: MEDIUM (75.00%)"))
}

func TestOrchestrator_QAFallback(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)

	res := o.Run(context.Background(), Request{Query: "hello there"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "unknown", res.Metadata["request_type"])
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)

	g := config.DefaultGuardrails()
	ans := answerOf(t, res)
	assert.Equal(t, []string{"Low confidence score"}, ans.RefinementNotes)
	assert.Contains(t, ans.Answer, g.Disclaimers.Limitation)
	assert.Contains(t, ans.Answer, reflexionNote)
	require.NotNil(t, ans.SafetyCheck)
	assert.True(t, ans.SafetyCheck.HumanReview.RequiresReview)
}

func TestOrchestrator_ReflexionDisabled(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, func(d *OrchestratorDeps) {
		d.Config = &config.OrchestratorConfig{EnableReflexion: false}
	})

	res := o.Run(context.Background(), Request{Query: "hello there"})
	require.True(t, res.Success)
	ans := answerOf(t, res)
	assert.Empty(t, ans.RefinementNotes)
	assert.NotContains(t, ans.Answer, reflexionNote)
	assert.NotContains(t, ans.Answer, "Confidence Level")
}

// briefImageAgent returns a one-line analysis with a fixed confidence.
type briefImageAgent struct{ confidence float64 }

func (a briefImageAgent) Name() string                            { return "BriefImageAgent" }
func (a briefImageAgent) Type() domain.AgentType                  { return domain.AgentImageAnalyzer }
func (a briefImageAgent) ValidateInput(in domain.ImageInput) bool { return in.Image != nil }

func (a briefImageAgent) Process(context.Context, domain.ImageInput) (domain.AgentResult, error) {
	return domain.AgentResult{
		Success:    true,
		Data:       &domain.ImageAnalysis{Summary: "Ok."},
		Confidence: a.confidence,
	}, nil
}

func TestOrchestrator_ReflexionThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantNotes  []string
	}{
		{"at threshold", 0.85, nil},
		{"above threshold", 0.9, nil},
		{"just below threshold", 0.84, []string{"Response may be too brief"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, nil, func(d *OrchestratorDeps) {
				d.ImageAnalyzer = multiagent.NewRunner[domain.ImageInput](briefImageAgent{confidence: tt.confidence}, nil)
			})

			res := o.Run(context.Background(), Request{
				Query:       "What do you see in this scan?",
				PatientData: patientWith(chestXRay(), nil),
			})

			require.True(t, res.Success, res.Error)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
			ans := answerOf(t, res)
			assert.Equal(t, tt.wantNotes, ans.RefinementNotes)
			if tt.wantNotes == nil {
				assert.NotContains(t, ans.Answer, reflexionNote)
			} else {
				assert.Contains(t, ans.Answer, reflexionNote)
			}
		})
	}
}

func TestOrchestrator_NilConfigUsesDefaults(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, func(d *OrchestratorDeps) {
		d.Config = nil
	})

	res := o.Run(context.Background(), Request{Query: "hello there"})
	require.True(t, res.Success, res.Error)
	ans := answerOf(t, res)
	assert.Equal(t, []string{"Low confidence score"}, ans.RefinementNotes)
	assert.Contains(t, ans.Answer, reflexionNote)
	assert.Contains(t, ans.Answer, "Confidence Level")
}

func TestOrchestrator_RecoversPanics(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)

	// A nil image slot makes the workflow dereference nil.
	pd := domain.NewPatientData("p")
	pd.Images = []*domain.MedicalImage{nil}

	res := o.Run(context.Background(), Request{Query: "What do you see in this scan?", PatientData: pd})
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Orchestration failed: "), res.Error)
}

func TestOrchestrator_LogsInteractions(t *testing.T) {
	compliance := security.NewComplianceChecker(config.DefaultGuardrails().Compliance, nil, nil)
	o := newTestOrchestrator(t, &scriptedLLM{reply: chestXRayReply}, func(d *OrchestratorDeps) {
		d.Compliance = compliance
	})

	o.Run(context.Background(), Request{
		Query:       "What do you see in this scan?",
		PatientData: patientWith(chestXRay(), nil),
		SessionID:   "s-1",
		UserID:      "alice",
	})
	o.Run(context.Background(), Request{Query: "I have severe chest pain", SessionID: "s-1"})

	log := compliance.AuditLog("s-1")
	require.Len(t, log, 2)
	assert.Equal(t, "orchestrate", log[0].Action)
	assert.Equal(t, []string{"img-1"}, log[0].DataAccessed)
	assert.Equal(t, "success", log[0].Result)
	assert.Equal(t, security.HashIdentifier("alice"), log[0].UserID)
	assert.Equal(t, "emergency", log[1].Result)
}

func TestOrchestrator_ResetMetrics(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedLLM{}, nil)
	o.Run(context.Background(), Request{Query: "hello there"})
	o.ResetMetrics()
	for _, m := range o.AgentMetrics() {
		assert.Zero(t, m.TotalRequests, m.AgentName)
	}
}
