package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/kaptinlin/jsonschema"

	"medsight/internal/domain"
)

const (
	noStructuredSummary = "No structured information extracted."
	maxModelInputChars  = 10000
)

// entityPatterns are applied in order to produce the raw entity list.
var entityPatterns = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"diagnosis", regexp.MustCompile(`(?i)(?:diagnosis|diagnosed with|impression):\s*([^\n]+)`)},
	{"medication", regexp.MustCompile(`(?i)(?:medication|prescribed|rx):\s*([^\n]+)`)},
	{"procedure", regexp.MustCompile(`(?i)(?:procedure|surgery|operation):\s*([^\n]+)`)},
	{"date", dateRe},
}

var dateRe = regexp.MustCompile(`(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)

var (
	diagnosisHeaderRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:diagnosis|impression|assessment):\s*([^\n.]+)`),
		regexp.MustCompile(`(?i)diagnosed with\s+([^\n.]+)`),
	}
	diagnosisNarrativeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhistory of\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\bdiagnosed with\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\bfound to have\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\bsuffers from\s+([a-z\s]+)(?:,|\.|and)`),
	}

	medicationHeaderRe     = regexp.MustCompile(`(?i)(?:medication|medications|prescribed|rx|treatment):\s*([^\n.]+)`)
	medicationNarrativeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bstarted on\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\bprescribed\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\btaking\s+([a-z\s]+)(?:,|\.|and)`),
	}

	procedureHeaderRe     = regexp.MustCompile(`(?i)(?:procedure|procedures|surgery|operation|plan):\s*([^\n.]+)`)
	procedureNarrativeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunderwent\s+([a-z\s]+)(?:,|\.|and)`),
		regexp.MustCompile(`(?i)\bscheduled for\s+([a-z\s]+)(?:,|\.|and)`),
	}
	// RE2 has no lookahead, so "performed" uses regexp2 to skip "performed by".
	performedRe = regexp2.MustCompile(`\bperformed\s+(?!by\b)([a-z\s]+)(?:,|\.|and)`, regexp2.IgnoreCase)
)

var invalidStarts = map[string]bool{
	"by": true, "the": true, "a": true, "in": true, "on": true,
	"at": true, "to": true, "list": true, "summary": true, "note": true,
}

var invalidPhrases = map[string]bool{
	"several different physicians":  true,
	"quite different circumstances": true,
	"markedly reduced risk":         true,
	"differential diagnosis list":   true,
	"no known allergies":            true,
	"review of systems":             true,
}

// recordReplySchema is the JSON shape requested from the model.
const recordReplySchema = `{
  "type": "object",
  "properties": {
    "diagnoses":      {"type": "array", "items": {"type": "string"}},
    "medications":    {"type": "array", "items": {"type": "string"}},
    "procedures":     {"type": "array", "items": {"type": "string"}},
    "summary":        {"type": "string"},
    "critical_flags": {"type": "array", "items": {"type": "string"}},
    "analysis_notes": {"type": "string"}
  }
}`

const recordPromptTemplate = `You are an expert medical AI assistant. Analyze the following medical record/report and extract structured information.

TEXT:
%s

INSTRUCTIONS:
1. Extract a clear list of CONFIRMED diagnoses. Ignore "rule out" or "suspected" unless stated otherwise.
2. Extract a list of CURRENT medications.
3. Extract any procedures performed or scheduled.
4. Provide a professional summary of the key findings (2-3 sentences).
5. Identify any critical red flags.

OUTPUT FORMAT (JSON ONLY):
{
    "diagnoses": ["list", "of", "strings"],
    "medications": ["list", "of", "strings"],
    "procedures": ["list", "of", "strings"],
    "summary": "Professional summary...",
    "critical_flags": ["list of flags"],
    "analysis_notes": "Any other relevant observations"
}`

// modelExtraction is the decoded model reply.
type modelExtraction struct {
	Diagnoses     []string `json:"diagnoses"`
	Medications   []string `json:"medications"`
	Procedures    []string `json:"procedures"`
	Summary       string   `json:"summary"`
	CriticalFlags []string `json:"critical_flags"`
	AnalysisNotes string   `json:"analysis_notes"`
}

// RecordParserConfig tunes the record parser.
type RecordParserConfig struct {
	Model string // model name reported in sources and sent to the provider
}

// RecordParserAgent extracts structured data from text records with regex
// heuristics, optionally augmented by a model reply in JSON.
type RecordParserAgent struct {
	provider domain.LLMProvider // optional
	cfg      RecordParserConfig
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// NewRecordParserAgent creates a RecordParserAgent. provider may be nil, in
// which case only regex extraction runs.
func NewRecordParserAgent(provider domain.LLMProvider, cfg RecordParserConfig, logger *slog.Logger) *RecordParserAgent {
	if logger == nil {
		logger = discardLogger()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-lite"
	}
	schema, err := jsonschema.NewCompiler().Compile([]byte(recordReplySchema))
	if err != nil {
		// The schema is a constant; failing here is a programming error.
		panic(fmt.Sprintf("compile record reply schema: %v", err))
	}
	return &RecordParserAgent{provider: provider, cfg: cfg, schema: schema, logger: logger}
}

func (a *RecordParserAgent) Name() string           { return "RecordParserAgent" }
func (a *RecordParserAgent) Type() domain.AgentType { return domain.AgentRecordParser }

func (a *RecordParserAgent) ValidateInput(rec *domain.MedicalRecord) bool {
	return rec != nil
}

func (a *RecordParserAgent) Process(ctx context.Context, rec *domain.MedicalRecord) (domain.AgentResult, error) {
	content := rec.Content

	entities := ExtractEntities(content)
	diagnoses := ExtractDiagnoses(content)
	medications := ExtractMedications(content)
	procedures := ExtractProcedures(content)
	dates := ExtractDates(content)
	a.logger.Debug("regex extraction",
		"record_id", rec.RecordID,
		"diagnoses", len(diagnoses),
		"medications", len(medications),
	)

	model, modelOK := a.analyzeWithModel(ctx, content)

	out := &domain.RecordExtraction{
		Entities:    entities,
		Diagnoses:   dedupe(append(diagnoses, model.Diagnoses...)),
		Medications: dedupe(append(medications, model.Medications...)),
		Procedures:  dedupe(append(procedures, model.Procedures...)),
		// Dates come from regex only.
		Dates:         dates,
		AnalysisNotes: model.AnalysisNotes,
		CriticalFlags: model.CriticalFlags,
	}
	if modelOK && model.Summary != "" {
		out.Summary = model.Summary
	} else {
		out.Summary = generateRecordSummary(out.Diagnoses, out.Medications, out.Procedures)
	}

	confidence := recordConfidence(out)
	if modelOK {
		confidence = max(confidence, 0.85)
	}

	return domain.AgentResult{
		Success:    true,
		Data:       out,
		Confidence: confidence,
		Metadata: map[string]any{
			"content_length": len(content),
			"regex_entities": len(entities),
			"llm_used":       modelOK,
		},
		Sources:   []string{"Regex Parser", a.cfg.Model},
		Timestamp: time.Now(),
	}, nil
}

// analyzeWithModel asks the model for a JSON extraction. Any failure is
// logged and reported as ok=false; it never fails the parse.
func (a *RecordParserAgent) analyzeWithModel(ctx context.Context, text string) (modelExtraction, bool) {
	var out modelExtraction
	if a.provider == nil {
		return out, false
	}

	if utf8.RuneCountInString(text) > maxModelInputChars {
		text = string([]rune(text)[:maxModelInputChars])
	}
	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model:    a.cfg.Model,
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: fmt.Sprintf(recordPromptTemplate, text)}},
		JSONMode: true,
	})
	if err != nil {
		a.logger.Error("record model analysis failed", "error", err)
		return out, false
	}

	raw := stripCodeFences(resp.Message.Content)
	if raw == "" {
		a.logger.Warn("empty response from record model")
		return out, false
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		a.logger.Error("record model returned invalid JSON", "error", err)
		return out, false
	}
	if result := a.schema.Validate(generic); !result.IsValid() {
		a.logger.Error("record model JSON did not match schema", "error", result.Error())
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		a.logger.Error("decode record model JSON", "error", err)
		return modelExtraction{}, false
	}
	return out, true
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the model wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractEntities returns every entity-pattern match in content.
func ExtractEntities(content string) []domain.MedicalEntity {
	entities := []domain.MedicalEntity{}
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(content, -1) {
			entities = append(entities, domain.MedicalEntity{
				EntityType: p.typ,
				Text:       strings.TrimSpace(content[loc[2]:loc[3]]),
				Confidence: 0.7,
				StartPos:   loc[0],
				EndPos:     loc[1],
			})
		}
	}
	return entities
}

func collect(content string, res []*regexp.Regexp, maxWords int, into []string) []string {
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if v := strings.TrimSpace(m[1]); isValidMedicalText(v, maxWords) {
				into = append(into, v)
			}
		}
	}
	return into
}

// ExtractDiagnoses applies header and narrative diagnosis patterns.
func ExtractDiagnoses(content string) []string {
	var out []string
	out = collect(content, diagnosisHeaderRes, 15, out)
	out = collect(content, diagnosisNarrativeRes, 15, out)
	return dedupe(out)
}

// ExtractMedications splits the first medication header on commas and adds
// short narrative mentions.
func ExtractMedications(content string) []string {
	var out []string
	if m := medicationHeaderRe.FindStringSubmatch(content); m != nil {
		for _, item := range strings.Split(strings.TrimSpace(m[1]), ",") {
			if v := strings.TrimSpace(item); isValidMedicalText(v, 15) {
				out = append(out, v)
			}
		}
	}
	out = collect(content, medicationNarrativeRes, 3, out)
	return dedupe(out)
}

// ExtractProcedures applies the first procedure header and narrative patterns.
func ExtractProcedures(content string) []string {
	var out []string
	if m := procedureHeaderRe.FindStringSubmatch(content); m != nil {
		if v := strings.TrimSpace(m[1]); isValidMedicalText(v, 15) {
			out = append(out, v)
		}
	}
	out = collect(content, procedureNarrativeRes, 15, out)

	m, err := performedRe.FindStringMatch(content)
	for err == nil && m != nil {
		if v := strings.TrimSpace(m.GroupByNumber(1).String()); isValidMedicalText(v, 15) {
			out = append(out, v)
		}
		m, err = performedRe.FindNextMatch(m)
	}
	return dedupe(out)
}

// ExtractDates returns distinct numeric dates in order of appearance.
func ExtractDates(content string) []string {
	var out []string
	for _, m := range dateRe.FindAllStringSubmatch(content, -1) {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func isValidMedicalText(text string, maxWords int) bool {
	n := utf8.RuneCountInString(text)
	if n < 3 || n > 100 {
		return false
	}
	words := strings.Fields(text)
	if len(words) > maxWords {
		return false
	}
	if invalidStarts[strings.ToLower(words[0])] {
		return false
	}
	return !invalidPhrases[strings.ToLower(text)]
}

// dedupe removes exact duplicates, keeping first occurrences in order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func generateRecordSummary(diagnoses, medications, procedures []string) string {
	var parts []string
	if len(diagnoses) > 0 {
		parts = append(parts, "Diagnoses: "+strings.Join(diagnoses[:min(5, len(diagnoses))], ", "))
	}
	if len(medications) > 0 {
		parts = append(parts, "Medications: "+strings.Join(medications[:min(5, len(medications))], ", "))
	}
	if len(procedures) > 0 {
		parts = append(parts, "Procedures: "+strings.Join(procedures[:min(5, len(procedures))], ", "))
	}
	if len(parts) == 0 {
		return noStructuredSummary
	}
	return strings.Join(parts, " | ")
}

func recordConfidence(r *domain.RecordExtraction) float64 {
	score := 0.0
	if len(r.Diagnoses) > 0 {
		score += 0.2
	}
	if len(r.Medications) > 0 {
		score += 0.2
	}
	if len(r.Procedures) > 0 {
		score += 0.1
	}
	if len(r.Dates) > 0 {
		score += 0.1
	}
	if score > 0 {
		return min(0.5+score, 0.95)
	}
	return 0.4
}
