package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/infra/tracer"
	"medsight/internal/security"
	"medsight/internal/usecase/multiagent"
)

const (
	defaultReflexionThreshold = 0.85
	lowConfidence             = 0.65
	briefAnswerLength         = 50
	singleSourceConfidence    = 0.75
)

// Request is one user turn handed to the orchestrator.
type Request struct {
	Query       string
	PatientData *domain.PatientData
	History     []domain.Message
	SessionID   string
	UserID      string
}

// OrchestratorDeps holds the collaborators of an Orchestrator. Nil agents
// and guardrails are replaced with defaults built from the default
// guardrail policy. ImageAnalyzer and RecordParser have no model provider
// when defaulted. A nil Config means the default orchestrator settings.
type OrchestratorDeps struct {
	Router        *multiagent.Runner[domain.RoutingInput]
	ImageAnalyzer *multiagent.Runner[domain.ImageInput]
	RecordParser  *multiagent.Runner[*domain.MedicalRecord]
	Synthesis     *multiagent.Runner[domain.SynthesisInput]
	QA            *multiagent.Runner[domain.QAInput]

	Input      *security.InputValidator
	Output     *security.OutputValidator
	Safety     *security.SafetyChecker
	Compliance *security.ComplianceChecker // optional

	Config *config.OrchestratorConfig
	Logger *slog.Logger
}

// Orchestrator validates a request, routes it to the specialist agents,
// then reviews, safety-checks and formats their answer.
type Orchestrator struct {
	router        *multiagent.Runner[domain.RoutingInput]
	imageAnalyzer *multiagent.Runner[domain.ImageInput]
	recordParser  *multiagent.Runner[*domain.MedicalRecord]
	synthesis     *multiagent.Runner[domain.SynthesisInput]
	qa            *multiagent.Runner[domain.QAInput]

	input      *security.InputValidator
	output     *security.OutputValidator
	safety     *security.SafetyChecker
	compliance *security.ComplianceChecker

	cfg      config.OrchestratorConfig
	logger   *slog.Logger
	self     *multiagent.Runner[Request]
	registry *multiagent.Registry
}

// NewOrchestrator wires an Orchestrator from deps.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger()
	}
	g := config.DefaultGuardrails()

	o := &Orchestrator{
		router:        deps.Router,
		imageAnalyzer: deps.ImageAnalyzer,
		recordParser:  deps.RecordParser,
		synthesis:     deps.Synthesis,
		qa:            deps.QA,
		input:         deps.Input,
		output:        deps.Output,
		safety:        deps.Safety,
		compliance:    deps.Compliance,
		cfg:           config.Defaults().Agents.Orchestrator,
		logger:        logger,
		registry:      multiagent.NewRegistry(logger),
	}
	if deps.Config != nil {
		o.cfg = *deps.Config
	}
	if o.cfg.ReflexionThreshold <= 0 {
		o.cfg.ReflexionThreshold = defaultReflexionThreshold
	}

	if o.router == nil {
		o.router = multiagent.NewRunner[domain.RoutingInput](multiagent.NewRoutingAgent(logger), logger)
	}
	if o.imageAnalyzer == nil {
		agent := multiagent.NewImageAnalyzerAgent(nil, multiagent.ImageAnalyzerConfig{}, logger)
		o.imageAnalyzer = multiagent.NewRunner[domain.ImageInput](agent, logger)
	}
	if o.recordParser == nil {
		agent := multiagent.NewRecordParserAgent(nil, multiagent.RecordParserConfig{}, logger)
		o.recordParser = multiagent.NewRunner[*domain.MedicalRecord](agent, logger)
	}
	if o.synthesis == nil {
		o.synthesis = multiagent.NewRunner[domain.SynthesisInput](multiagent.NewSynthesisAgent(logger), logger)
	}
	if o.qa == nil {
		o.qa = multiagent.NewRunner[domain.QAInput](multiagent.NewQAAgent(logger), logger)
	}
	if o.input == nil {
		v, err := security.NewInputValidator(g.InputValidation, logger)
		if err != nil {
			return nil, fmt.Errorf("default input validator: %w", err)
		}
		o.input = v
	}
	if o.output == nil {
		o.output = security.NewOutputValidator(g.OutputValidation, g.Disclaimers)
	}
	if o.safety == nil {
		o.safety = security.NewSafetyChecker(g.SafetyChecks, logger)
	}

	o.self = multiagent.NewRunner[Request](o, logger)
	for _, src := range []multiagent.MetricsSource{
		o.self, o.router, o.imageAnalyzer, o.recordParser, o.synthesis, o.qa,
	} {
		if err := o.registry.Register(src); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) Name() string           { return "Orchestrator" }
func (o *Orchestrator) Type() domain.AgentType { return domain.AgentOrchestrator }

// ValidateInput accepts every request; query checks happen in Process so
// that their issues reach the caller.
func (o *Orchestrator) ValidateInput(Request) bool { return true }

// Run processes req through the orchestrator's own lifecycle runner, so
// its metrics appear alongside the specialist agents'.
func (o *Orchestrator) Run(ctx context.Context, req Request) domain.AgentResult {
	return o.self.Execute(ctx, req)
}

// AgentMetrics returns a snapshot for the orchestrator and every agent it
// drives.
func (o *Orchestrator) AgentMetrics() []domain.AgentMetrics { return o.registry.Metrics() }

// ResetMetrics zeroes all agent counters.
func (o *Orchestrator) ResetMetrics() { o.registry.ResetAll() }

// ImageAnalyzer returns the image analyzer runner.
func (o *Orchestrator) ImageAnalyzer() *multiagent.Runner[domain.ImageInput] { return o.imageAnalyzer }

// pass carries the per-request state through the pipeline.
type pass struct {
	req      Request
	accessed []string
}

func (p *pass) touch(id string) {
	if id != "" {
		p.accessed = append(p.accessed, id)
	}
}

// Process runs the full pipeline. It never returns an error; failures and
// panics become failed results.
func (o *Orchestrator) Process(ctx context.Context, req Request) (res domain.AgentResult, _ error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanOrchestratorProcess,
		trace.WithAttributes(
			tracer.StringAttr("session.id", req.SessionID),
			tracer.IntAttr("query.length", len([]rune(req.Query))),
		),
	)
	defer span.End()

	p := &pass{req: req}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panicked", "panic", r, "session_id", req.SessionID)
			res = domain.Failure(fmt.Sprintf("Orchestration failed: %v", r))
		}
		tracer.SetResult(span, res.Success, res.Confidence, res.Error)
		o.recordInteraction(ctx, p, res)
	}()

	res = o.process(ctx, p)
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, p *pass) domain.AgentResult {
	req := p.req

	report := o.input.ValidateQuery(req.Query)
	if !report.Valid {
		o.logger.Warn("input validation failed", "issues", len(report.Issues), "session_id", req.SessionID)
		return domain.Failure("Input validation failed: " + strings.Join(report.Issues, ", "))
	}
	if report.IsEmergency {
		o.logger.Warn("emergency detected", "session_id", req.SessionID)
		return emergencyResult()
	}

	routing := o.router.Execute(ctx, domain.RoutingInput{
		Query:        req.Query,
		HasImages:    req.PatientData.HasImages(),
		HasDocuments: req.PatientData.HasRecords(),
		HasHistory:   len(req.History) > 0,
	})
	if !routing.Success {
		return routing
	}
	outcome, ok := routing.Data.(*domain.RoutingOutcome)
	if !ok {
		return domain.Failure("Orchestration failed: routing returned no decision")
	}
	o.logger.Info("request routed",
		"request_type", outcome.RequestType,
		"agents", outcome.Routing.Agents,
		"multi_agent", outcome.Routing.MultiAgent,
		"session_id", req.SessionID,
	)

	var res domain.AgentResult
	if outcome.Routing.MultiAgent {
		res = o.multiAgent(ctx, p)
	} else {
		res = o.singleAgent(ctx, p, outcome.Routing.Agents)
	}
	if !res.Success {
		return withRequestType(res, outcome.RequestType)
	}

	ans := res.Data.(*domain.Answer)
	if o.cfg.EnableReflexion && res.Confidence < o.cfg.ReflexionThreshold {
		critique(ans, res.Confidence)
	}

	safety := o.safety.CheckSafety(ans.Answer, res.Confidence, false)
	ans.SafetyCheck = &safety

	ans.Answer = o.output.FormatMedicalOutput(ans.Answer, res.Confidence,
		disclaimerFor(outcome.RequestType), false, o.cfg.AddConfidence)
	return withRequestType(res, outcome.RequestType)
}

func emergencyResult() domain.AgentResult {
	res := domain.AgentResult{
		Success:    true,
		Data:       &domain.Answer{Answer: emergencyResponse},
		Confidence: 1.0,
		Metadata:   map[string]any{"is_emergency": true},
	}
	return withRequestType(res, domain.RequestEmergency)
}

func withRequestType(res domain.AgentResult, t domain.RequestType) domain.AgentResult {
	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	res.Metadata["request_type"] = string(t)
	return res
}

func (o *Orchestrator) singleAgent(ctx context.Context, p *pass, agents []domain.AgentType) domain.AgentResult {
	if len(agents) == 0 {
		return domain.Failure("No agent specified")
	}
	req := p.req
	name := agents[0]

	switch {
	case name == domain.AgentImageAnalyzer && req.PatientData.HasImages():
		img := req.PatientData.LatestImage()
		p.touch(img.ImageID)
		res := o.imageAnalyzer.Execute(ctx, domain.ImageInput{Image: img, Query: req.Query})
		if a, ok := res.Data.(*domain.ImageAnalysis); ok && res.Success {
			res.Data = &domain.Answer{Answer: FormatImageAnalysis(a), Details: a}
		}
		return res

	case name == domain.AgentRecordParser && req.PatientData.HasRecords():
		rec := req.PatientData.LatestRecord()
		p.touch(rec.RecordID)
		res := o.recordParser.Execute(ctx, rec)
		if r, ok := res.Data.(*domain.RecordExtraction); ok && res.Success {
			res.Data = &domain.Answer{Answer: FormatRecordExtraction(r), Details: r}
		}
		return res

	case name == domain.AgentQA:
		res := o.qa.Execute(ctx, domain.QAInput{Query: req.Query, History: req.History})
		if a, ok := res.Data.(*domain.QAAnswer); ok && res.Success {
			res.Data = &domain.Answer{Answer: a.Answer, Details: a}
		}
		return res
	}
	return domain.Failure(fmt.Sprintf("Agent '%s' not available or insufficient data", name))
}

// multiAgent runs the image analyzer and record parser on whatever is
// attached and merges what succeeded.
func (o *Orchestrator) multiAgent(ctx context.Context, p *pass) domain.AgentResult {
	req := p.req
	in := domain.SynthesisInput{Query: req.Query}
	var last domain.AgentResult

	if img := req.PatientData.LatestImage(); img != nil {
		p.touch(img.ImageID)
		res := o.imageAnalyzer.Execute(ctx, domain.ImageInput{Image: img, Query: req.Query})
		if a, ok := res.Data.(*domain.ImageAnalysis); ok && res.Success {
			in.ImageFindings = a
			last = res
		}
	}
	if rec := req.PatientData.LatestRecord(); rec != nil {
		p.touch(rec.RecordID)
		res := o.recordParser.Execute(ctx, rec)
		if r, ok := res.Data.(*domain.RecordExtraction); ok && res.Success {
			in.RecordData = r
			last = res
		}
	}

	switch in.Count() {
	case 0:
		return domain.Failure("Insufficient data for multi-agent analysis")
	case 1:
		res := domain.AgentResult{
			Success:    true,
			Confidence: singleSourceConfidence,
			Metadata:   last.Metadata,
			Sources:    last.Sources,
			Timestamp:  last.Timestamp,
		}
		if in.ImageFindings != nil {
			res.Data = &domain.Answer{Answer: in.ImageFindings.Summary, Details: in.ImageFindings}
		} else {
			res.Data = &domain.Answer{Answer: in.RecordData.Summary, Details: in.RecordData}
		}
		return res
	}

	res := o.synthesis.Execute(ctx, in)
	if r, ok := res.Data.(*domain.SynthesisReport); ok && res.Success {
		res.Data = &domain.Answer{Answer: r.ComprehensiveReport, Details: r}
	}
	return res
}

// critique reviews an answer and appends a caution when it looks weak.
// It never regenerates content.
func critique(ans *domain.Answer, confidence float64) {
	var issues []string
	if confidence < lowConfidence {
		issues = append(issues, "Low confidence score")
	}
	if len([]rune(ans.Answer)) < briefAnswerLength {
		issues = append(issues, "Response may be too brief")
	}
	if len(issues) == 0 {
		return
	}
	ans.Answer += reflexionNote
	ans.RefinementNotes = issues
}

func disclaimerFor(t domain.RequestType) security.DisclaimerType {
	switch t {
	case domain.RequestImageAnalysis:
		return security.DisclaimerDiagnostic
	case domain.RequestEmergency:
		return security.DisclaimerEmergency
	default:
		return security.DisclaimerGeneral
	}
}

func (o *Orchestrator) recordInteraction(ctx context.Context, p *pass, res domain.AgentResult) {
	if o.compliance == nil {
		return
	}
	outcome := "failure"
	switch {
	case res.Metadata["is_emergency"] == true:
		outcome = "emergency"
	case res.Success:
		outcome = "success"
	}
	if _, err := o.compliance.LogInteraction(ctx, p.req.SessionID, p.req.UserID, "orchestrate", p.accessed, outcome); err != nil {
		o.logger.Warn("compliance logging failed", "error", err, "session_id", p.req.SessionID)
	}
}
