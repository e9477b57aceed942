package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateModel(cfg, ve)
	validateAgents(cfg, ve)
	validateGuardrails(&cfg.Guardrails, ve)
	validateSession(cfg, ve)
	validateStore(cfg, ve)
	validateSecurity(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateServer(cfg, ve)
	validateJanitor(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"endpoint": true,
	"openai":   true,
}

func validateProvider(name string, p ProviderConfig, required bool, ve *ValidationError) {
	if p.Type == "" {
		if required {
			ve.Add("%s.type must be set", name)
		}
		return
	}
	if !validProviderTypes[p.Type] {
		ve.Add("%s.type %q is not supported (want endpoint or openai)", name, p.Type)
	}
	if p.ConnTimeout < 0 || p.RespTimeout < 0 {
		ve.Add("%s timeouts must not be negative", name)
	}
}

func validateModel(cfg *Config, ve *ValidationError) {
	validateProvider("model.image", cfg.Model.Image, true, ve)
	validateProvider("model.record", cfg.Model.Record, false, ve)

	cb := cfg.Model.CircuitBreaker
	if cb.Enabled && cb.MaxFailures == 0 {
		ve.Add("model.circuit_breaker.max_failures must be > 0 when enabled")
	}
	rl := cfg.Model.RateLimit
	if rl.RequestsPerMinute < 0 {
		ve.Add("model.rate_limit.requests_per_minute must not be negative")
	}
	if rl.RequestsPerMinute > 0 && rl.Burst < 0 {
		ve.Add("model.rate_limit.burst must not be negative")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	ia := cfg.Agents.ImageAnalyzer
	if ia.MaxTokens <= 0 {
		ve.Add("agents.image_analyzer.max_tokens must be > 0")
	}
	if ia.MinImageQuality < 0 || ia.MinImageQuality > 1 {
		ve.Add("agents.image_analyzer.min_image_quality must be within [0, 1]")
	}
	if ia.Temperature < 0 || ia.Temperature > 2 {
		ve.Add("agents.image_analyzer.temperature must be within [0, 2]")
	}
	if ia.MaxDimension < 0 {
		ve.Add("agents.image_analyzer.max_dimension must not be negative")
	}
	if t := cfg.Agents.Orchestrator.ReflexionThreshold; t < 0 || t > 1 {
		ve.Add("agents.orchestrator.reflexion_threshold must be within [0, 1]")
	}
}

func validateGuardrails(g *GuardrailsConfig, ve *ValidationError) {
	in := g.InputValidation
	if in.MinQueryLength < 0 {
		ve.Add("guardrails.input_validation.min_query_length must not be negative")
	}
	if in.MaxQueryLength <= 0 || in.MaxQueryLength < in.MinQueryLength {
		ve.Add("guardrails.input_validation.max_query_length must be > 0 and >= min_query_length")
	}
	for i, p := range in.PIIPatterns {
		if _, err := regexp.Compile(p.Regex); err != nil {
			ve.Add("guardrails.input_validation.pii_patterns[%d]: invalid regex: %v", i, err)
		}
		if p.Type == "" {
			ve.Add("guardrails.input_validation.pii_patterns[%d]: type must be set", i)
		}
	}

	th := g.OutputValidation.ConfidenceThresholds
	if !(0 <= th.Low && th.Low <= th.Medium && th.Medium <= th.High && th.High <= 1) {
		ve.Add("guardrails.output_validation.confidence_thresholds must satisfy 0 <= low <= medium <= high <= 1")
	}
	if c := g.SafetyChecks.HumanReviewRequired.ConfidenceBelow; c < 0 || c > 1 {
		ve.Add("guardrails.safety_checks.human_review_required.confidence_below must be within [0, 1]")
	}
	if g.Compliance.ConversationRetentionDays <= 0 || g.Compliance.AuditRetentionDays <= 0 {
		ve.Add("guardrails.compliance retention days must be > 0")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	if cfg.Session.MaxAge <= 0 {
		ve.Add("session.max_age must be > 0")
	}
	if cfg.Session.ContextWindow <= 0 {
		ve.Add("session.context_window must be > 0")
	}
}

var validStoreBackends = map[string]bool{
	"json":   true,
	"sqlite": true,
}

func validateStore(cfg *Config, ve *ValidationError) {
	if !validStoreBackends[cfg.Store.Backend] {
		ve.Add("store.backend %q is not supported (want json or sqlite)", cfg.Store.Backend)
	}
	if cfg.Store.Dir == "" {
		ve.Add("store.dir must not be empty")
	}
	if cfg.Store.Retention <= 0 {
		ve.Add("store.retention must be > 0")
	}
}

func validateSecurity(cfg *Config, ve *ValidationError) {
	a := cfg.Security.Audit
	if a.Enabled && a.Path == "" {
		ve.Add("security.audit.path must not be empty when audit is enabled")
	}
	if a.Retention.MaxAge != "" {
		if _, err := time.ParseDuration(a.Retention.MaxAge); err != nil {
			ve.Add("security.audit.retention.max_age: %v", err)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "text" && f != "json" {
		ve.Add("logger.format %q is not one of text, json", f)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if e := cfg.Tracer.Exporter; e != "noop" && e != "stdout" {
		ve.Add("tracer.exporter %q is not one of noop, stdout", e)
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.RequestsPerSecond < 0 {
		ve.Add("server.requests_per_second must not be negative")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		ve.Add("server.max_upload_bytes must be > 0")
	}
}

func validateJanitor(cfg *Config, ve *ValidationError) {
	if !cfg.Janitor.Enabled {
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Janitor.Schedule); err != nil {
		ve.Add("janitor.schedule %q: %v", cfg.Janitor.Schedule, err)
	}
}
