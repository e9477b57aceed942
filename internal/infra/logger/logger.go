package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"medsight/internal/infra/config"
)

// maskedKeys name attributes whose values are free text from patients or
// models and are never logged verbatim.
var maskedKeys = map[string]bool{
	"query":   true,
	"content": true,
	"text":    true,
	"answer":  true,
}

const maskedValue = "[REDACTED]"

// New creates a configured *slog.Logger.
// The returned closer function should be deferred to flush/close file handles.
// When cfg.RedactPHI is set, pii patterns are applied to every string attribute.
func New(cfg config.LoggerConfig, pii []config.PIIPattern) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.RedactPHI {
		redact, err := NewRedactor(pii)
		if err != nil {
			closer()
			return nil, nil, err
		}
		opts.ReplaceAttr = redact
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), closer, nil
}

type compiledPII struct {
	re          *regexp.Regexp
	replacement string
}

// NewRedactor returns a slog ReplaceAttr hook that masks free-text attributes
// and replaces PII matches in any other string attribute with [TYPE_REDACTED].
func NewRedactor(patterns []config.PIIPattern) (func(groups []string, a slog.Attr) slog.Attr, error) {
	compiled := make([]compiledPII, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile pii pattern %q: %w", p.Type, err)
		}
		compiled = append(compiled, compiledPII{
			re:          re,
			replacement: "[" + strings.ToUpper(p.Type) + "_REDACTED]",
		})
	}

	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindString {
			return a
		}
		if maskedKeys[a.Key] {
			return slog.String(a.Key, maskedValue)
		}
		if a.Key == slog.MessageKey || a.Key == slog.LevelKey || a.Key == slog.TimeKey {
			return a
		}
		s := a.Value.String()
		for _, c := range compiled {
			s = c.re.ReplaceAllString(s, c.replacement)
		}
		return slog.String(a.Key, s)
	}, nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
