package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"medsight/internal/domain"
)

func newTestAuditLogger(t *testing.T) *FileAuditLogger {
	t.Helper()
	logger, err := NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	return logger
}

func readBack(t *testing.T, path string) []domain.AuditEvent {
	t.Helper()
	events, err := ReadAuditLog(path)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	return events
}

func TestFileAuditLogger_WriteAndRead(t *testing.T) {
	logger := newTestAuditLogger(t)

	event := domain.AuditEvent{
		Type:   domain.AuditModelCall,
		Detail: map[string]string{"model": "medgemma-4b-it", "agent": "ImageAnalyzerAgent"},
	}
	if err := logger.Log(context.Background(), event); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readBack(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != domain.AuditModelCall {
		t.Errorf("Type = %q, want %q", events[0].Type, domain.AuditModelCall)
	}
	if events[0].Detail["model"] != "medgemma-4b-it" {
		t.Errorf("Detail[model] = %q", events[0].Detail["model"])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestFileAuditLogger_ConcurrentWrites(t *testing.T) {
	logger := newTestAuditLogger(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(context.Background(), domain.AuditEvent{Type: domain.AuditQuery})
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readBack(t, logger.Path())); got != n {
		t.Errorf("expected %d lines, got %d", n, got)
	}
}

func TestNewFileAuditLoggerInvalidPath(t *testing.T) {
	if _, err := NewFileAuditLogger("/nonexistent/dir/audit.jsonl"); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestFileAuditLogger_WriteAfterClose(t *testing.T) {
	logger := newTestAuditLogger(t)
	logger.Close()

	err := logger.Log(context.Background(), domain.AuditEvent{Type: domain.AuditQuery})
	if err == nil {
		t.Fatal("expected error writing to closed file")
	}
	if domain.ErrorCodeOf(err) != domain.CodeAuditWrite {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeAuditWrite)
	}
}

func TestFileAuditLogger_FilePermissions(t *testing.T) {
	logger := newTestAuditLogger(t)
	logger.Log(context.Background(), domain.AuditEvent{Type: domain.AuditQuery})
	logger.Close()

	info, err := os.Stat(logger.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestFileAuditLogger_SpanEvent(t *testing.T) {
	logger := newTestAuditLogger(t)
	defer logger.Close()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "orchestrator.process")
	err := logger.Log(ctx, domain.AuditEvent{
		Type:   domain.AuditEmergency,
		Actor:  "abc",
		Detail: map[string]string{"session_id": "s-1"},
	})
	if err != nil {
		t.Fatalf("Log with active span: %v", err)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != "audit.emergency" {
		t.Errorf("events = %+v, want one audit.emergency event", spans[0].Events)
	}
}

func TestFileAuditLogger_LogAccess(t *testing.T) {
	logger := newTestAuditLogger(t)
	if err := logger.LogAccess(context.Background(), "user123", "session", "read", "success"); err != nil {
		t.Fatalf("LogAccess: %v", err)
	}
	logger.Close()

	ev := readBack(t, logger.Path())[0]
	if ev.Type != domain.AuditAccessLog {
		t.Errorf("Type = %q, want %q", ev.Type, domain.AuditAccessLog)
	}
	if ev.Actor != "user123" || ev.Resource != "session" || ev.Action != "read" || ev.Outcome != "success" {
		t.Errorf("compliance fields = %+v", ev)
	}
}

func TestFileAuditLogger_LogDataEvent(t *testing.T) {
	logger := newTestAuditLogger(t)
	meta := map[string]string{"session_id": "01HX"}
	if err := logger.LogDataEvent(context.Background(), "janitor", "conversation", "delete", meta); err != nil {
		t.Fatalf("LogDataEvent: %v", err)
	}
	logger.Close()

	ev := readBack(t, logger.Path())[0]
	if ev.Type != domain.AuditDataEvent {
		t.Errorf("Type = %q, want %q", ev.Type, domain.AuditDataEvent)
	}
	if ev.Outcome != "success" {
		t.Errorf("Outcome = %q", ev.Outcome)
	}
	if ev.Detail["session_id"] != "01HX" {
		t.Errorf("Detail[session_id] = %q", ev.Detail["session_id"])
	}
}

func TestReadAuditLog_MissingFile(t *testing.T) {
	events, err := ReadAuditLog(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestFileAuditLogger_EnforceRetention_MaxAge(t *testing.T) {
	logger := newTestAuditLogger(t)

	logger.Log(context.Background(), domain.AuditEvent{
		Timestamp: time.Now().Add(-2 * time.Hour),
		Type:      domain.AuditQuery,
		Detail:    map[string]string{"age": "old"},
	})
	logger.Log(context.Background(), domain.AuditEvent{
		Type:   domain.AuditQuery,
		Detail: map[string]string{"age": "new"},
	})

	logger.SetRetention(RetentionPolicy{MaxAge: time.Hour})
	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The logger keeps working after the rewrite.
	if err := logger.Log(context.Background(), domain.AuditEvent{
		Type:   domain.AuditQuery,
		Detail: map[string]string{"age": "after"},
	}); err != nil {
		t.Fatalf("Log after retention: %v", err)
	}
	logger.Close()

	events := readBack(t, logger.Path())
	if len(events) != 2 {
		t.Fatalf("remaining = %d, want 2", len(events))
	}
	if events[0].Detail["age"] != "new" || events[1].Detail["age"] != "after" {
		t.Errorf("remaining = %v, %v", events[0].Detail, events[1].Detail)
	}
}

func TestFileAuditLogger_EnforceRetention_MaxSize(t *testing.T) {
	logger := newTestAuditLogger(t)
	for i := 0; i < 100; i++ {
		logger.Log(context.Background(), domain.AuditEvent{
			Type:   domain.AuditModelCall,
			Detail: map[string]string{"index": fmt.Sprintf("%d", i), "padding": "some data to make the line longer"},
		})
	}

	logger.SetRetention(RetentionPolicy{MaxSize: 500})
	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed == 0 {
		t.Error("expected some entries to be removed")
	}
	logger.Close()

	info, _ := os.Stat(logger.Path())
	if info.Size() > 500 {
		t.Errorf("file size = %d, want <= 500", info.Size())
	}
}

func TestFileAuditLogger_EnforceRetention_NoPolicy(t *testing.T) {
	logger := newTestAuditLogger(t)
	defer logger.Close()
	logger.Log(context.Background(), domain.AuditEvent{Type: domain.AuditQuery})

	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestParseRetentionMaxSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		err   bool
	}{
		{"", 0, false},
		{"100MB", 100 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512kb", 512 * 1024, false},
		{"1024B", 1024, false},
		{"100", 100, false},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseRetentionMaxSize(tc.input)
		if tc.err != (err != nil) {
			t.Errorf("ParseRetentionMaxSize(%q) err = %v, wantErr %v", tc.input, err, tc.err)
		}
		if got != tc.want {
			t.Errorf("ParseRetentionMaxSize(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestRetentionFromConfig(t *testing.T) {
	p, err := RetentionFromConfig("61320h", "10MB")
	if err != nil {
		t.Fatalf("RetentionFromConfig: %v", err)
	}
	if p.MaxAge != 61320*time.Hour || p.MaxSize != 10<<20 {
		t.Errorf("policy = %+v", p)
	}
	if _, err := RetentionFromConfig("soon", ""); err == nil {
		t.Error("expected error for bad duration")
	}
}
