package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"medsight/internal/domain"
	"medsight/internal/infra/tracer"
)

// RetentionPolicy controls how long audit entries are kept.
type RetentionPolicy struct {
	MaxAge  time.Duration // 0 = no limit
	MaxSize int64         // bytes; 0 = no limit
}

// FileAuditLogger implements domain.AuditLogger by appending JSON lines to a file.
type FileAuditLogger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	retention *RetentionPolicy
}

// NewFileAuditLogger opens (or creates with 0600) the audit log at path.
func NewFileAuditLogger(path string) (*FileAuditLogger, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditLogger{file: f, path: path}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// Path returns the file the logger writes to.
func (a *FileAuditLogger) Path() string { return a.path }

// SetRetention configures the policy applied by EnforceRetention.
func (a *FileAuditLogger) SetRetention(policy RetentionPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retention = &policy
}

// Log writes an audit event as a single JSON line. When a span is recording
// the event is attached to it as well.
func (a *FileAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(event.Detail)+1)
		if event.Actor != "" {
			attrs = append(attrs, tracer.StringAttr("audit.actor", event.Actor))
		}
		for k, v := range event.Detail {
			attrs = append(attrs, tracer.StringAttr("audit."+k, v))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}

	return nil
}

// LogAccess records who touched which resource and how it went.
func (a *FileAuditLogger) LogAccess(ctx context.Context, actor, resource, action, outcome string) error {
	return a.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditAccessLog,
		Actor:    actor,
		Resource: resource,
		Action:   action,
		Outcome:  outcome,
	})
}

// LogDataEvent records a change to stored patient data.
func (a *FileAuditLogger) LogDataEvent(ctx context.Context, actor, resource, action string, metadata map[string]string) error {
	return a.Log(ctx, domain.AuditEvent{
		Type:     domain.AuditDataEvent,
		Actor:    actor,
		Resource: resource,
		Action:   action,
		Outcome:  "success",
		Detail:   metadata,
	})
}

// Close closes the audit log file.
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// ReadAuditLog returns every event stored at path, oldest first. Lines that
// fail to parse are skipped.
func ReadAuditLog(path string) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev domain.AuditEvent
		if json.Unmarshal(scanner.Bytes(), &ev) == nil {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan audit log: %w", err)
	}
	return events, nil
}

// EnforceRetention rewrites the log keeping only entries that satisfy the
// retention policy and returns how many were dropped. Safe to call while the
// logger is in use.
func (a *FileAuditLogger) EnforceRetention(ctx context.Context) (removed int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	policy := a.retention
	if policy == nil || (policy.MaxAge == 0 && policy.MaxSize == 0) {
		return 0, nil
	}

	if policy.MaxAge == 0 {
		info, err := os.Stat(a.path)
		if err != nil {
			return 0, fmt.Errorf("stat audit log: %w", err)
		}
		if info.Size() <= policy.MaxSize {
			return 0, nil
		}
	}

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}

	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	defer func() {
		f, openErr := openAppend(a.path)
		if openErr != nil && err == nil {
			err = fmt.Errorf("reopen after retention: %w", openErr)
		}
		a.file = f
	}()

	kept, keptSize, removed, err := filterEntries(a.path, cutoff)
	if err != nil {
		return 0, err
	}

	for policy.MaxSize > 0 && keptSize > policy.MaxSize && len(kept) > 0 {
		keptSize -= int64(len(kept[0])) + 1
		kept = kept[1:]
		removed++
	}

	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return removed, nil
}

// filterEntries reads path and drops lines whose timestamp is before cutoff.
func filterEntries(path string, cutoff time.Time) (kept [][]byte, size int64, removed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open for reading: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !cutoff.IsZero() {
			var entry struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if json.Unmarshal(line, &entry) == nil && !entry.Timestamp.IsZero() && entry.Timestamp.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, append([]byte(nil), line...))
		size += int64(len(line)) + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("scan audit log: %w", err)
	}
	return kept, size, removed, nil
}

// ParseRetentionMaxSize parses a human-readable size such as "100MB" or "1GB".
func ParseRetentionMaxSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return n * multiplier, nil
}

// RetentionFromConfig builds a policy from config strings. Empty values mean no limit.
func RetentionFromConfig(maxAge, maxSize string) (RetentionPolicy, error) {
	var p RetentionPolicy
	if maxAge != "" {
		d, err := time.ParseDuration(maxAge)
		if err != nil {
			return p, fmt.Errorf("parse max age: %w", err)
		}
		p.MaxAge = d
	}
	n, err := ParseRetentionMaxSize(maxSize)
	if err != nil {
		return p, err
	}
	p.MaxSize = n
	return p, nil
}
