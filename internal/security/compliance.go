package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

// maxInteractions bounds the in-memory interaction history; the durable
// audit log keeps everything.
const maxInteractions = 10000

// ComplianceAuditLogger wraps an AuditLogger so that the compliance fields
// (Actor, Action, Outcome) are always populated.
type ComplianceAuditLogger struct {
	inner domain.AuditLogger
}

// NewComplianceAuditLogger wraps inner with compliance defaults.
func NewComplianceAuditLogger(inner domain.AuditLogger) *ComplianceAuditLogger {
	return &ComplianceAuditLogger{inner: inner}
}

// Log fills missing compliance fields and delegates.
func (c *ComplianceAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = "system"
	}
	if event.Action == "" {
		event.Action = string(event.Type)
	}
	if event.Outcome == "" {
		event.Outcome = "success"
	}
	return c.inner.Log(ctx, event)
}

// Close delegates to the inner logger.
func (c *ComplianceAuditLogger) Close() error {
	return c.inner.Close()
}

// Interaction is one audited user interaction. UserID is a truncated hash,
// empty for anonymous callers.
type Interaction struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	DataAccessed []string  `json:"data_accessed"`
	Result       string    `json:"result"`
}

// ComplianceChecker keeps the interaction audit trail, answers retention
// questions and anonymizes identifiers.
type ComplianceChecker struct {
	cfg    config.ComplianceConfig
	audit  domain.AuditLogger
	logger *slog.Logger

	mu      sync.RWMutex
	entries []Interaction
}

// NewComplianceChecker creates a checker. audit may be nil, in which case
// interactions are only kept in memory.
func NewComplianceChecker(cfg config.ComplianceConfig, audit domain.AuditLogger, logger *slog.Logger) *ComplianceChecker {
	if logger == nil {
		logger = discardLogger()
	}
	if audit != nil {
		audit = NewComplianceAuditLogger(audit)
	}
	return &ComplianceChecker{cfg: cfg, audit: audit, logger: logger}
}

// LogInteraction records an interaction and forwards it to the audit log.
// The audit write error is returned but the entry is kept either way.
func (c *ComplianceChecker) LogInteraction(ctx context.Context, sessionID, userID, action string, dataAccessed []string, result string) (Interaction, error) {
	entry := Interaction{
		Timestamp:    time.Now().UTC(),
		SessionID:    sessionID,
		Action:       action,
		DataAccessed: append([]string{}, dataAccessed...),
		Result:       result,
	}
	if userID != "" {
		entry.UserID = HashIdentifier(userID)
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	if len(c.entries) > maxInteractions {
		c.entries = c.entries[len(c.entries)-maxInteractions:]
	}
	c.mu.Unlock()

	c.logger.Info("audit entry created", "action", action, "session_id", sessionID)

	if c.audit == nil {
		return entry, nil
	}
	err := c.audit.Log(ctx, domain.AuditEvent{
		Timestamp: entry.Timestamp,
		Type:      domain.AuditInteraction,
		Actor:     entry.UserID,
		Resource:  sessionID,
		Action:    action,
		Outcome:   result,
		Detail: map[string]string{
			"session_id":    sessionID,
			"data_accessed": strings.Join(dataAccessed, ","),
		},
	})
	if err != nil {
		return entry, fmt.Errorf("log interaction: %w", err)
	}
	return entry, nil
}

// AuditLog returns the in-memory interactions, filtered by session when
// sessionID is non-empty.
func (c *ComplianceChecker) AuditLog(sessionID string) []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Interaction, 0, len(c.entries))
	for _, e := range c.entries {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

// CheckDataRetention decides what may be kept for data of the given age.
func (c *ComplianceChecker) CheckDataRetention(ageDays int) domain.RetentionDecision {
	return domain.RetentionDecision{
		ShouldRetainConversation: ageDays < c.cfg.ConversationRetentionDays,
		ShouldRetainAuditLog:     ageDays < c.cfg.AuditRetentionDays,
		ActionRequired:           ageDays >= c.cfg.ConversationRetentionDays,
	}
}

// ConversationRetention is the configured conversation lifetime.
func (c *ComplianceChecker) ConversationRetention() time.Duration {
	return time.Duration(c.cfg.ConversationRetentionDays) * 24 * time.Hour
}

// Anonymize returns a copy of data with the sensitive fields hashed. Empty
// values are left alone.
func (c *ComplianceChecker) Anonymize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, field := range c.cfg.SensitiveFields {
		v, ok := out[field]
		if !ok || isEmptyValue(v) {
			continue
		}
		out[field] = HashIdentifier(fmt.Sprint(v))
	}
	return out
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

// HashIdentifier returns the first 16 hex characters of the SHA-256 of id.
func HashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}
