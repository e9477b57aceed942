package domain

import (
	"context"
	"time"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditModelCall      AuditEventType = "model_call"
	AuditQuery          AuditEventType = "query"
	AuditEmergency      AuditEventType = "emergency"
	AuditImageUpload    AuditEventType = "image_upload"
	AuditRecordUpload   AuditEventType = "record_upload"
	AuditAccessLog      AuditEventType = "access"
	AuditDataEvent      AuditEventType = "data_event"
	AuditSessionCreate  AuditEventType = "session_create"
	AuditSessionDelete  AuditEventType = "session_delete"
	AuditRetentionPurge AuditEventType = "retention_purge"
	AuditInteraction    AuditEventType = "interaction"
)

// AuditEvent represents a single auditable action.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      AuditEventType    `json:"type"`
	Detail    map[string]string `json:"detail"`

	// Compliance fields (optional, zero values omitted).
	Actor    string `json:"actor,omitempty"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// AuditLogger writes audit events to a persistent log.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
