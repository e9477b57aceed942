package domain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SessionStore persists conversations between process restarts.
type SessionStore interface {
	Save(ctx context.Context, conv *Conversation) error
	// Load returns ErrSessionNotFound when no conversation is stored under id.
	Load(ctx context.Context, id string) (*Conversation, error)
	// Delete reports whether anything was removed.
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	// Cleanup removes conversations older than maxAge and returns how many
	// were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// ValidateSessionID checks that id is safe to use as a file name. It rejects
// path separators, parent directory references and null bytes.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return NewDomainError("ValidateSessionID", ErrInvalidSessionID, "empty")
	case strings.ContainsAny(id, `/\`):
		return NewDomainError("ValidateSessionID", ErrInvalidSessionID, fmt.Sprintf("path separator in %q", id))
	case strings.Contains(id, ".."):
		return NewDomainError("ValidateSessionID", ErrInvalidSessionID, fmt.Sprintf("parent reference in %q", id))
	case strings.Contains(id, "\x00"):
		return NewDomainError("ValidateSessionID", ErrInvalidSessionID, "null byte")
	case filepath.Clean(id) != id:
		return NewDomainError("ValidateSessionID", ErrInvalidSessionID, fmt.Sprintf("not a clean path: %q", id))
	}
	return nil
}
