package usecase

import (
	"fmt"
	"strings"
	"time"

	"medsight/internal/domain"
)

// DefaultContextWindow is the number of recent messages a ContextManager
// exposes when built with a non-positive window.
const DefaultContextWindow = 10

// referenceKeywords mark a query as pointing back at earlier material.
var referenceKeywords = []string{
	"previous", "last", "earlier", "that", "this",
	"the scan", "the image", "the finding",
}

// ContextManager turns a session's history into prompt and API context.
type ContextManager struct {
	window int
}

// NewContextManager creates a manager over the last window messages.
func NewContextManager(window int) *ContextManager {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &ContextManager{window: window}
}

// Window returns the number of messages the manager looks at.
func (cm *ContextManager) Window() int { return cm.window }

// MessageContext is one message as exposed in a context snapshot.
type MessageContext struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	Images    []string `json:"images,omitempty"`
	Documents []string `json:"documents,omitempty"`
}

// SessionContext is a snapshot of the recent conversation and the
// attachments available to it.
type SessionContext struct {
	SessionID      string                  `json:"session_id"`
	MessageCount   int                     `json:"message_count"`
	RecentMessages []MessageContext        `json:"recent_messages"`
	Images         []*domain.MedicalImage  `json:"images,omitempty"`
	Documents      []*domain.MedicalRecord `json:"documents,omitempty"`
	Metadata       map[string]any          `json:"metadata"`
}

// Context builds a snapshot of s. Attachment references and the attached
// images or records are included only when asked for.
func (cm *ContextManager) Context(s *Session, includeImages, includeDocuments bool) SessionContext {
	recent := s.RecentMessages(cm.window)
	out := SessionContext{
		SessionID:      s.ID(),
		MessageCount:   s.MessageCount(),
		RecentMessages: make([]MessageContext, 0, len(recent)),
		Metadata:       s.Metadata(),
	}
	for _, m := range recent {
		mc := MessageContext{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		}
		if includeImages {
			mc.Images = m.Images
		}
		if includeDocuments {
			mc.Documents = m.Documents
		}
		out.RecentMessages = append(out.RecentMessages, mc)
	}

	pd := s.PatientData()
	if includeImages {
		out.Images = pd.Images
	}
	if includeDocuments {
		out.Documents = pd.Records
	}
	return out
}

// BuildPromptContext renders the window, minus the latest message, as a
// plain-text transcript. It returns "" when there is nothing before the
// latest message.
func (cm *ContextManager) BuildPromptContext(s *Session) string {
	recent := s.RecentMessages(cm.window)
	if len(recent) <= 1 {
		return ""
	}
	lines := []string{"Previous conversation:"}
	for _, m := range recent[:len(recent)-1] {
		speaker := "Assistant"
		if m.Role == domain.RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Reference is an earlier message with attachments a query may be pointing at.
type Reference struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	HasImages    bool   `json:"has_images"`
	HasDocuments bool   `json:"has_documents"`
}

// ExtractReferences returns the messages among the last three that carry
// attachments, if the query uses referring language. Matching is a plain
// substring test, so "this" also matches inside longer words.
func (cm *ContextManager) ExtractReferences(query string, s *Session) []Reference {
	lower := strings.ToLower(query)
	referring := false
	for _, kw := range referenceKeywords {
		if strings.Contains(lower, kw) {
			referring = true
			break
		}
	}
	if !referring {
		return nil
	}

	var refs []Reference
	for _, m := range s.RecentMessages(3) {
		if !m.HasAttachments() {
			continue
		}
		refs = append(refs, Reference{
			Role:         m.Role,
			Content:      m.Content,
			HasImages:    len(m.Images) > 0,
			HasDocuments: len(m.Documents) > 0,
		})
	}
	return refs
}

// Summarize returns a one-line description of the session.
func (cm *ContextManager) Summarize(s *Session) string {
	msgs := s.Messages()
	if len(msgs) == 0 {
		return "No conversation history."
	}

	var images, docs int
	for _, m := range msgs {
		images += len(m.Images)
		docs += len(m.Documents)
	}

	parts := []string{
		"Conversation started: " + s.CreatedAt().Format("2006-01-02 15:04"),
		fmt.Sprintf("Total messages: %d", len(msgs)),
	}
	if images > 0 {
		parts = append(parts, fmt.Sprintf("Images analyzed: %d", images))
	}
	if docs > 0 {
		parts = append(parts, fmt.Sprintf("Documents processed: %d", docs))
	}
	return strings.Join(parts, " | ")
}
