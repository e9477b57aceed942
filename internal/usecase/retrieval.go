package usecase

import (
	"strings"
	"time"

	"medsight/internal/domain"
)

// ConversationRetrieval answers questions about a session's history.
type ConversationRetrieval struct {
	now func() time.Time
}

// NewConversationRetrieval creates a retrieval helper.
func NewConversationRetrieval() *ConversationRetrieval {
	return &ConversationRetrieval{now: time.Now}
}

// ByTimeframe returns the messages sent within the last hours.
func (r *ConversationRetrieval) ByTimeframe(s *Session, hours float64) []domain.Message {
	cutoff := r.now().Add(-time.Duration(hours * float64(time.Hour)))
	return filterMessages(s, func(m domain.Message) bool {
		return !m.Timestamp.Before(cutoff)
	})
}

// WithImages returns the messages that reference at least one image.
func (r *ConversationRetrieval) WithImages(s *Session) []domain.Message {
	return filterMessages(s, func(m domain.Message) bool { return len(m.Images) > 0 })
}

// WithDocuments returns the messages that reference at least one document.
func (r *ConversationRetrieval) WithDocuments(s *Session) []domain.Message {
	return filterMessages(s, func(m domain.Message) bool { return len(m.Documents) > 0 })
}

// Search returns the messages whose content contains query.
func (r *ConversationRetrieval) Search(s *Session, query string, caseSensitive bool) []domain.Message {
	if !caseSensitive {
		query = strings.ToLower(query)
	}
	return filterMessages(s, func(m domain.Message) bool {
		content := m.Content
		if !caseSensitive {
			content = strings.ToLower(content)
		}
		return strings.Contains(content, query)
	})
}

// ConversationStats summarizes a session's history.
type ConversationStats struct {
	TotalMessages     int     `json:"total_messages"`
	UserMessages      int     `json:"user_messages"`
	AssistantMessages int     `json:"assistant_messages"`
	ImagesShared      int     `json:"images_shared"`
	DocumentsShared   int     `json:"documents_shared"`
	DurationHours     float64 `json:"duration_hours"`
	FirstMessage      *string `json:"first_message"`
	LastMessage       *string `json:"last_message"`
}

// SummaryStats counts messages and attachments in s.
func (r *ConversationRetrieval) SummaryStats(s *Session) ConversationStats {
	msgs := s.Messages()
	st := ConversationStats{
		TotalMessages: len(msgs),
		DurationHours: s.UpdatedAt().Sub(s.CreatedAt()).Hours(),
	}
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			st.UserMessages++
		case domain.RoleAssistant:
			st.AssistantMessages++
		}
		st.ImagesShared += len(m.Images)
		st.DocumentsShared += len(m.Documents)
	}
	if len(msgs) > 0 {
		first := msgs[0].Timestamp.Format(time.RFC3339)
		last := msgs[len(msgs)-1].Timestamp.Format(time.RFC3339)
		st.FirstMessage, st.LastMessage = &first, &last
	}
	return st
}

func filterMessages(s *Session, keep func(domain.Message) bool) []domain.Message {
	var out []domain.Message
	for _, m := range s.Messages() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
