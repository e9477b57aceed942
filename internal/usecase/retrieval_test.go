package usecase

import (
	"testing"
	"time"

	"medsight/internal/domain"
)

func TestConversationRetrieval_Filters(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &ConversationRetrieval{now: func() time.Time { return now }}

	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "Old X-ray", Timestamp: now.Add(-5 * time.Hour), Images: []string{"i"}},
		domain.Message{Role: domain.RoleAssistant, Content: "Clear lungs", Timestamp: now.Add(-90 * time.Minute)},
		domain.Message{Role: domain.RoleUser, Content: "Lab report", Timestamp: now.Add(-time.Minute), Documents: []string{"d"}},
	)

	if got := r.ByTimeframe(s, 2); len(got) != 2 || got[0].Content != "Clear lungs" {
		t.Errorf("ByTimeframe(2) = %+v", got)
	}
	if got := r.ByTimeframe(s, 0.5); len(got) != 1 {
		t.Errorf("ByTimeframe(0.5) = %+v", got)
	}
	if got := r.WithImages(s); len(got) != 1 || got[0].Content != "Old X-ray" {
		t.Errorf("WithImages = %+v", got)
	}
	if got := r.WithDocuments(s); len(got) != 1 || got[0].Content != "Lab report" {
		t.Errorf("WithDocuments = %+v", got)
	}
	if got := r.Search(s, "x-ray", false); len(got) != 1 {
		t.Errorf("case-insensitive Search = %+v", got)
	}
	if got := r.Search(s, "x-ray", true); len(got) != 0 {
		t.Errorf("case-sensitive Search = %+v", got)
	}
}

func TestConversationRetrieval_SummaryStats(t *testing.T) {
	r := NewConversationRetrieval()

	empty := r.SummaryStats(NewSession("u"))
	if empty.TotalMessages != 0 || empty.FirstMessage != nil || empty.LastMessage != nil {
		t.Errorf("empty stats = %+v", empty)
	}

	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "a", Timestamp: t0, Images: []string{"i1"}},
		domain.Message{Role: domain.RoleAssistant, Content: "b", Timestamp: t0.Add(time.Minute)},
		domain.Message{Role: domain.RoleUser, Content: "c", Timestamp: t0.Add(2 * time.Minute), Documents: []string{"d1", "d2"}},
	)
	st := r.SummaryStats(s)
	if st.TotalMessages != 3 || st.UserMessages != 2 || st.AssistantMessages != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.ImagesShared != 1 || st.DocumentsShared != 2 {
		t.Errorf("attachments = %+v", st)
	}
	if *st.FirstMessage != "2024-05-01T08:00:00Z" || *st.LastMessage != "2024-05-01T08:02:00Z" {
		t.Errorf("first/last = %s/%s", *st.FirstMessage, *st.LastMessage)
	}
	if st.DurationHours < 0 {
		t.Errorf("duration = %f", st.DurationHours)
	}
}
