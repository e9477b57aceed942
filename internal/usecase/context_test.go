package usecase

import (
	"strings"
	"testing"
	"time"

	"medsight/internal/domain"
)

func sessionWith(msgs ...domain.Message) *Session {
	s := NewSession("u")
	for _, m := range msgs {
		s.AddMessage(m)
	}
	return s
}

func TestContextManager_BuildPromptContext(t *testing.T) {
	cm := NewContextManager(0)
	if cm.Window() != DefaultContextWindow {
		t.Fatalf("window = %d", cm.Window())
	}

	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "Look at my x-ray"},
		domain.Message{Role: domain.RoleAssistant, Content: "Lungs are clear"},
		domain.Message{Role: domain.RoleSystem, Content: "note"},
		domain.Message{Role: domain.RoleUser, Content: "Thanks"},
	)
	want := "Previous conversation:\nUser: Look at my x-ray\nAssistant: Lungs are clear\nAssistant: note"
	if got := cm.BuildPromptContext(s); got != want {
		t.Errorf("BuildPromptContext =\n%q\nwant\n%q", got, want)
	}

	if got := cm.BuildPromptContext(sessionWith(domain.Message{Role: domain.RoleUser, Content: "hi"})); got != "" {
		t.Errorf("single message context = %q", got)
	}
}

func TestContextManager_WindowLimitsContext(t *testing.T) {
	cm := NewContextManager(2)
	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "one"},
		domain.Message{Role: domain.RoleAssistant, Content: "two"},
		domain.Message{Role: domain.RoleUser, Content: "three"},
	)
	if got := cm.BuildPromptContext(s); got != "Previous conversation:\nAssistant: two" {
		t.Errorf("BuildPromptContext = %q", got)
	}
}

func TestContextManager_Context(t *testing.T) {
	cm := NewContextManager(10)
	s := sessionWith(domain.Message{Role: domain.RoleUser, Content: "see image", Images: []string{"img-1"}, Documents: []string{"rec-1"}})
	s.AddImage(&domain.MedicalImage{ImageID: "img-1"})
	s.AddRecord(&domain.MedicalRecord{RecordID: "rec-1"})

	full := cm.Context(s, true, true)
	if full.SessionID != s.ID() || full.MessageCount != 1 {
		t.Fatalf("context = %+v", full)
	}
	if len(full.Images) != 1 || len(full.Documents) != 1 {
		t.Error("attachments missing")
	}
	if m := full.RecentMessages[0]; len(m.Images) != 1 || len(m.Documents) != 1 {
		t.Error("message references missing")
	}
	if _, err := time.Parse(time.RFC3339, full.RecentMessages[0].Timestamp); err != nil {
		t.Errorf("timestamp: %v", err)
	}

	bare := cm.Context(s, false, false)
	if bare.Images != nil || bare.Documents != nil || bare.RecentMessages[0].Images != nil {
		t.Error("attachments included when not requested")
	}
}

func TestContextManager_ExtractReferences(t *testing.T) {
	cm := NewContextManager(10)
	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "old scan", Images: []string{"img-0"}},
		domain.Message{Role: domain.RoleUser, Content: "scan", Images: []string{"img-1"}},
		domain.Message{Role: domain.RoleAssistant, Content: "analysis"},
		domain.Message{Role: domain.RoleUser, Content: "labs", Documents: []string{"rec-1"}},
	)

	refs := cm.ExtractReferences("What about the finding in the image?", s)
	if len(refs) != 2 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].Content != "scan" || !refs[0].HasImages || refs[0].HasDocuments {
		t.Errorf("first ref = %+v", refs[0])
	}
	if refs[1].Content != "labs" || !refs[1].HasDocuments {
		t.Errorf("second ref = %+v", refs[1])
	}

	if refs := cm.ExtractReferences("hello", s); refs != nil {
		t.Errorf("non-referring query returned %+v", refs)
	}
}

func TestContextManager_Summarize(t *testing.T) {
	cm := NewContextManager(10)
	if got := cm.Summarize(NewSession("u")); got != "No conversation history." {
		t.Errorf("empty summary = %q", got)
	}

	s := sessionWith(
		domain.Message{Role: domain.RoleUser, Content: "a", Images: []string{"i1", "i2"}},
		domain.Message{Role: domain.RoleAssistant, Content: "b"},
	)
	got := cm.Summarize(s)
	want := "Conversation started: " + s.CreatedAt().Format("2006-01-02 15:04") + " | Total messages: 2 | Images analyzed: 2"
	if got != want {
		t.Errorf("Summarize = %q, want %q", got, want)
	}
	if strings.Contains(got, "Documents") {
		t.Error("documents reported without any")
	}
}
