package usecase

import (
	"context"
	"log/slog"

	"medsight/internal/domain"
)

// Assistant runs user turns against a session: it records the question,
// hands the conversation to the orchestrator and records the answer.
type Assistant struct {
	sessions     *SessionManager
	orchestrator *Orchestrator
	contexts     *ContextManager
	autoPersist  bool
	logger       *slog.Logger
}

// NewAssistant creates an Assistant. When autoPersist is set and the
// session manager has a store, every turn is saved after it completes.
func NewAssistant(sessions *SessionManager, orch *Orchestrator, cm *ContextManager, autoPersist bool, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = discardLogger()
	}
	if cm == nil {
		cm = NewContextManager(DefaultContextWindow)
	}
	return &Assistant{
		sessions:     sessions,
		orchestrator: orch,
		contexts:     cm,
		autoPersist:  autoPersist,
		logger:       logger,
	}
}

// Sessions returns the underlying session manager.
func (a *Assistant) Sessions() *SessionManager { return a.sessions }

// Orchestrator returns the underlying orchestrator.
func (a *Assistant) Orchestrator() *Orchestrator { return a.orchestrator }

// Context returns the context manager.
func (a *Assistant) Context() *ContextManager { return a.contexts }

// Ask answers query in the session with id. Orchestration failures are
// reported in the result; the error is reserved for session problems.
func (a *Assistant) Ask(ctx context.Context, sessionID, query string) (domain.AgentResult, error) {
	s, err := a.sessions.GetOrRestore(ctx, sessionID)
	if err != nil {
		return domain.AgentResult{}, err
	}

	history := s.Messages()
	refs := a.contexts.ExtractReferences(query, s)
	images, docs := s.takePending()

	userMsg := domain.Message{
		Role:      domain.RoleUser,
		Content:   query,
		Images:    images,
		Documents: docs,
	}
	if len(refs) > 0 {
		userMsg.Metadata = map[string]any{"references": len(refs)}
	}
	s.AddMessage(userMsg)

	res := a.orchestrator.Run(ctx, Request{
		Query:       query,
		PatientData: s.PatientData(),
		History:     history,
		SessionID:   s.ID(),
		UserID:      s.UserID(),
	})

	s.AddMessage(domain.Message{
		Role:     domain.RoleAssistant,
		Content:  AnswerText(res),
		Metadata: replyMetadata(res),
	})

	if a.autoPersist && a.sessions.Store() != nil {
		if err := a.sessions.Persist(ctx, s.ID()); err != nil {
			a.logger.Warn("persist session failed", "session_id", s.ID(), "error", err)
		}
	}
	return res, nil
}

// AttachImage adds img to the session. It is referenced by the next
// user message.
func (a *Assistant) AttachImage(ctx context.Context, sessionID string, img *domain.MedicalImage) error {
	s, err := a.sessions.GetOrRestore(ctx, sessionID)
	if err != nil {
		return err
	}
	s.AddImage(img)
	a.logger.Info("image attached", "session_id", sessionID, "image_id", img.ImageID, "image_type", img.ImageType)
	return nil
}

// AttachRecord adds rec to the session. It is referenced by the next
// user message.
func (a *Assistant) AttachRecord(ctx context.Context, sessionID string, rec *domain.MedicalRecord) error {
	s, err := a.sessions.GetOrRestore(ctx, sessionID)
	if err != nil {
		return err
	}
	s.AddRecord(rec)
	a.logger.Info("record attached", "session_id", sessionID, "record_id", rec.RecordID, "record_type", rec.RecordType)
	return nil
}

// AnswerText returns the text to show for res: the formatted answer on
// success, otherwise the error message.
func AnswerText(res domain.AgentResult) string {
	if !res.Success {
		return "Error: " + res.Error
	}
	if ans, ok := res.Data.(*domain.Answer); ok {
		return ans.Answer
	}
	return ""
}

func replyMetadata(res domain.AgentResult) map[string]any {
	md := map[string]any{
		"success":    res.Success,
		"confidence": res.Confidence,
	}
	if t, ok := res.Metadata["request_type"]; ok {
		md["request_type"] = t
	}
	return md
}
