package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"medsight/internal/domain"
)

// DefaultSessionMaxAge is how long an in-memory session lives when
// CleanupOldSessions is given a non-positive age.
const DefaultSessionMaxAge = 24 * time.Hour

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Session is one conversation together with the images and records shared
// in it. All methods are safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	id        string
	userID    string
	msgs      []domain.Message
	patient   *domain.PatientData
	metadata  map[string]any
	createdAt time.Time
	updatedAt time.Time

	// ids attached since the last user message
	pendingImages []string
	pendingDocs   []string
}

// NewSession creates an empty session with a generated ULID.
func NewSession(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        generateULID(now),
		userID:    userID,
		patient:   domain.NewPatientData(userID),
		metadata:  make(map[string]any),
		createdAt: now,
		updatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// AddMessage appends msg, filling in its id and timestamp when empty, and
// bumps the update time.
func (s *Session) AddMessage(msg domain.Message) domain.Message {
	now := time.Now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.updatedAt = now
	return msg
}

// Messages returns a copy of the message history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.msgs))
	copy(cp, s.msgs)
	return cp
}

// RecentMessages returns up to the last n messages, oldest first.
func (s *Session) RecentMessages(n int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(len(s.msgs)-n, 0)
	cp := make([]domain.Message, len(s.msgs)-start)
	copy(cp, s.msgs[start:])
	return cp
}

// MessageCount returns the number of messages in the session.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// AddImage attaches an image to the session's patient data.
func (s *Session) AddImage(img *domain.MedicalImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient.AddImage(img)
	s.pendingImages = append(s.pendingImages, img.ImageID)
	s.updatedAt = time.Now().UTC()
}

// AddRecord attaches a record to the session's patient data.
func (s *Session) AddRecord(rec *domain.MedicalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patient.AddRecord(rec)
	s.pendingDocs = append(s.pendingDocs, rec.RecordID)
	s.updatedAt = time.Now().UTC()
}

// takePending returns the attachment ids added since the last call.
func (s *Session) takePending() (images, docs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	images, docs = s.pendingImages, s.pendingDocs
	s.pendingImages, s.pendingDocs = nil, nil
	return images, docs
}

// PatientData returns a snapshot of the attached images and records. The
// slices are copies; the images and records themselves are shared.
func (s *Session) PatientData() *domain.PatientData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pd := *s.patient
	pd.Images = append([]*domain.MedicalImage(nil), s.patient.Images...)
	pd.Records = append([]*domain.MedicalRecord(nil), s.patient.Records...)
	return &pd
}

// SetMetadata stores a metadata value.
func (s *Session) SetMetadata(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = v
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		cp[k] = v
	}
	return cp
}

// Clear discards the message history and all attached patient data.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.patient = domain.NewPatientData(s.userID)
	s.pendingImages, s.pendingDocs = nil, nil
	s.updatedAt = time.Now().UTC()
}

// Conversation returns the persisted form of the session.
func (s *Session) Conversation() *domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.Message, len(s.msgs))
	copy(msgs, s.msgs)
	meta := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	pd := *s.patient
	return &domain.Conversation{
		SessionID:   s.id,
		UserID:      s.userID,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		Metadata:    meta,
		Messages:    msgs,
		PatientData: &pd,
	}
}

// sessionFromConversation rebuilds a session from its persisted form.
func sessionFromConversation(c *domain.Conversation) *Session {
	s := &Session{
		id:        c.SessionID,
		userID:    c.UserID,
		msgs:      c.Messages,
		patient:   c.PatientData,
		metadata:  c.Metadata,
		createdAt: c.CreatedAt,
		updatedAt: c.UpdatedAt,
	}
	if s.patient == nil {
		s.patient = domain.NewPatientData(c.UserID)
	}
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	return s
}

// SessionManager keeps live sessions in memory and moves them to and from
// a SessionStore on request.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    domain.SessionStore
	logger   *slog.Logger
}

// NewSessionManager creates a manager. store may be nil, in which case
// Persist and Restore fail with ErrNotFound.
func NewSessionManager(store domain.SessionStore, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = discardLogger()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger,
	}
}

// Create starts a new session for userID.
func (sm *SessionManager) Create(userID string) *Session {
	s := NewSession(userID)
	sm.mu.Lock()
	sm.sessions[s.id] = s
	sm.mu.Unlock()
	sm.logger.Info("session created", "session_id", s.id)
	return s
}

// Get returns the live session with id or ErrSessionNotFound.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// AddMessage appends msg to the session with id.
func (sm *SessionManager) AddMessage(id string, msg domain.Message) error {
	s, err := sm.Get(id)
	if err != nil {
		sm.logger.Warn("add message to unknown session", "session_id", id)
		return err
	}
	s.AddMessage(msg)
	return nil
}

// Delete removes the session from memory and from the store. It reports
// whether anything was removed.
func (sm *SessionManager) Delete(ctx context.Context, id string) (bool, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return false, err
	}
	sm.mu.Lock()
	_, live := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	stored := false
	if sm.store != nil {
		var err error
		if stored, err = sm.store.Delete(ctx, id); err != nil {
			return live, err
		}
	}
	if live || stored {
		sm.logger.Info("session deleted", "session_id", id)
	}
	return live || stored, nil
}

// All returns the live sessions, oldest first.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	sm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// CleanupOldSessions drops live sessions created more than maxAge ago and
// returns how many were dropped. Stored copies are left alone.
func (sm *SessionManager) CleanupOldSessions(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	sm.mu.Lock()
	var stale []string
	for id, s := range sm.sessions {
		if s.CreatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if len(stale) > 0 {
		sm.logger.Info("cleaned up old sessions", "count", len(stale))
	}
	return len(stale)
}

// Persist writes the session with id to the store.
func (sm *SessionManager) Persist(ctx context.Context, id string) error {
	if err := domain.ValidateSessionID(id); err != nil {
		return err
	}
	if sm.store == nil {
		return domain.NewDomainError("SessionManager.Persist", domain.ErrNotFound, "no session store configured")
	}
	s, err := sm.Get(id)
	if err != nil {
		return err
	}
	if err := sm.store.Save(ctx, s.Conversation()); err != nil {
		return domain.WrapOp("SessionManager.Persist", err)
	}
	sm.logger.Debug("session persisted", "session_id", id)
	return nil
}

// Restore loads the session with id from the store into memory. A live
// copy always wins: it is returned as is, so concurrent restores of the
// same id share one Session.
func (sm *SessionManager) Restore(ctx context.Context, id string) (*Session, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return nil, err
	}
	if sm.store == nil {
		return nil, domain.NewDomainError("SessionManager.Restore", domain.ErrNotFound, "no session store configured")
	}
	if s, err := sm.Get(id); err == nil {
		return s, nil
	}
	conv, err := sm.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	if live, ok := sm.sessions[id]; ok {
		sm.mu.Unlock()
		return live, nil
	}
	s := sessionFromConversation(conv)
	sm.sessions[id] = s
	sm.mu.Unlock()
	sm.logger.Info("session restored", "session_id", id, "messages", len(conv.Messages))
	return s, nil
}

// GetOrRestore returns the live session, falling back to the store.
func (sm *SessionManager) GetOrRestore(ctx context.Context, id string) (*Session, error) {
	s, err := sm.Get(id)
	if err == nil {
		return s, nil
	}
	if sm.store == nil || !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}
	return sm.Restore(ctx, id)
}

// Store returns the backing store, which may be nil.
func (sm *SessionManager) Store() domain.SessionStore { return sm.store }
