package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsight/internal/domain"
	"medsight/internal/security"
)

func sampleConversation(id string) *domain.Conversation {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	pd := domain.NewPatientData("patient-7")
	pd.AddRecord(&domain.MedicalRecord{RecordID: "rec-1", RecordType: domain.RecordLabResult, Content: "Hemoglobin 13.5"})
	return &domain.Conversation{
		SessionID: id,
		UserID:    "clinician-1",
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "Summarize my labs", Timestamp: now, Documents: []string{"rec-1"}},
			{ID: "m2", Role: domain.RoleAssistant, Content: "Hemoglobin is within range.", Timestamp: now},
		},
		PatientData: pd,
	}
}

func newEncryptor(t *testing.T, dir string) domain.ContentEncryptor {
	t.Helper()
	salt, err := security.LoadOrCreateSalt(dir)
	require.NoError(t, err)
	enc, err := security.NewAESContentEncryptor("correct horse battery staple", salt)
	require.NoError(t, err)
	return enc
}

type storeFactory func(t *testing.T, opts ...Option) domain.SessionStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"json": func(t *testing.T, opts ...Option) domain.SessionStore {
			s, err := NewJSONFileStore(t.TempDir(), opts...)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, opts ...Option) domain.SessionStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			conv := sampleConversation("01HV0000000000000000000001")
			require.NoError(t, s.Save(ctx, conv))

			got, err := s.Load(ctx, conv.SessionID)
			require.NoError(t, err)
			assert.Equal(t, conv.UserID, got.UserID)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, []string{"rec-1"}, got.Messages[0].Documents)
			require.NotNil(t, got.PatientData)
			assert.Equal(t, "Hemoglobin 13.5", got.PatientData.LatestRecord().Content)

			conv.Messages = append(conv.Messages, domain.Message{Role: domain.RoleUser, Content: "Thanks"})
			require.NoError(t, s.Save(ctx, conv))
			got, err = s.Load(ctx, conv.SessionID)
			require.NoError(t, err)
			assert.Len(t, got.Messages, 3)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Load(context.Background(), "nope")
			require.ErrorIs(t, err, domain.ErrSessionNotFound)
			assert.Equal(t, domain.CodeSessionNotFound, domain.ErrorCodeOf(err))
		})
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			require.NoError(t, s.Save(ctx, sampleConversation("b")))
			require.NoError(t, s.Save(ctx, sampleConversation("a")))

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)

			removed, err := s.Delete(ctx, "a")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = s.Delete(ctx, "a")
			require.NoError(t, err)
			assert.False(t, removed)

			ids, err = s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids)
		})
	}
}

func TestStore_RejectsUnsafeIDs(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			for _, id := range []string{"", "../etc/passwd", `a\b`, "x\x00y", "./a"} {
				err := s.Save(ctx, sampleConversation(id))
				assert.ErrorIs(t, err, domain.ErrInvalidSessionID, "id %q", id)
				_, err = s.Load(ctx, id)
				assert.ErrorIs(t, err, domain.ErrInvalidSessionID, "id %q", id)
			}
		})
	}
}

func TestStore_Encrypted(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			enc := newEncryptor(t, t.TempDir())
			s := newStore(t, WithEncryptor(enc))

			conv := sampleConversation("enc-1")
			require.NoError(t, s.Save(ctx, conv))

			got, err := s.Load(ctx, "enc-1")
			require.NoError(t, err)
			assert.Equal(t, "Summarize my labs", got.Messages[0].Content)
		})
	}
}

func TestJSONFileStore_FileLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewJSONFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleConversation("sess-1")))

	path := filepath.Join(dir, "sess-1.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"session_id\": \"sess-1\"")

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestJSONFileStore_SaveRenameFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONFileStore(dir)
	require.NoError(t, err)

	// A non-empty directory at the target path makes the final rename fail.
	target := filepath.Join(dir, "sess-1.json")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "blocker"), 0o700))

	err = s.Save(context.Background(), sampleConversation("sess-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rename conversation")
	var linkErr *os.LinkError
	assert.ErrorAs(t, err, &linkErr)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestJSONFileStore_EncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	enc := newEncryptor(t, dir)

	s, err := NewJSONFileStore(dir, WithEncryptor(enc))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleConversation("sess-2")))

	data, err := os.ReadFile(filepath.Join(dir, "sess-2.json"))
	require.NoError(t, err)
	assert.True(t, enc.IsEncrypted(string(data)))
	assert.NotContains(t, string(data), "Hemoglobin")

	// The salt file is not a conversation.
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-2"}, ids)

	plain, err := NewJSONFileStore(dir)
	require.NoError(t, err)
	_, err = plain.Load(ctx, "sess-2")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestJSONFileStore_CleanupByModTime(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewJSONFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleConversation("old")))
	require.NoError(t, s.Save(ctx, sampleConversation("fresh")))

	past := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.json"), past, past))

	removed, err := s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestSQLiteStore_CleanupByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, sampleConversation("old")))
	require.NoError(t, s.Save(ctx, sampleConversation("fresh")))

	aged := time.Now().Add(-48 * time.Hour).UTC().UnixNano()
	_, err = s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", aged, "old")
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)

	removed, err = s.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleConversation("keep")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "clinician-1", got.UserID)
}
