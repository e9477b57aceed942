package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"medsight/internal/domain"
)

// SQLiteStore keeps conversations in a single SQLite database. Payloads are
// the same JSON documents the file store writes.
type SQLiteStore struct {
	db  *sql.DB
	opt options
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteStore{db: db, opt: applyOptions(opts)}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return domain.NewDomainError("SQLiteStore.Save", domain.ErrInvalidInput, "nil conversation")
	}
	if err := domain.ValidateSessionID(conv.SessionID); err != nil {
		return err
	}
	payload, err := s.opt.encode(conv)
	if err != nil {
		return err
	}

	created := conv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		conv.SessionID, conv.UserID, string(payload),
		created.UTC().UnixNano(), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM sessions WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.Load", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return s.opt.decode("SQLiteStore.Load", []byte(payload))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cleanup removes conversations not updated within maxAge.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-retentionOrDefault(maxAge)).UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.opt.logger.Info("removed expired conversations", "count", n)
	}
	return int(n), nil
}

var _ domain.SessionStore = (*SQLiteStore)(nil)
