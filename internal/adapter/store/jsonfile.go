package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"medsight/internal/domain"
)

const (
	jsonExt  = ".json"
	filePerm = 0o600
	dirPerm  = 0o700
)

// JSONFileStore keeps one indented JSON file per conversation at
// <dir>/<session id>.json.
type JSONFileStore struct {
	dir string
	opt options
}

// NewJSONFileStore creates dir if needed and returns a store rooted there.
func NewJSONFileStore(dir string, opts ...Option) (*JSONFileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &JSONFileStore{dir: dir, opt: applyOptions(opts)}, nil
}

// Dir returns the directory holding the conversation files.
func (s *JSONFileStore) Dir() string { return s.dir }

func (s *JSONFileStore) path(id string) string {
	return filepath.Join(s.dir, id+jsonExt)
}

// Save writes conv atomically via a temp file and rename.
func (s *JSONFileStore) Save(_ context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return domain.NewDomainError("JSONFileStore.Save", domain.ErrInvalidInput, "nil conversation")
	}
	if err := domain.ValidateSessionID(conv.SessionID); err != nil {
		return err
	}
	data, err := s.opt.encode(conv)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, conv.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(conv.SessionID)); err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// Load reads the conversation stored under id.
func (s *JSONFileStore) Load(_ context.Context, id string) (*domain.Conversation, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewDomainError("JSONFileStore.Load", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return s.opt.decode("JSONFileStore.Load", data)
}

// Delete removes the file for id and reports whether one existed.
func (s *JSONFileStore) Delete(_ context.Context, id string) (bool, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return false, err
	}
	err := os.Remove(s.path(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("remove conversation: %w", err)
	}
}

// List returns the stored session ids in lexical order. ULID ids therefore
// come back oldest first.
func (s *JSONFileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, jsonExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup removes conversations whose file was last modified more than
// maxAge ago.
func (s *JSONFileStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-retentionOrDefault(maxAge))
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := os.Stat(s.path(id))
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(s.path(id)); err != nil {
			s.opt.logger.Warn("conversation cleanup failed", "session_id", id, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.opt.logger.Info("removed expired conversations", "count", removed, "dir", s.dir)
	}
	return removed, nil
}

// Close implements domain.SessionStore.
func (s *JSONFileStore) Close() error { return nil }

var _ domain.SessionStore = (*JSONFileStore)(nil)
