package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"parley/cmd/security/password"
)

// FileStore keeps the credential map in memory as the source of truth and
// rewrites a JSON snapshot on every mutation. The snapshot write is a
// temp-file + rename swap, so a crash mid-write leaves either the old or the
// new file, never a torn one.
//
// Concurrency: one mutex serializes the whole check-hash-mutate-save cycle,
// which is the uniqueness guarantee for Register.
type FileStore struct {
	log    *slog.Logger
	path   string
	hasher password.Config

	mu     sync.Mutex
	users  map[string]Record
	closed bool
}

// OpenFileStore loads the store at path, or initializes an empty one (and
// persists it immediately) when the file does not exist. An unreadable or
// corrupt file is logged and replaced by an empty in-memory map: the service
// stays available at the cost of the unreadable records.
func OpenFileStore(log *slog.Logger, path string, hasher password.Config) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}

	s := &FileStore{
		log:    log,
		path:   path,
		hasher: hasher,
		users:  make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("identity.file.init", "path", path)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("initialize credential store: %w", err)
		}
	case err != nil:
		log.Error("identity.file.load.fail", "path", path, "err", err)
	default:
		if err := json.Unmarshal(data, &s.users); err != nil {
			log.Error("identity.file.parse.fail", "path", path, "err", err)
			s.users = make(map[string]Record)
		} else {
			log.Info("identity.file.loaded", "path", path, "users", len(s.users))
		}
	}

	return s, nil
}

// Register hashes the password and persists a new record. It reports false
// when the username is taken or invalid, or when hashing fails; a plaintext
// password is never stored.
func (s *FileStore) Register(ctx context.Context, username, pass string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateUsername(username); err != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if _, exists := s.users[username]; exists {
		return false, nil
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	s.users[username] = Record{Username: username, PasswordHash: hash}

	if err := s.save(); err != nil {
		// The in-memory record stays authoritative for this process; losing
		// it on restart is preferred over rejecting the registration.
		s.log.Error("identity.file.save.fail", "path", s.path, "err", err)
	}

	s.log.Info("identity.user.registered", "username", username, "users", len(s.users))
	return true, nil
}

// Authenticate verifies credentials. Unknown user and wrong password are both
// reported as a plain false.
func (s *FileStore) Authenticate(ctx context.Context, username, pass string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	rec, exists := s.users[username]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return false, ErrClosed
	}
	if !exists {
		return false, nil
	}

	ok, err := s.hasher.Verify(rec.PasswordHash, pass)
	if err != nil {
		// Malformed stored hash; treat as mismatch rather than failing hard.
		s.log.Warn("identity.hash.invalid", "username", username, "err", err)
		return false, nil
	}
	return ok, nil
}

// Close marks the store closed. The file on disk is already current because
// every mutation flushed it.
func (s *FileStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// UserCount reports the number of persisted credential records.
func (s *FileStore) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// save must be called with s.mu held.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
