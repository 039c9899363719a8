// Package snapshot implements spec §4.11's resume support: a JSON-file
// snapshot of a session's state.SessionState, durable enough to survive a
// coordinator restart. Adapted from the teacher's internal/storage package
// (storage.go's JSONFileStorage), trimmed to exactly the fields
// state.SessionState needs and to a single flat file per session instead of
// the teacher's sessions/agents/providers/projects four-storage split, since
// BeamCode has only one durable record per session.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/beamcode/beamcode/internal/state"
)

var (
	ErrNotFound          = errors.New("snapshot: not found")
	ErrInvalidSessionID  = errors.New("snapshot: invalid session id")
	ErrFileTooLarge      = errors.New("snapshot: file too large")
	ErrSymlinkNotAllowed = errors.New("snapshot: symlinks not allowed")
)

const maxSnapshotFileSize = 10 * 1024 * 1024 // 10MB, matches the teacher's ceiling

var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateSessionID(id string) error {
	if !sessionIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %s", ErrInvalidSessionID, id)
	}
	return nil
}

// Store persists state.SessionState snapshots keyed by session id.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// DefaultDir is BeamCode's equivalent of the teacher's DefaultBaseDir.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beamcode"
	}
	return filepath.Join(home, ".beamcode", "sessions")
}

// NewStore creates dir (and its parents) if necessary, restricting
// permissions the way the teacher's NewJSONFileStorage does.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if info, err := os.Stat(dir); err == nil && info.Mode().Perm()&0o077 != 0 {
		_ = os.Chmod(dir, 0o700)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save atomically writes st's snapshot, via the teacher's temp-file-then-
// rename-then-fsync-directory idiom so a crash mid-write never leaves a
// corrupt snapshot behind.
func (s *Store) Save(st state.SessionState) error {
	if err := validateSessionID(st.SessionID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.CreateTemp(s.dir, st.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)

	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		f = nil
		return fmt.Errorf("snapshot: close: %w", err)
	}
	f = nil

	if err := os.Rename(tmpName, s.path(st.SessionID)); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}

	if df, err := os.Open(s.dir); err == nil {
		_ = df.Sync()
		_ = df.Close()
	}
	return nil
}

// Load reads back a previously Saved snapshot.
func (s *Store) Load(sessionID string) (state.SessionState, error) {
	if err := validateSessionID(sessionID); err != nil {
		return state.SessionState{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.path(sessionID)
	info, err := os.Lstat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return state.SessionState{}, ErrNotFound
		}
		return state.SessionState{}, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return state.SessionState{}, fmt.Errorf("%w: %s", ErrSymlinkNotAllowed, sessionID)
	}
	if info.Size() > maxSnapshotFileSize {
		return state.SessionState{}, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, sessionID, info.Size())
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return state.SessionState{}, err
	}

	var st state.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return state.SessionState{}, err
	}
	return st, nil
}

// Delete removes a session's snapshot, ignoring a missing file.
func (s *Store) Delete(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: delete: %w", err)
	}
	return nil
}
