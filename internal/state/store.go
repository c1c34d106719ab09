package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrState is returned when the state file exists but cannot be parsed.
var ErrState = errors.New("state unreadable")

// StateError wraps ErrState with details about the unreadable state file.
// It is recoverable: callers may reinitialize to a default IDLE state, but
// the event must be surfaced (logged), never silently masked.
type StateError struct {
	Path   string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %s", e.Path, e.Reason)
}

func (e *StateError) Unwrap() error {
	return ErrState
}

// Store persists the loop state as a single JSON document with atomic writes.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// NewStoreForProject creates a Store at the conventional location under the
// project's .takopi directory.
func NewStoreForProject(root string) *Store {
	return NewStore(StateFilePath(root))
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the loop state. A missing file is not an error: a default IDLE
// state with zeroed counters is returned. A file that exists but cannot be
// parsed returns a StateError.
func (s *Store) Load() (*LoopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewLoopState(), nil
		}
		return nil, &StateError{Path: s.path, Reason: fmt.Sprintf("cannot read file: %v", err)}
	}

	var st LoopState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &StateError{Path: s.path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if !st.Status.IsValid() {
		return nil, &StateError{Path: s.path, Reason: fmt.Sprintf("invalid status: %q", st.Status)}
	}

	return &st, nil
}

// Save persists the loop state atomically (write temp, rename), stamping
// UpdatedAt. Same crash-consistency contract as the backlog store.
func (s *Store) Save(st *LoopState) error {
	st.UpdatedAt = time.Now().Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Reset clears the state back to default IDLE with zeroed counters,
// preserving LoopNumber so loop numbering stays monotonic for the project.
func (s *Store) Reset() error {
	st, err := s.Load()
	if err != nil {
		if errors.Is(err, ErrState) {
			st = NewLoopState()
		} else {
			return err
		}
	}

	fresh := NewLoopState()
	fresh.LoopNumber = st.LoopNumber
	fresh.History = st.History
	return s.Save(fresh)
}
