package backlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Error types for backlog operations.
var (
	// ErrBacklog is returned when the backlog file is missing or corrupt.
	ErrBacklog = errors.New("backlog unreadable")

	// ErrNotFound is returned when a story with the given ID does not exist.
	ErrNotFound = errors.New("story not found")
)

// BacklogError wraps ErrBacklog with details about why the backlog could not
// be loaded. A missing or corrupt backlog is always surfaced to the caller,
// never substituted with an empty backlog.
type BacklogError struct {
	Path   string
	Reason string
}

func (e *BacklogError) Error() string {
	return fmt.Sprintf("backlog %s: %s", e.Path, e.Reason)
}

func (e *BacklogError) Unwrap() error {
	return ErrBacklog
}

// NotFoundError wraps ErrNotFound with the story ID that was not found.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("story not found: %d", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Store persists a backlog as a single JSON document with atomic writes.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by the given file path (typically prd.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backlog file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the backlog file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and validates the backlog. Returns a BacklogError if the file
// is missing, unreadable, malformed, or fails structural validation.
func (s *Store) Load() (*Backlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadUnlocked()
}

// loadUnlocked reads the backlog without acquiring the lock.
// Caller must hold the lock.
func (s *Store) loadUnlocked() (*Backlog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &BacklogError{Path: s.path, Reason: "file does not exist"}
		}
		return nil, &BacklogError{Path: s.path, Reason: fmt.Sprintf("cannot read file: %v", err)}
	}

	var b Backlog
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &BacklogError{Path: s.path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := b.Validate(); err != nil {
		return nil, &BacklogError{Path: s.path, Reason: err.Error()}
	}

	return &b, nil
}

// Save validates and persists the backlog atomically (write temp, rename),
// so a crash mid-write cannot leave a partially written document.
func (s *Store) Save(b *Backlog) error {
	if err := b.Validate(); err != nil {
		return &BacklogError{Path: s.path, Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveUnlocked(b)
}

// saveUnlocked persists the backlog without acquiring the lock.
// Caller must hold the lock.
func (s *Store) saveUnlocked(b *Backlog) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backlog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create backlog directory: %w", err)
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

// MarkComplete sets Passes on the story with the given ID and persists the
// backlog. Idempotent: a story that already passes is left untouched, so
// CompletedAt is only set on the first transition. Returns NotFoundError if
// no story has the given ID.
func (s *Store) MarkComplete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadUnlocked()
	if err != nil {
		return err
	}

	story := b.FindStory(id)
	if story == nil {
		return &NotFoundError{ID: id}
	}

	if story.Passes {
		return nil
	}

	now := time.Now().Truncate(time.Second)
	story.Passes = true
	story.CompletedAt = &now

	return s.saveUnlocked(b)
}

// NextPending loads the backlog and returns the first pending story,
// or nil if every story passes.
func (s *Store) NextPending() (*Story, error) {
	b, err := s.Load()
	if err != nil {
		return nil, err
	}
	return b.NextPending(), nil
}

// AllComplete loads the backlog and reports whether every story passes.
func (s *Store) AllComplete() (bool, error) {
	b, err := s.Load()
	if err != nil {
		return false, err
	}
	return b.AllComplete(), nil
}
