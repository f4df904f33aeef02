// Package storage persists session snapshots as JSON files under a
// data directory. Writes are atomic (temp file plus rename) and guarded
// by advisory file locks so concurrent processes do not tear files.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arche-ai/arche/internal/logging"
	"github.com/arche-ai/arche/pkg/types"
)

// ErrNotFound is returned when no snapshot exists for a session.
var ErrNotFound = errors.New("not found")

const sessionsDir = "sessions"

// Store is a file-backed snapshot store rooted at a data directory.
type Store struct {
	root  string
	mu    sync.Mutex
	locks map[string]*fileLock
	log   zerolog.Logger
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{
		root:  dir,
		locks: make(map[string]*fileLock),
		log:   logging.ForComponent("storage"),
	}
}

// Root returns the store's data directory.
func (s *Store) Root() string { return s.root }

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.root, sessionsDir, id+".json")
}

// SaveSession writes a session snapshot.
func (s *Store) SaveSession(snap *types.SessionSnapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.New("snapshot has no session id")
	}
	return s.put(s.sessionPath(snap.ID), snap)
}

// LoadSession reads a session snapshot.
func (s *Store) LoadSession(id string) (*types.SessionSnapshot, error) {
	var snap types.SessionSnapshot
	if err := s.get(s.sessionPath(id), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeleteSession removes a session snapshot. Deleting a missing
// snapshot is not an error.
func (s *Store) DeleteSession(id string) error {
	path := s.sessionPath(id)

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// ListSessions returns the ids of all stored sessions, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ScanSessions calls fn with each stored snapshot. Unreadable files are
// logged and skipped.
func (s *Store) ScanSessions(fn func(snap *types.SessionSnapshot) error) error {
	ids, err := s.ListSessions()
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, err := s.LoadSession(id)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("skipping unreadable snapshot")
			continue
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) put(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *Store) get(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}

func (s *Store) lockFor(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = newFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
