// Package favorites persists favorite application ids and mediates between
// the durable store and the registry's cached flags.
package favorites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is a flat application id -> favorite mapping.
type Store interface {
	Load(ctx context.Context) (map[string]bool, error)
	Set(ctx context.Context, key string, favorite bool) error
	Close() error
}

// FileStore keeps favorites in a YAML file. Every Set rewrites the file
// through a temporary file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]bool
}

// NewFileStore returns a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readLocked(); err != nil {
		return nil, err
	}
	return copyFavorites(s.data), nil
}

func (s *FileStore) readLocked() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = make(map[string]bool)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading favorites: %w", err)
	}

	m := make(map[string]bool)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing favorites %s: %w", s.path, err)
	}
	s.data = m
	return nil
}

func (s *FileStore) Set(ctx context.Context, key string, favorite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if err := s.readLocked(); err != nil {
			return err
		}
	}

	next := copyFavorites(s.data)
	if favorite {
		next[key] = true
	} else {
		delete(next, key)
	}

	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshaling favorites: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating favorites directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing favorites: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing favorites: %w", err)
	}
	s.data = next
	return nil
}

func (s *FileStore) Close() error { return nil }

// writeSynced writes data to path and flushes it to disk before returning.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MemoryStore keeps favorites in process memory only.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]bool
}

// NewMemoryStore returns a store seeded with initial.
func NewMemoryStore(initial map[string]bool) *MemoryStore {
	return &MemoryStore{data: copyFavorites(initial)}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyFavorites(s.data), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, favorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if favorite {
		s.data[key] = true
	} else {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyFavorites(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}

type unavailableStore struct {
	err error
}

// Unavailable returns a store whose every operation fails with err. The
// adapter degrades to in-memory favorites on the first Load.
func Unavailable(err error) Store {
	return unavailableStore{err: err}
}

func (s unavailableStore) Load(ctx context.Context) (map[string]bool, error) { return nil, s.err }

func (s unavailableStore) Set(ctx context.Context, key string, favorite bool) error { return s.err }

func (s unavailableStore) Close() error { return nil }
