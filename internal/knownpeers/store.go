package knownpeers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

// Store persists the known peer names between runs.
type Store interface {
	Load() ([]string, error)
	Save(names []string) error
}

// FileStore keeps the names as a JSON array on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read known peers: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse known peers: %w", err)
	}
	return names, nil
}

func (f *FileStore) Save(names []string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create known peers dir: %w", err)
	}
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write known peers: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// MemoryStore is a Store without persistence.
type MemoryStore struct {
	mu    sync.Mutex
	names []string
}

func NewMemoryStore(names ...string) *MemoryStore {
	return &MemoryStore{names: slices.Clone(names)}
}

func (m *MemoryStore) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.names), nil
}

func (m *MemoryStore) Save(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = slices.Clone(names)
	return nil
}

// Set is the ordered, concurrency-safe view of the known peers.
// Every mutation is written through to the Store.
type Set struct {
	mu    sync.Mutex
	store Store
	names []string
}

// Open loads the set from store. A load failure starts an empty set.
func Open(store Store) *Set {
	s := &Set{store: store}
	names, err := store.Load()
	if err != nil {
		logger.Log.Warn("Known peers unreadable, starting empty", "error", err)
	}
	for _, n := range names {
		if n != "" && !slices.Contains(s.names, n) {
			s.names = append(s.names, n)
		}
	}
	return s
}

func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.names)
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

func (s *Set) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.names, name)
}

func (s *Set) Add(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.names, name) {
		return
	}
	s.names = append(s.names, name)
	s.persist()
}

func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.names, name)
	if i < 0 {
		return
	}
	s.names = slices.Delete(s.names, i, i+1)
	s.persist()
}

func (s *Set) persist() {
	if err := s.store.Save(slices.Clone(s.names)); err != nil {
		logger.Log.Warn("Failed to save known peers", "error", err)
	}
}
