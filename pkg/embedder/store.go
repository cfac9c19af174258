package embedder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

// Occupancy reports whether an embedder currently stores vectors
type Occupancy interface {
	HasVectors(name string) bool
}

// OccupancyFunc adapts a function to Occupancy
type OccupancyFunc func(name string) bool

// HasVectors calls f(name)
func (f OccupancyFunc) HasVectors(name string) bool {
	return f(name)
}

// Persister durably stores committed configurations
type Persister interface {
	SaveEmbedder(name string, cfg Config) error
	DeleteEmbedder(name string) error
	LoadEmbedders() (map[string]Config, error)
}

// Store holds the committed configuration of every embedder. It never
// changes state during validation; only Commit, Remove and Load do.
type Store struct {
	mu        sync.RWMutex
	configs   map[string]Config
	revisions map[string]uint64
	rev       uint64

	occupancy Occupancy
	persister Persister
}

// NewStore creates an empty store. persister may be nil.
func NewStore(occupancy Occupancy, persister Persister) *Store {
	if occupancy == nil {
		occupancy = OccupancyFunc(func(string) bool { return false })
	}
	return &Store{
		configs:   make(map[string]Config),
		revisions: make(map[string]uint64),
		occupancy: occupancy,
		persister: persister,
	}
}

// Get returns the committed configuration of name
func (s *Store) Get(name string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// Names returns the embedder names in sorted order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every committed configuration
func (s *Store) All() map[string]Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Config, len(s.configs))
	for name, cfg := range s.configs {
		out[name] = cfg
	}
	return out
}

// ProposeUpdate validates settings for name and returns the transition the
// caller must carry out. Validation order: creation, quantization latch,
// dimension changes, classification. The store is not modified.
func (s *Store) ProposeUpdate(name string, settings Settings) (Transition, error) {
	s.mu.RLock()
	var current *Config
	if cfg, ok := s.configs[name]; ok {
		current = &cfg
	}
	revision := s.revisions[name]
	s.mu.RUnlock()

	t, err := plan(name, current, settings, func() bool { return s.occupancy.HasVectors(name) })
	if err != nil {
		return Transition{}, err
	}
	t.revision = revision
	return t, nil
}

// Commit makes a transition's configuration current. It fails when the
// embedder changed since the transition was proposed.
func (s *Store) Commit(t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revisions[t.Name] != t.revision {
		return vecerr.Internal(t.Name, vecerr.ErrStaleTransition)
	}
	if s.persister != nil {
		if err := s.persister.SaveEmbedder(t.Name, t.After); err != nil {
			return vecerr.Internal(t.Name, fmt.Errorf("persist settings: %w", err))
		}
	}

	s.rev++
	s.configs[t.Name] = t.After
	s.revisions[t.Name] = s.rev
	return nil
}

// Remove deletes the configuration of name and reports whether it existed
func (s *Store) Remove(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[name]; !ok {
		return false, nil
	}
	if s.persister != nil {
		if err := s.persister.DeleteEmbedder(name); err != nil {
			return false, vecerr.Internal(name, fmt.Errorf("delete settings: %w", err))
		}
	}

	delete(s.configs, name)
	delete(s.revisions, name)
	return true, nil
}

// Load replaces the store contents with the persisted configurations
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	configs, err := s.persister.LoadEmbedders()
	if err != nil {
		return vecerr.Internal("", fmt.Errorf("load settings: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs = make(map[string]Config, len(configs))
	s.revisions = make(map[string]uint64, len(configs))
	for name, cfg := range configs {
		s.rev++
		s.configs[name] = cfg
		s.revisions[name] = s.rev
	}
	return nil
}
