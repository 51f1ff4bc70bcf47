package demo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/moolen/citadel/internal/lifecycle"
)

// Store is an in-memory key/value store. The "namespace" parameter prefixes
// every key; the "seed.*" parameters are loaded at Initialize.
type Store struct {
	mu        sync.RWMutex
	namespace string
	seed      map[string]string
	data      map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Parameterize(_ context.Context, p lifecycle.Parameters) error {
	s.namespace = p.Get("namespace", "default")
	s.seed = make(map[string]string)
	for k, v := range p {
		if name, ok := strings.CutPrefix(k, "seed."); ok && name != "" {
			s.seed[name] = v
		}
	}
	return nil
}

func (s *Store) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string, len(s.seed))
	for k, v := range s.seed {
		s.data[s.key(k)] = v
	}
	return nil
}

func (s *Store) Dispose(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *Store) key(k string) string {
	return s.namespace + "/" + k
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[s.key(key)]
	return v, ok
}

func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[s.key(key)] = value
}

// Keys returns the stored keys without the namespace prefix, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := s.namespace + "/"
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(keys)
	return keys
}
