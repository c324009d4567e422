// Package artifacts stores run screenshots.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Store saves a named artifact for a run and returns where it went
type Store interface {
	Put(ctx context.Context, runID, name string, data []byte) (string, error)
}

// StepName is the audit screenshot taken after step i succeeds
func StepName(i int) string { return fmt.Sprintf("step_%d.png", i) }

// AuthName is the screenshot taken when step i hits an authentication page
func AuthName(i int) string { return fmt.Sprintf("step_%d_auth.png", i) }

// DisambiguationName is the screenshot shown with a candidate list for step i
func DisambiguationName(i int) string { return fmt.Sprintf("step_%d_disambiguation.png", i) }

// ErrorName is the screenshot taken when a run fails
const ErrorName = "error.png"

// CleanName reduces a caller-supplied file name to a single safe path
// element, adding a .png extension when none is present.
func CleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	if path.Ext(base) == "" {
		base += ".png"
	}
	return base, nil
}

// MemoryStore keeps artifacts in memory
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Put stores a copy of data under runID/name
func (s *MemoryStore) Put(ctx context.Context, runID, name string, data []byte) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	key := runID + "/" + clean

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), data...)
	return key, nil
}

// Get returns the artifact stored under key
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[key]
	return data, ok
}

// Keys lists stored keys for runID, sorted
func (s *MemoryStore) Keys(runID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, runID+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
