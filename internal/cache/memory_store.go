package cache

import (
	"sync"

	"tonnage-service/internal/domain/tonnage"
)

// MemoryStore is an in-process Store bounded by entry count. When full, the
// oldest entry is evicted first.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]tonnage.EstimationResult
	order      []string
}

// NewMemoryStore creates a store holding at most maxEntries results.
// maxEntries <= 0 means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		maxEntries: maxEntries,
		entries:    make(map[string]tonnage.EstimationResult),
	}
}

func (s *MemoryStore) Get(fingerprint string) (tonnage.EstimationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.entries[fingerprint]
	return result, ok
}

func (s *MemoryStore) Set(fingerprint string, result tonnage.EstimationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[fingerprint]; !exists {
		s.order = append(s.order, fingerprint)
	}
	s.entries[fingerprint] = result

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

func (s *MemoryStore) Delete(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[fingerprint]; !exists {
		return
	}
	delete(s.entries, fingerprint)
	for i, fp := range s.order {
		if fp == fingerprint {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
