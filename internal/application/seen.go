package application

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SeenSet is a bounded window of recently observed mention IDs. Lookups use
// Peek so entries are never promoted: eviction follows insertion order, and
// the oldest IDs drop first once the bound is exceeded.
type SeenSet struct {
	cache *lru.Cache[string, struct{}]
}

// NewSeenSet creates a set bounded to capacity entries.
func NewSeenSet(capacity int) (*SeenSet, error) {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create seen set: %w", err)
	}
	return &SeenSet{cache: cache}, nil
}

// Seen reports whether id was observed before, recording it when new.
func (s *SeenSet) Seen(id string) bool {
	if _, ok := s.cache.Peek(id); ok {
		return true
	}
	s.cache.Add(id, struct{}{})
	return false
}

// Contains reports whether id was observed before, without recording it.
func (s *SeenSet) Contains(id string) bool {
	_, ok := s.cache.Peek(id)
	return ok
}

// Len returns the number of IDs currently tracked.
func (s *SeenSet) Len() int {
	return s.cache.Len()
}
