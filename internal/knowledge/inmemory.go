package knowledge

import (
	"context"
	"strings"
	"sync"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore(entries ...Entry) *InMemoryStore {
	if len(entries) == 0 {
		entries = DefaultEntries()
	}
	return &InMemoryStore{entries: append([]Entry(nil), entries...)}
}

// Add appends an entry to the corpus.
func (s *InMemoryStore) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *InMemoryStore) Lookup(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FormatAnswer(query, rank(query, s.entries)), nil
}

func (s *InMemoryStore) Close() error { return nil }
