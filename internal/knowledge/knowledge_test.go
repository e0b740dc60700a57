package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInMemoryLookupMatchesKeywords(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Lookup(context.Background(), "بهترین پسته کدام است؟")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !strings.Contains(got, "اکبری") {
		t.Fatalf("answer missing pistachio fact: %s", got)
	}
	if strings.Contains(got, "دره راگه") {
		t.Fatalf("answer should only include matching facts: %s", got)
	}
	if !strings.Contains(got, `"بهترین پسته کدام است؟"`) {
		t.Fatalf("answer header missing query: %s", got)
	}
}

func TestInMemoryLookupFallsBackToCorpus(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Lookup(context.Background(), "weather tomorrow")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	for _, e := range DefaultEntries() {
		if !strings.Contains(got, e.Content) {
			t.Fatalf("fallback answer missing %s", e.ID)
		}
	}
}

func TestInMemoryLookupRejectsEmptyQuery(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Lookup(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Lookup() error = %v, want ErrEmptyQuery", err)
	}
}

func TestInMemoryAdd(t *testing.T) {
	s := NewInMemoryStore(Entry{ID: "a", Content: "alpha", Keywords: []string{"alpha"}})
	s.Add(Entry{ID: "b", Content: "beta", Keywords: []string{"beta"}})
	got, err := s.Lookup(context.Background(), "tell me about beta")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !strings.Contains(got, "beta") || strings.Contains(got, "alpha") {
		t.Fatalf("unexpected answer: %s", got)
	}
}

func TestNewStoreWithoutDatabaseIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}
