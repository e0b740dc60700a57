package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/ent0n29/voicerelay/internal/knowledge"
	"github.com/ent0n29/voicerelay/internal/voice"
)

func TestDeclarationsRequireQuery(t *testing.T) {
	decls := Declarations()
	if len(decls) != 1 || decls[0].Name != SearchKnowledgeBase {
		t.Fatalf("Declarations() = %+v", decls)
	}
	required, _ := decls[0].Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("required = %v, want [query]", required)
	}
}

func TestResolveKeepsCallIDs(t *testing.T) {
	r := NewResolver(knowledge.NewInMemoryStore())
	got := r.Resolve(context.Background(), []voice.FunctionCall{
		{ID: "a", Name: SearchKnowledgeBase, Args: map[string]any{"query": "پسته"}},
		{ID: "b", Name: "launch_rocket"},
		{ID: "c", Name: SearchKnowledgeBase},
	})
	if len(got) != 3 {
		t.Fatalf("Resolve() returned %d responses, want 3", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("response ids = %s,%s,%s", got[0].ID, got[1].ID, got[2].ID)
	}
	result, _ := got[0].Response["result"].(string)
	if !strings.Contains(result, "پسته") {
		t.Fatalf("result = %q", result)
	}
	if _, ok := got[1].Response["error"]; !ok {
		t.Fatalf("unknown tool should report an error: %+v", got[1])
	}
	if _, ok := got[2].Response["error"]; !ok {
		t.Fatalf("missing query should report an error: %+v", got[2])
	}
}
