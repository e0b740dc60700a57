// Package tools declares the functions offered to the upstream model and
// resolves its invocations locally.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/voicerelay/internal/knowledge"
	"github.com/ent0n29/voicerelay/internal/voice"
)

const SearchKnowledgeBase = "search_knowledge_base"

var ErrUnknownTool = errors.New("tools: unknown tool")

// Declarations lists the tools announced in the upstream session setup.
func Declarations() []voice.ToolDeclaration {
	return []voice.ToolDeclaration{{
		Name:        SearchKnowledgeBase,
		Description: "Search for specific information about Rafsanjan in the knowledge base.",
		Parameters: map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "STRING",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}}
}

// Resolver answers upstream function calls without involving the client.
type Resolver struct {
	store knowledge.Store
}

func NewResolver(store knowledge.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve produces one response per call, keyed by the call id. Failures
// are reported to the model inside the response instead of aborting.
func (r *Resolver) Resolve(ctx context.Context, calls []voice.FunctionCall) []voice.FunctionResponse {
	out := make([]voice.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		result, err := r.resolveOne(ctx, call)
		resp := voice.FunctionResponse{ID: call.ID, Name: call.Name}
		if err != nil {
			resp.Response = map[string]any{"error": err.Error()}
		} else {
			resp.Response = map[string]any{"result": result}
		}
		out = append(out, resp)
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, call voice.FunctionCall) (string, error) {
	switch call.Name {
	case SearchKnowledgeBase:
		query, _ := call.Args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("%s: missing query argument", call.Name)
		}
		return r.store.Lookup(ctx, query)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
}
