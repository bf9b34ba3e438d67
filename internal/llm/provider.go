// Package llm integrates the LLM providers behind one streaming interface.
// Each provider converts the loop's conversation shape to its wire format,
// streams the response and emits chunks on a channel.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// DefaultTurnTimeout bounds one LLM turn unless the caller overrides it.
const DefaultTurnTimeout = 30 * time.Second

// Request is one completion turn.
type Request struct {
	Model     string
	System    string
	Messages  []models.TurnMessage
	Tools     []models.ToolSpec
	MaxTokens int
}

// Chunk is one streamed unit of a completion. Exactly one terminal chunk is
// emitted per turn: Done on success, Err on failure.
type Chunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider streams completion turns. Implementations are safe for concurrent
// use; each Complete call owns an independent stream and goroutine.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// toolSchemaJSON renders a tool spec's input schema as a JSON Schema object.
func toolSchemaJSON(spec models.ToolSpec) ([]byte, error) {
	properties := make(map[string]any, len(spec.InputSchema))
	var required []string
	for name, prop := range spec.InputSchema {
		p := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			p["description"] = prop.Description
		}
		properties[name] = p
		if !prop.Optional {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}
