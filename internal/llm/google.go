package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// GoogleProvider streams completions from the Gemini API.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogleProvider creates a provider for the given API key.
func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// Complete streams one Gemini turn. Gemini does not stream partial tool
// input; each function call arrives whole, so tool chunks carry complete
// arguments.
func (p *GoogleProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		contents, err := convertGoogleMessages(req.Messages)
		if err != nil {
			chunks <- &Chunk{Err: fmt.Errorf("google: %w", err)}
			return
		}
		config := p.buildConfig(req)

		if err := p.streamOnce(ctx, req.Model, contents, config, chunks); err != nil {
			chunks <- &Chunk{Err: fmt.Errorf("google: %w", err)}
			return
		}
		chunks <- &Chunk{Done: true}
	}()

	return chunks, nil
}

func (p *GoogleProvider) streamOnce(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *Chunk) error {
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &Chunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					chunks <- &Chunk{ToolCall: &models.ToolCall{
						ID:    fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, time.Now().UnixNano()),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}}
				}
			}
		}
	}
	return nil
}

func (p *GoogleProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGoogleTools(req.Tools)
	}
	return config
}

// convertGoogleMessages maps the loop's shape to Gemini content. Tool
// results become function responses on the user side; the function name is
// recovered from the matching call in earlier messages.
func convertGoogleMessages(messages []models.TurnMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &args); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCall(tr.ToolCallID, messages),
					Response: map[string]any{"result": tr.Content},
				},
			})
		}
		if len(content.Parts) == 0 {
			continue
		}
		result = append(result, content)
	}
	return result, nil
}

// toolNameForCall finds the function name behind a tool call id.
func toolNameForCall(toolCallID string, messages []models.TurnMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return toolCallID
}

func convertGoogleTools(specs []models.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		properties := make(map[string]*genai.Schema, len(spec.InputSchema))
		var required []string
		for name, prop := range spec.InputSchema {
			properties[name] = &genai.Schema{
				Type:        googleSchemaType(prop.Type),
				Description: prop.Description,
			}
			if !prop.Optional {
				required = append(required, name)
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func googleSchemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

var _ Provider = (*GoogleProvider)(nil)
