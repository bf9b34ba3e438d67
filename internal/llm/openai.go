package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// OpenAIProvider streams completions from the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider for the given API key.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete opens a chat completion stream. A creation failure returns an
// error immediately; nothing is retried.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools, err := convertOpenAITools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream reads response deltas. Tool call fragments accumulate per
// index; they flush when the finish reason arrives or the stream ends.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int

	flush := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &Chunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- &Chunk{Err: fmt.Errorf("openai: %w", err)}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(
					string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertOpenAIMessages maps the loop's shape to OpenAI messages. The system
// prompt leads the array; each tool result becomes its own tool-role message
// threaded by call id.
func convertOpenAIMessages(messages []models.TurnMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.Role = openai.ChatMessageRoleAssistant
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertOpenAITools(specs []models.ToolSpec) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		raw, err := toolSchemaJSON(spec)
		if err != nil {
			return nil, fmt.Errorf("openai: schema for %s: %w", spec.Name, err)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(raw),
			},
		})
	}
	return result, nil
}

var _ Provider = (*OpenAIProvider)(nil)
