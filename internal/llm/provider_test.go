package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func TestToolSchemaJSON(t *testing.T) {
	spec := models.ToolSpec{
		Name: "search",
		InputSchema: map[string]models.ToolProperty{
			"query": {Type: "string", Description: "search text"},
			"limit": {Type: "number", Optional: true},
		},
	}
	raw, err := toolSchemaJSON(spec)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []any{"query"}, doc["required"], "optional properties are not required")

	props := doc["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	assert.Equal(t, "string", query["type"])
	assert.Equal(t, "search text", query["description"])
}

func TestProvidersRequireAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider("")
	assert.Error(t, err)
	_, err = NewOpenAIProvider("")
	assert.Error(t, err)
	_, err = NewGoogleProvider("")
	assert.Error(t, err)
}

func TestConvertAnthropicMessagesThreading(t *testing.T) {
	messages := []models.TurnMessage{
		{Role: models.RoleSystem, Content: "ignored here"},
		{Role: models.RoleUser, Content: "find it"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "search", Input: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: models.RoleUser, ToolResults: []models.ToolCallResult{
			{ToolCallID: "tc1", Content: `{"hits":1}`},
		}},
	}
	converted, err := convertAnthropicMessages(messages)
	require.NoError(t, err)
	assert.Len(t, converted, 3, "system message is carried separately")
}

func TestConvertOpenAIMessagesToolRole(t *testing.T) {
	messages := []models.TurnMessage{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "search", Input: json.RawMessage(`{}`)},
		}},
		{Role: models.RoleUser, ToolResults: []models.ToolCallResult{
			{ToolCallID: "tc1", Content: "found"},
			{ToolCallID: "tc2", Content: "also"},
		}},
	}
	converted := convertOpenAIMessages(messages, "be brief")
	require.Len(t, converted, 5, "system + user + assistant + one tool message per result")
	assert.Equal(t, "system", converted[0].Role)
	assert.Equal(t, "tool", converted[3].Role)
	assert.Equal(t, "tc1", converted[3].ToolCallID)
	assert.Equal(t, "tool", converted[4].Role)
	assert.Equal(t, "tc2", converted[4].ToolCallID)
}

func TestConvertGoogleMessagesFunctionNames(t *testing.T) {
	messages := []models.TurnMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "lookup", Input: json.RawMessage(`{"id":1}`)},
		}},
		{Role: models.RoleUser, ToolResults: []models.ToolCallResult{
			{ToolCallID: "tc1", Content: "row"},
		}},
	}
	converted, err := convertGoogleMessages(messages)
	require.NoError(t, err)
	require.Len(t, converted, 2)
	require.Len(t, converted[1].Parts, 1)
	assert.Equal(t, "lookup", converted[1].Parts[0].FunctionResponse.Name)
}
