package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// EventSink receives loop events on their way to the client. The streaming
// handler writes through to the SSE response; the sync handler accumulates
// into a single JSON reply.
type EventSink interface {
	Send(event models.ReactEvent) error
}

// sessionPayload is the data of the initial session event.
type sessionPayload struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
}

// eventData picks the wire payload for one event.
func eventData(event models.ReactEvent) any {
	switch event.Type {
	case models.EventText, models.EventTextDelta:
		return map[string]string{"text": event.Text}
	case models.EventToolCall:
		return event.ToolCall
	case models.EventToolResult:
		return event.ToolResult
	case models.EventToolWarning:
		return event.Warning
	case models.EventHitl:
		return event.Hitl
	case models.EventError:
		return map[string]string{"error": event.Error}
	case models.EventDone:
		return event.Done
	default:
		return event
	}
}

// SseSink frames events as Server-Sent Events and flushes each one.
type SseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSseSink writes the SSE headers and returns the sink. The returned error
// is non-nil when the writer cannot stream.
func NewSseSink(w http.ResponseWriter) (*SseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("gateway: response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SseSink{w: w, flusher: flusher}, nil
}

// SendNamed writes one frame with an explicit event name.
func (s *SseSink) SendNamed(name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("gateway: encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *SseSink) Send(event models.ReactEvent) error {
	return s.SendNamed(string(event.Type), eventData(event))
}

var _ EventSink = (*SseSink)(nil)

// syncToolCall is one executed tool call in a sync reply.
type syncToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// syncWarning is one verifier warning in a sync reply.
type syncWarning struct {
	Tool     string `json:"tool"`
	Verifier string `json:"verifier,omitempty"`
	Message  string `json:"message"`
}

// syncReply is the 200 body of /agent-api/chat-sync.
type syncReply struct {
	ConversationID string         `json:"conversationId"`
	AgentID        string         `json:"agentId,omitempty"`
	Message        string         `json:"message"`
	ToolCalls      []syncToolCall `json:"toolCalls"`
	Warnings       []syncWarning  `json:"warnings"`
	Flags          []string       `json:"flags"`
}

// BufferSink accumulates events into a syncReply. Text events overwrite,
// deltas append; last text wins.
type BufferSink struct {
	reply syncReply
}

func NewBufferSink(sessionID, agentID string) *BufferSink {
	return &BufferSink{reply: syncReply{
		ConversationID: sessionID,
		AgentID:        agentID,
		ToolCalls:      []syncToolCall{},
		Warnings:       []syncWarning{},
		Flags:          []string{},
	}}
}

func (b *BufferSink) Send(event models.ReactEvent) error {
	switch event.Type {
	case models.EventTextDelta:
		b.reply.Message += event.Text
	case models.EventText:
		b.reply.Message = event.Text
	case models.EventToolCall:
		b.reply.ToolCalls = append(b.reply.ToolCalls, syncToolCall{
			ID:   event.ToolCall.ID,
			Name: event.ToolCall.Name,
			Args: event.ToolCall.Input,
		})
	case models.EventToolResult:
		for i := range b.reply.ToolCalls {
			if b.reply.ToolCalls[i].ID == event.ToolResult.ToolCallID {
				b.reply.ToolCalls[i].Result = event.ToolResult.Body
				b.reply.ToolCalls[i].Error = event.ToolResult.Error
				break
			}
		}
	case models.EventToolWarning:
		b.reply.Warnings = append(b.reply.Warnings, syncWarning{
			Tool:     event.Warning.Tool,
			Verifier: event.Warning.Verifier,
			Message:  event.Warning.Message,
		})
	case models.EventError:
		b.reply.Flags = append(b.reply.Flags, "error: "+event.Error)
	}
	return nil
}

// Reply returns the accumulated body.
func (b *BufferSink) Reply() syncReply {
	return b.reply
}

var _ EventSink = (*BufferSink)(nil)
