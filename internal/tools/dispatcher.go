package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// DispatchResult is the outcome of one tool HTTP call. Body carries the raw
// response text; Error is set for transport failures and non-2xx statuses.
type DispatchResult struct {
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IsError reports whether the call failed.
func (d DispatchResult) IsError() bool {
	return d.Error != ""
}

// Content renders the result the way it is threaded back into the
// conversation: the body on success, a JSON error envelope otherwise.
func (d DispatchResult) Content() string {
	if !d.IsError() {
		return d.Body
	}
	raw, _ := json.Marshal(d)
	return string(raw)
}

// Dispatcher executes tool calls over HTTP against the configured base URL.
type Dispatcher struct {
	baseURL string
	client  *http.Client
}

// NewDispatcher builds a dispatcher. client may be nil for a default with a
// 30 s timeout.
func NewDispatcher(baseURL string, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Dispatch calls the tool's endpoint exactly once. Method and endpoint come
// from the spec's routing; the call arguments are the request body for
// non-GET methods. Non-2xx responses come back as results with
// "HTTP <code>"; failures are never retried here, they surface to the loop.
func (d *Dispatcher) Dispatch(ctx context.Context, spec *models.ToolSpec, args json.RawMessage) DispatchResult {
	if spec.MCPRouting == nil || spec.MCPRouting.Endpoint == "" {
		return DispatchResult{Error: fmt.Sprintf("tool %q has no routing", spec.Name)}
	}
	method := spec.Method()
	url := d.baseURL + "/" + strings.TrimLeft(spec.MCPRouting.Endpoint, "/")
	return d.call(ctx, method, url, args)
}

func (d *Dispatcher) call(ctx context.Context, method, url string, args json.RawMessage) DispatchResult {
	var body io.Reader
	if method != http.MethodGet && len(args) > 0 {
		body = bytes.NewReader(args)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return DispatchResult{Error: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return DispatchResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return DispatchResult{Status: resp.StatusCode, Error: err.Error()}
	}
	result := DispatchResult{Status: resp.StatusCode, Body: string(raw)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}
