package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/internal/agents"
	"github.com/jsquire4/tool-forge-sub001/internal/audit"
	"github.com/jsquire4/tool-forge-sub001/internal/auth"
	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/internal/conversation"
	"github.com/jsquire4/tool-forge-sub001/internal/hitl"
	"github.com/jsquire4/tool-forge-sub001/internal/llm"
	"github.com/jsquire4/tool-forge-sub001/internal/observability"
	"github.com/jsquire4/tool-forge-sub001/internal/prefs"
	"github.com/jsquire4/tool-forge-sub001/internal/prompts"
	"github.com/jsquire4/tool-forge-sub001/internal/ratelimit"
	"github.com/jsquire4/tool-forge-sub001/internal/tools"
	"github.com/jsquire4/tool-forge-sub001/internal/verifiers"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Complete call.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]llm.Chunk
	requests []*llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if idx >= len(p.turns) {
		return nil, errors.New("scripted provider exhausted")
	}
	out := make(chan *llm.Chunk, len(p.turns[idx]))
	for i := range p.turns[idx] {
		chunk := p.turns[idx][i]
		out <- &chunk
	}
	close(out)
	return out, nil
}

// stubAuth authenticates any bearer token, using the token as the user id.
type stubAuth struct{}

func (stubAuth) Authenticate(r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return auth.Result{}
	}
	return auth.Result{Authenticated: true, UserID: strings.TrimPrefix(header, prefix)}
}

// denyLimiter rejects everything.
type denyLimiter struct{ retryAfter int }

func (d denyLimiter) Allow(ctx context.Context, userID, route string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: d.retryAfter}, nil
}

type testEnv struct {
	handler  http.Handler
	server   *Server
	convs    *conversation.MemoryStore
	agents   agents.Registry
	prompts  prompts.Store
	hitl     *hitl.Engine
	sink     *audit.MemorySink
	recorder *audit.Recorder
}

type envOption func(*config.Config, *Options)

func withLimiter(l ratelimit.Limiter) envOption {
	return func(_ *config.Config, o *Options) { o.Limiter = l }
}

func withAdminKey(key string) envOption {
	return func(_ *config.Config, o *Options) { o.AdminAuth = auth.NewAdminAuthenticator(key) }
}

func withConfig(mutate func(*config.Config)) envOption {
	return func(c *config.Config, _ *Options) { mutate(c) }
}

func withTools(specs []models.ToolSpec, baseURL string) envOption {
	return func(_ *config.Config, o *Options) {
		reg, err := tools.NewRegistry(specs)
		if err != nil {
			panic(err)
		}
		o.Tools = reg
		o.Dispatcher = tools.NewDispatcher(baseURL, nil)
	}
}

func withVerifiers(runner *verifiers.Runner) envOption {
	return func(_ *config.Config, o *Options) { o.Verifiers = runner }
}

func newEnv(t *testing.T, provider llm.Provider, opts ...envOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	convs := conversation.NewMemoryStore()
	registry := agents.NewMemoryRegistry()
	promptStore := prompts.NewMemoryStore()
	prefStore := prefs.NewMemoryStore()
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink, logger)

	engine := hitl.NewEngine(hitl.NewMemoryStore(), time.Minute, logger)
	t.Cleanup(func() { engine.Close() })

	options := Options{
		Config:        cfg,
		UserAuth:      stubAuth{},
		AdminAuth:     auth.NewAdminAuthenticator("admin-secret"),
		Agents:        registry,
		Prompts:       promptStore,
		Prefs:         prefStore,
		Resolver:      prefs.NewResolver(prefStore, func(string) string { return "test-key" }),
		Conversations: convs,
		Hitl:          engine,
		Audit:         recorder,
		Metrics:       observability.NewMetricsWith(prometheus.NewRegistry()),
		Logger:        logger,
		Providers: func(prefs.Provider, string) (llm.Provider, error) {
			return provider, nil
		},
	}
	overlay, err := config.NewRuntimeOverlay("")
	require.NoError(t, err)
	options.Overlay = overlay

	for _, opt := range opts {
		opt(cfg, &options)
	}

	srv, err := NewServer(options)
	require.NoError(t, err)

	return &testEnv{
		handler:  srv.Handler(),
		server:   srv,
		convs:    convs,
		agents:   registry,
		prompts:  promptStore,
		hitl:     engine,
		sink:     sink,
		recorder: recorder,
	}
}

func (e *testEnv) do(method, path, userToken string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func textTurn(parts ...string) []llm.Chunk {
	var turn []llm.Chunk
	for _, p := range parts {
		turn = append(turn, llm.Chunk{Text: p})
	}
	return append(turn, llm.Chunk{Done: true, InputTokens: 10, OutputTokens: 5})
}

func toolTurn(id, name, args string) []llm.Chunk {
	return []llm.Chunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

func promotedTool(name, method, endpoint string) models.ToolSpec {
	return models.ToolSpec{
		Name:       name,
		Lifecycle:  models.ToolPromoted,
		MCPRouting: &models.MCPRouting{Endpoint: endpoint, Method: method},
	}
}

func TestChatStreamsTextOverSSE(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llm.Chunk{textTurn("Hel", "lo")}}
	env := newEnv(t, provider)

	rec := env.do(http.MethodPost, "/agent-api/chat", "alice",
		map[string]string{"message": "hi", "sessionId": "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: session")
	assert.Contains(t, body, `"sessionId":"s1"`)
	assert.Contains(t, body, "event: text_delta")
	assert.Contains(t, body, "event: done")

	history, err := env.convs.GetHistory(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello", history[1].Content)

	require.NoError(t, env.recorder.Close())
	rows := env.sink.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "/agent-api/chat", rows[0].Route)
	assert.Equal(t, "alice", rows[0].UserID)
	assert.Equal(t, http.StatusOK, rows[0].StatusCode)
}

func TestChatSyncRunsToolAndReplies(t *testing.T) {
	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temp": 21}`))
	}))
	defer toolSrv.Close()

	provider := &scriptedProvider{turns: [][]llm.Chunk{
		toolTurn("tc1", "get_weather", `{"city":"Oslo"}`),
		textTurn("It is 21 degrees."),
	}}
	env := newEnv(t, provider,
		withConfig(func(c *config.Config) { c.Hitl.DefaultLevel = models.HitlAutonomous }),
		withTools([]models.ToolSpec{promotedTool("get_weather", "GET", "/weather")}, toolSrv.URL),
	)

	rec := env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "weather in Oslo?", "sessionId": "s2"})

	require.Equal(t, http.StatusOK, rec.Code)
	var reply struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
		ToolCalls      []struct {
			Name   string          `json:"name"`
			Result json.RawMessage `json:"result"`
		} `json:"toolCalls"`
	}
	decodeJSON(t, rec, &reply)
	assert.Equal(t, "s2", reply.ConversationID)
	assert.Equal(t, "It is 21 degrees.", reply.Message)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "get_weather", reply.ToolCalls[0].Name)
	assert.JSONEq(t, `{"temp": 21}`, string(reply.ToolCalls[0].Result))

	// Second turn saw the tool result threaded back.
	require.Len(t, provider.requests, 2)
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "tc1", last.ToolResults[0].ToolCallID)
}

func TestChatSyncPausesWithConflict(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llm.Chunk{
		toolTurn("tc1", "delete_record", `{"id":"r1"}`),
	}}
	env := newEnv(t, provider,
		withConfig(func(c *config.Config) { c.Hitl.DefaultLevel = models.HitlStandard }),
		withTools([]models.ToolSpec{promotedTool("delete_record", "DELETE", "/records")}, "http://unused.invalid"),
	)

	rec := env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "delete r1", "sessionId": "s3"})

	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.NotEmpty(t, body["resumeToken"])
	assert.Equal(t, "delete_record", body["tool"])
}

func TestResumeCancelKeepsTokenThenConfirmRuns(t *testing.T) {
	var executions int
	var mu sync.Mutex
	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		executions++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deleted": true}`))
	}))
	defer toolSrv.Close()

	provider := &scriptedProvider{turns: [][]llm.Chunk{
		toolTurn("tc1", "delete_record", `{"id":"r1"}`),
		textTurn("Record deleted."),
	}}
	env := newEnv(t, provider,
		withConfig(func(c *config.Config) { c.Hitl.DefaultLevel = models.HitlStandard }),
		withTools([]models.ToolSpec{promotedTool("delete_record", "DELETE", "/records")}, toolSrv.URL),
	)

	rec := env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "delete r1", "sessionId": "s4"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var paused map[string]string
	decodeJSON(t, rec, &paused)
	token := paused["resumeToken"]
	require.NotEmpty(t, token)

	// Cancel answers without redeeming the token.
	rec = env.do(http.MethodPost, "/agent-api/chat/resume", "alice",
		map[string]any{"resumeToken": token, "confirmed": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cancelled")
	mu.Lock()
	assert.Equal(t, 0, executions)
	mu.Unlock()

	// The same token still confirms.
	rec = env.do(http.MethodPost, "/agent-api/chat/resume", "alice",
		map[string]any{"resumeToken": token, "confirmed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: tool_result")
	assert.Contains(t, body, "event: done")
	mu.Lock()
	assert.Equal(t, 1, executions)
	mu.Unlock()

	// Redeemed exactly once.
	rec = env.do(http.MethodPost, "/agent-api/chat/resume", "alice",
		map[string]any{"resumeToken": token, "confirmed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeUnknownToken(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	rec := env.do(http.MethodPost, "/agent-api/chat/resume", "alice",
		map[string]any{"resumeToken": "nope", "confirmed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRequiresAuth(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	rec := env.do(http.MethodPost, "/agent-api/chat", "", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRateLimited(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, withLimiter(denyLimiter{retryAfter: 9}))
	rec := env.do(http.MethodPost, "/agent-api/chat", "alice", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "9", rec.Header().Get("Retry-After"))
}

func TestChatAuditsRateLimitedRequest(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, withLimiter(denyLimiter{retryAfter: 9}))
	rec := env.do(http.MethodPost, "/agent-api/chat", "alice", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.NoError(t, env.recorder.Close())
	rows := env.sink.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "/agent-api/chat", rows[0].Route)
	assert.Equal(t, "alice", rows[0].UserID)
	assert.Equal(t, http.StatusTooManyRequests, rows[0].StatusCode)
}

func TestChatAuditsRejectedRequests(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})

	rec := env.do(http.MethodPost, "/agent-api/chat", "", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/agent-api/chat", "alice", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, env.recorder.Close())
	rows := env.sink.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, http.StatusUnauthorized, rows[0].StatusCode)
	assert.Empty(t, rows[0].UserID, "no identity before auth succeeds")
	assert.Equal(t, http.StatusBadRequest, rows[1].StatusCode)
	assert.Equal(t, "alice", rows[1].UserID)
}

func TestChatRejectsForeignSession(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llm.Chunk{textTurn("hi alice")}}
	env := newEnv(t, provider)

	rec := env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "hello", "sessionId": "shared"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The first writer owns the session id for good.
	rec = env.do(http.MethodPost, "/agent-api/chat-sync", "mallory",
		map[string]string{"message": "mine now", "sessionId": "shared"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	assert.Len(t, provider.requests, 1, "rejected request never reaches the model")

	rec = env.do(http.MethodGet, "/agent-api/conversations", "mallory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "shared")

	rec = env.do(http.MethodGet, "/agent-api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shared")
}

func TestChatBodyTooLarge(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, withConfig(func(c *config.Config) {
		c.Server.BodyLimitBytes = 32
	}))
	rec := env.do(http.MethodPost, "/agent-api/chat", "alice",
		map[string]string{"message": strings.Repeat("x", 100)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChatValidation(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})

	rec := env.do(http.MethodPost, "/agent-api/chat", "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/agent-api/chat", "alice",
		map[string]string{"message": "hi", "agentId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentSystemPromptPrecedence(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llm.Chunk{
		textTurn("ok"), textTurn("ok"), textTurn("ok"),
	}}
	env := newEnv(t, provider)
	ctx := context.Background()

	require.NoError(t, env.agents.Upsert(ctx, &models.Agent{
		ID: "support", Name: "Support", SystemPrompt: "You are Support.", Enabled: true,
	}))

	// No agent, no active prompt version: built-in fallback.
	env.do(http.MethodPost, "/agent-api/chat-sync", "alice", map[string]string{"message": "a"})
	require.Len(t, provider.requests, 1)
	assert.Equal(t, "You are a helpful assistant.", provider.requests[0].System)

	// Active prompt version outranks the fallback.
	created, err := env.prompts.Create(ctx, "v1", "Versioned prompt.", "")
	require.NoError(t, err)
	require.NoError(t, env.prompts.Activate(ctx, created.ID))
	env.do(http.MethodPost, "/agent-api/chat-sync", "alice", map[string]string{"message": "b"})
	require.Len(t, provider.requests, 2)
	assert.Equal(t, "Versioned prompt.", provider.requests[1].System)

	// The selected agent outranks everything.
	env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "c", "agentId": "support"})
	require.Len(t, provider.requests, 3)
	assert.Equal(t, "You are Support.", provider.requests[2].System)
}

func TestVerifierWarningInSyncReply(t *testing.T) {
	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows": []}`))
	}))
	defer toolSrv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := verifiers.NewRunner(verifiers.NewMemoryResultStore(), logger)
	runner.Register("list_rows", verifiers.NewPatternVerifier(
		"no_empty_rows", "10", "", `"rows": \[\]`, models.OutcomeWarn))

	provider := &scriptedProvider{turns: [][]llm.Chunk{
		toolTurn("tc1", "list_rows", `{}`),
		textTurn("No rows found."),
	}}
	env := newEnv(t, provider,
		withConfig(func(c *config.Config) { c.Hitl.DefaultLevel = models.HitlAutonomous }),
		withTools([]models.ToolSpec{promotedTool("list_rows", "GET", "/rows")}, toolSrv.URL),
		withVerifiers(runner),
	)

	rec := env.do(http.MethodPost, "/agent-api/chat-sync", "alice",
		map[string]string{"message": "list", "sessionId": "s5"})

	require.Equal(t, http.StatusOK, rec.Code)
	var reply struct {
		Warnings []struct {
			Tool     string `json:"tool"`
			Verifier string `json:"verifier"`
		} `json:"warnings"`
	}
	decodeJSON(t, rec, &reply)
	require.Len(t, reply.Warnings, 1)
	assert.Equal(t, "list_rows", reply.Warnings[0].Tool)
	assert.Equal(t, "no_empty_rows", reply.Warnings[0].Verifier)
}

func TestAdminPlaneAuth(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, withAdminKey(""))
	rec := env.do(http.MethodGet, "/forge-admin/agents", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env = newEnv(t, &scriptedProvider{})
	rec = env.do(http.MethodGet, "/forge-admin/agents", "wrong-key", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/forge-admin/agents", "admin-secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAgentLifecycle(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	const key = "admin-secret"

	rec := env.do(http.MethodPost, "/forge-admin/agents", key,
		map[string]any{"id": "Bad ID!", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/forge-admin/agents", key,
		map[string]any{"id": "support", "name": "Support", "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/forge-admin/agents", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Agents []models.Agent `json:"agents"`
	}
	decodeJSON(t, rec, &listing)
	require.Len(t, listing.Agents, 1)

	rec = env.do(http.MethodPost, "/forge-admin/agents/support/set-default", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/forge-admin/agents/support", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agent models.Agent
	decodeJSON(t, rec, &agent)
	assert.True(t, agent.IsDefault)

	rec = env.do(http.MethodDelete, "/forge-admin/agents/support", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/forge-admin/agents/support", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminConfigOverlay(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	const key = "admin-secret"

	rec := env.do(http.MethodGet, "/forge-admin/config", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "model")

	rec = env.do(http.MethodPut, "/forge-admin/config/model", key,
		map[string]any{"default": "gpt-4o"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/forge-admin/config/model", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o")

	rec = env.do(http.MethodGet, "/forge-admin/config/bogus", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPromptLifecycle(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	const key = "admin-secret"

	rec := env.do(http.MethodPost, "/forge-admin/prompts", key,
		map[string]string{"version": "v1", "content": "Prompt one."})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.PromptVersion
	decodeJSON(t, rec, &created)

	rec = env.do(http.MethodPost, "/forge-admin/prompts/999/activate", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost,
		"/forge-admin/prompts/"+jsonNumber(created.ID)+"/activate", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	active, err := env.prompts.Active(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "Prompt one.", active.Content)
}

func TestPreferencesGating(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, withConfig(func(c *config.Config) {
		c.Permissions.AllowUserModelSelect = false
	}))

	rec := env.do(http.MethodPut, "/agent-api/user/preferences", "alice",
		map[string]string{"model": "gpt-4o"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPut, "/agent-api/user/preferences", "alice",
		map[string]string{"hitlLevel": "yolo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/agent-api/user/preferences", "alice",
		map[string]string{"hitlLevel": "paranoid"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/agent-api/user/preferences", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefsReply struct {
		HitlLevel          *string `json:"hitlLevel"`
		EffectiveHitlLevel string  `json:"effectiveHitlLevel"`
		ModelSelectable    bool    `json:"modelSelectable"`
	}
	decodeJSON(t, rec, &prefsReply)
	require.NotNil(t, prefsReply.HitlLevel)
	assert.Equal(t, "paranoid", *prefsReply.HitlLevel)
	assert.Equal(t, "paranoid", prefsReply.EffectiveHitlLevel)
	assert.False(t, prefsReply.ModelSelectable)
}

func TestConversationOwnership(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	ctx := context.Background()

	require.NoError(t, env.convs.PersistMessage(ctx, &models.ConversationMessage{
		ID: "m1", SessionID: "sess-a", Stage: models.StageChat,
		Role: models.RoleUser, Content: "hello", UserID: "alice",
		CreatedAt: time.Now().UTC(),
	}))

	rec := env.do(http.MethodGet, "/agent-api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-a")

	rec = env.do(http.MethodGet, "/agent-api/conversations/sess-a", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/agent-api/conversations/sess-a", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/agent-api/conversations/sess-a", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")

	rec = env.do(http.MethodDelete, "/agent-api/conversations/sess-a", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/agent-api/conversations/sess-a", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListToolsRespectsAllowlist(t *testing.T) {
	specs := []models.ToolSpec{
		promotedTool("get_weather", "GET", "/weather"),
		promotedTool("delete_record", "DELETE", "/records"),
	}
	env := newEnv(t, &scriptedProvider{}, withTools(specs, "http://unused.invalid"))
	ctx := context.Background()

	require.NoError(t, env.agents.Upsert(ctx, &models.Agent{
		ID: "narrow", Name: "Narrow", Enabled: true,
		ToolAllowlist: `["get_weather"]`,
	}))
	require.NoError(t, env.agents.SetDefault(ctx, "narrow"))

	rec := env.do(http.MethodGet, "/agent-api/tools", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "get_weather")
	assert.NotContains(t, rec.Body.String(), "delete_record")
}

func TestHealth(t *testing.T) {
	env := newEnv(t, &scriptedProvider{})
	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
