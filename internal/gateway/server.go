// Package gateway exposes the agent runtime over HTTP: the user-facing chat
// plane under /agent-api, the admin plane under /forge-admin, plus /health
// and /metrics. Handlers glue authentication, rate limiting, persistence,
// per-agent configuration and audit around the tool-calling loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

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
)

// ProviderFactory builds an LLM provider for the given backend and key.
// Injected so tests can script model turns.
type ProviderFactory func(provider prefs.Provider, apiKey string) (llm.Provider, error)

// DefaultProviderFactory constructs real SDK-backed providers, cached per
// provider+key so repeated requests reuse clients.
func DefaultProviderFactory() ProviderFactory {
	cache := newProviderCache()
	return cache.get
}

// Options carries every component the server wires together. Nil optional
// fields degrade gracefully: no limiter means no rate limiting, no engine
// means HITL-dependent paths answer 501/500, no metrics means no recording.
type Options struct {
	Config    *config.Config
	Overlay   *config.RuntimeOverlay
	UserAuth  auth.Authenticator
	AdminAuth *auth.AdminAuthenticator
	Limiter   ratelimit.Limiter

	Agents        agents.Registry
	Prompts       prompts.Store
	Prefs         prefs.Store
	Resolver      *prefs.Resolver
	Conversations conversation.Store
	Hitl          *hitl.Engine
	Verifiers     *verifiers.Runner
	Tools         *tools.Registry
	Dispatcher    *tools.Dispatcher
	Providers     ProviderFactory

	Audit   *audit.Recorder
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// Server is the HTTP front of the runtime.
type Server struct {
	cfg       *config.Config
	overlay   *config.RuntimeOverlay
	userAuth  auth.Authenticator
	adminAuth *auth.AdminAuthenticator
	limiter   ratelimit.Limiter

	agents     agents.Registry
	prompts    prompts.Store
	prefs      prefs.Store
	resolver   *prefs.Resolver
	convs      conversation.Store
	hitl       *hitl.Engine
	verifiers  *verifiers.Runner
	tools      *tools.Registry
	dispatcher *tools.Dispatcher
	providers  ProviderFactory

	audit   *audit.Recorder
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	httpSrv *http.Server
}

// NewServer wires the handlers. Options.Config is required.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Providers == nil {
		opts.Providers = DefaultProviderFactory()
	}
	if opts.Resolver == nil {
		opts.Resolver = prefs.NewResolver(opts.Prefs, os.Getenv)
	}
	s := &Server{
		cfg:        opts.Config,
		overlay:    opts.Overlay,
		userAuth:   opts.UserAuth,
		adminAuth:  opts.AdminAuth,
		limiter:    opts.Limiter,
		agents:     opts.Agents,
		prompts:    opts.Prompts,
		prefs:      opts.Prefs,
		resolver:   opts.Resolver,
		convs:      opts.Conversations,
		hitl:       opts.Hitl,
		verifiers:  opts.Verifiers,
		tools:      opts.Tools,
		dispatcher: opts.Dispatcher,
		providers:  opts.Providers,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}
	return s, nil
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// User plane. Auth and rate limiting wrap every route; the chat routes
	// additionally carry the per-request audit row.
	mux.Handle("POST /agent-api/chat", s.audited(s.user("chat", s.handleChat)))
	mux.Handle("POST /agent-api/chat-sync", s.audited(s.user("chat-sync", s.handleChatSync)))
	mux.Handle("POST /agent-api/chat/resume", s.audited(s.user("chat-resume", s.handleResume)))
	mux.Handle("GET /agent-api/user/preferences", s.user("preferences", s.handleGetPreferences))
	mux.Handle("PUT /agent-api/user/preferences", s.user("preferences", s.handlePutPreferences))
	mux.Handle("GET /agent-api/conversations", s.user("conversations", s.handleListConversations))
	mux.Handle("GET /agent-api/conversations/{sid}", s.user("conversations", s.handleGetConversation))
	mux.Handle("DELETE /agent-api/conversations/{sid}", s.user("conversations", s.handleDeleteConversation))
	mux.Handle("GET /agent-api/tools", s.user("tools", s.handleListTools))

	// Admin plane. Shared-key check, no rate limiting.
	mux.Handle("GET /forge-admin/agents", s.admin(s.handleAdminListAgents))
	mux.Handle("POST /forge-admin/agents", s.admin(s.handleAdminUpsertAgent))
	mux.Handle("GET /forge-admin/agents/{id}", s.admin(s.handleAdminGetAgent))
	mux.Handle("DELETE /forge-admin/agents/{id}", s.admin(s.handleAdminDeleteAgent))
	mux.Handle("POST /forge-admin/agents/{id}/set-default", s.admin(s.handleAdminSetDefault))
	mux.Handle("GET /forge-admin/config", s.admin(s.handleAdminGetConfig))
	mux.Handle("GET /forge-admin/config/{section}", s.admin(s.handleAdminGetSection))
	mux.Handle("PUT /forge-admin/config/{section}", s.admin(s.handleAdminPutSection))
	mux.Handle("GET /forge-admin/prompts", s.admin(s.handleAdminListPrompts))
	mux.Handle("POST /forge-admin/prompts", s.admin(s.handleAdminCreatePrompt))
	mux.Handle("POST /forge-admin/prompts/{id}/activate", s.admin(s.handleAdminActivatePrompt))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withObservability(mux)
}

// ListenAndServe binds the configured address and serves until Shutdown.
// A bind failure is fatal to the process; the caller exits on it.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bodyLimit returns the configured request body cap.
func (s *Server) bodyLimit() int64 {
	if s.cfg.Server.BodyLimitBytes > 0 {
		return s.cfg.Server.BodyLimitBytes
	}
	return 1 << 20
}
