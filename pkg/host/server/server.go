// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the host over HTTP: a JSON-RPC endpoint with SSE
// streaming, a WebSocket bridge, sampling ingestion, legacy REST views and
// a Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/resolver"
	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/host/session"
	"github.com/stacklok/mcphost/pkg/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	defaultEndpoint          = "/mcp"
	defaultHeartbeatInterval = 15 * time.Second
	defaultPingInterval      = 30 * time.Second

	maxBodySize = 4 << 20
)

// HostEngine is the slice of the host core the bridge consumes.
type HostEngine interface {
	Servers() []host.ServerInfo
	Tools() []host.Tool
	Resources() []host.Resource
	ResourceTemplates() []host.ResourceTemplate
	Prompts() []host.Prompt

	CallTool(ctx context.Context, serverID, name string, arguments map[string]any, opts *host.CallOptions) (*host.ToolCallResult, error)
	ReadResource(ctx context.Context, serverID, uri string, opts *host.CallOptions) (*host.ResourceReadResult, error)
	GetPrompt(ctx context.Context, serverID, name string, arguments map[string]any, opts *host.CallOptions) (*host.PromptGetResult, error)

	SetRoots(ctx context.Context, roots []host.Root) error
	GetRoots() []host.Root

	SuggestServerForURI(uri string) []resolver.Suggestion
	SuggestServerForTool(name string) []resolver.Suggestion
	SuggestServerForPrompt(name string) []resolver.Suggestion

	Events() *host.Events
}

// Config parameterizes the HTTP bridge.
type Config struct {
	// Endpoint is the MCP endpoint path. Defaults to /mcp.
	Endpoint string

	// Port is the TCP port to listen on.
	Port int

	// APIKeys are the accepted X-API-Key values. Empty disables key checks
	// unless AuthRequired forces them.
	APIKeys []string

	// AuthRequired gates every endpoint except /metrics behind an API key.
	AuthRequired bool

	// HeartbeatInterval spaces SSE comment heartbeats. Defaults to 15s.
	HeartbeatInterval time.Duration

	// PingInterval spaces WebSocket pings. Defaults to 30s.
	PingInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Endpoint == "" {
		out.Endpoint = defaultEndpoint
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaultHeartbeatInterval
	}
	if out.PingInterval <= 0 {
		out.PingInterval = defaultPingInterval
	}
	return out
}

// Server is the assembled HTTP bridge.
type Server struct {
	cfg      Config
	engine   HostEngine
	info     host.HostInfo
	caps     host.HostCapabilities
	broker   *sampling.Broker
	sessions *session.Manager
	metrics  *metricsSet
	router   chi.Router

	wsMu    sync.Mutex
	wsConns map[string]*wsConn

	unsubs []func()
}

// New assembles the bridge, wiring host events into session and WebSocket
// fan-out.
func New(
	cfg Config,
	engine HostEngine,
	info host.HostInfo,
	caps host.HostCapabilities,
	broker *sampling.Broker,
	sessions *session.Manager,
) *Server {
	s := &Server{
		cfg:      cfg.withDefaults(),
		engine:   engine,
		info:     info,
		caps:     caps,
		broker:   broker,
		sessions: sessions,
		wsConns:  make(map[string]*wsConn),
	}
	s.metrics = newMetricsSet(sessions, broker)
	s.router = s.buildRouter()
	s.wireEvents()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	// The WebSocket endpoint authenticates after the upgrade so it can
	// close with a policy-violation code instead of a plain 401.
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(g chi.Router) {
		g.Use(s.authMiddleware)

		g.Route(s.cfg.Endpoint, func(mr chi.Router) {
			mr.Post("/", s.handleMCPPost)
			mr.Get("/", s.handleMCPStream)
			mr.Delete("/", s.handleMCPDelete)
			mr.Post("/sampling_response", s.handleSamplingResponse)
			mr.Post("/sampling_error", s.handleSamplingError)
		})

		g.Get("/status", s.handleStatus)
		g.Get("/servers", s.handleServers)
		g.Route("/capabilities", func(cr chi.Router) {
			cr.Get("/", s.handleCapabilities)
			cr.Get("/tools", s.handleCapabilityTools)
			cr.Get("/resources", s.handleCapabilityResources)
			cr.Get("/templates", s.handleCapabilityTemplates)
			cr.Get("/prompts", s.handleCapabilityPrompts)
		})
		g.Route("/suggest", func(sr chi.Router) {
			sr.Get("/resource", s.handleSuggestResource)
			sr.Get("/tool", s.handleSuggestTool)
			sr.Get("/prompt", s.handleSuggestPrompt)
		})
		g.Get("/config/roots", s.handleGetRoots)
		g.Post("/config/roots", s.handleSetRoots)
	})

	return r
}

// authMiddleware enforces the configured API keys on every request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorized checks the X-API-Key header, falling back to the api_key query
// parameter for clients that cannot set headers.
func (s *Server) authorized(r *http.Request) bool {
	if !s.cfg.AuthRequired {
		return true
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	if key == "" {
		return false
	}
	for _, k := range s.cfg.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Handler returns the assembled router. Used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured port until ctx is cancelled, then shuts
// down gracefully with a hard 10 s cap.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Bridge listening on %s (endpoint %s)", addr, s.cfg.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown failed: %w", err)
	}
	logger.Infof("Bridge stopped")
	return nil
}

// Close detaches the bridge from the host event broadcaster and closes
// every WebSocket peer.
func (s *Server) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.wsMu.Lock()
	conns := make([]*wsConn, 0, len(s.wsConns))
	for _, c := range s.wsConns {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()
	for _, c := range conns {
		c.shutdown("server shutting down")
	}
}
