// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package core implements the host engine: it owns every live server
// connection, drives connect/disconnect lifecycle, maintains the aggregated
// capability state and routes invocations to the right backend.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/client"
	"github.com/stacklok/mcphost/pkg/host/resolver"
	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/logger"
)

// ConnectFunc dials one configured server and returns a live client.
// Swappable so tests can connect against mocks.
type ConnectFunc func(ctx context.Context, cfg client.Config) (host.BackendClient, error)

// Host is the engine. All exported methods are safe for concurrent use.
type Host struct {
	info    host.HostInfo
	caps    host.HostCapabilities
	events  *host.Events
	relay   host.SamplingRelay
	connect ConnectFunc

	// reconnect policy for unexpectedly dropped servers.
	reconnectEnabled  bool
	reconnectMaxTries uint

	// refreshMu serializes capability refreshes per server; a refresh
	// releases mu while its lists are in flight, and overlapping refreshes
	// for the same server would otherwise double-append.
	refreshMu sync.Mutex
	refreshes map[string]*sync.Mutex

	mu         sync.RWMutex
	configs    map[string]host.ServerConfig
	order      []string
	clients    map[string]host.BackendClient
	serverCaps map[string]*host.ServerCapabilities
	status     map[string]host.ServerStatus
	lastErr    map[string]error
	closing    map[string]bool

	tools     []host.Tool
	resources []host.Resource
	templates []host.ResourceTemplate
	prompts   []host.Prompt
	roots     []host.Root

	started bool
}

// Option configures a Host.
type Option func(*Host)

// WithSamplingRelay wires the broker consulted for server-initiated
// createMessage requests. Without it the host declares no sampling support
// downstream even when HostCapabilities.Sampling is set.
func WithSamplingRelay(relay host.SamplingRelay) Option {
	return func(h *Host) { h.relay = relay }
}

// WithEvents shares an externally created broadcaster, letting a sampling
// broker and the host emit on the same stream.
func WithEvents(events *host.Events) Option {
	return func(h *Host) {
		if events != nil {
			h.events = events
		}
	}
}

// WithConnectFunc overrides how server connections are established.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(h *Host) { h.connect = fn }
}

// WithReconnect enables exponential-backoff reconnection for servers that
// drop unexpectedly. Deliberate disconnects are never retried.
func WithReconnect(maxTries uint) Option {
	return func(h *Host) {
		h.reconnectEnabled = maxTries > 0
		h.reconnectMaxTries = maxTries
	}
}

// New builds a host engine for the given identity and declared capabilities.
func New(info host.HostInfo, caps host.HostCapabilities, opts ...Option) *Host {
	h := &Host{
		info:       info,
		caps:       caps,
		events:     host.NewEvents(),
		connect:    client.Connect,
		refreshes:  make(map[string]*sync.Mutex),
		configs:    make(map[string]host.ServerConfig),
		clients:    make(map[string]host.BackendClient),
		serverCaps: make(map[string]*host.ServerCapabilities),
		status:     make(map[string]host.ServerStatus),
		lastErr:    make(map[string]error),
		closing:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Events exposes the host event broadcaster.
func (h *Host) Events() *host.Events {
	return h.events
}

// AddServer registers a server configuration. Duplicate ids are rejected
// with a warning; the first registration wins.
func (h *Host) AddServer(cfg host.ServerConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("server configuration requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.configs[cfg.ID]; exists {
		logger.Warnf("Ignoring duplicate server configuration %q (first registration wins)", cfg.ID)
		return fmt.Errorf("duplicate server id %q", cfg.ID)
	}
	h.configs[cfg.ID] = cfg
	h.order = append(h.order, cfg.ID)
	h.status[cfg.ID] = host.StatusDisconnected
	return nil
}

// Start connects every configured server in parallel. It is idempotent and
// never fails outright: per-server failures are emitted as events and
// reflected in status. One capabilitiesUpdated event fires at the end.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	ids := make([]string, len(h.order))
	copy(ids, h.order)
	h.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := h.connectOne(ctx, id, false); err != nil {
				logger.Warnf("Failed to connect server %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})
	return nil
}

// Stop closes every live client and clears all aggregated state. Idempotent;
// per-client close errors are logged and teardown continues.
func (h *Host) Stop() {
	h.mu.Lock()
	if !h.started && len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	h.started = false
	clients := make(map[string]host.BackendClient, len(h.clients))
	for id, c := range h.clients {
		clients[id] = c
		h.closing[id] = true
	}
	h.clients = make(map[string]host.BackendClient)
	h.serverCaps = make(map[string]*host.ServerCapabilities)
	for id := range h.status {
		h.status[id] = host.StatusDisconnected
	}
	h.tools = nil
	h.resources = nil
	h.templates = nil
	h.prompts = nil
	h.mu.Unlock()

	for id, c := range clients {
		if err := c.Close(); err != nil {
			logger.Warnf("Error closing client for server %s: %v", id, err)
		}
	}

	h.mu.Lock()
	for id := range clients {
		delete(h.closing, id)
	}
	h.mu.Unlock()

	h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})
}

// ConnectServer connects a single configured server at runtime.
func (h *Host) ConnectServer(ctx context.Context, serverID string) error {
	if err := h.connectOne(ctx, serverID, true); err != nil {
		return err
	}
	return nil
}

// DisconnectServer deliberately closes one server connection and drops its
// aggregated capabilities.
func (h *Host) DisconnectServer(serverID string) error {
	h.mu.Lock()
	c, ok := h.clients[serverID]
	if !ok {
		h.mu.Unlock()
		return host.NewError(host.KindServerNotFound,
			fmt.Sprintf("server %q is not connected", serverID), serverID, nil)
	}
	h.closing[serverID] = true
	delete(h.clients, serverID)
	delete(h.serverCaps, serverID)
	h.status[serverID] = host.StatusDisconnected
	h.removeAggregatedLocked(serverID)
	h.mu.Unlock()

	if err := c.Close(); err != nil {
		logger.Warnf("Error closing client for server %s: %v", serverID, err)
	}

	h.mu.Lock()
	delete(h.closing, serverID)
	h.mu.Unlock()

	h.events.EmitServerDisconnected(host.ServerDisconnectedEvent{ServerID: serverID})
	h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})
	return nil
}

// connectOne runs the connect algorithm for one configured server. When
// emitUpdate is false the capabilitiesUpdated event is suppressed so the
// caller can coalesce a fan-out into a single update.
func (h *Host) connectOne(ctx context.Context, serverID string, emitUpdate bool) error {
	h.mu.Lock()
	cfg, ok := h.configs[serverID]
	if !ok {
		h.mu.Unlock()
		return host.NewError(host.KindServerNotFound,
			fmt.Sprintf("server %q is not configured", serverID), serverID, nil)
	}
	if _, live := h.clients[serverID]; live {
		h.mu.Unlock()
		return nil
	}
	h.status[serverID] = host.StatusConnecting
	h.mu.Unlock()

	handlers := h.buildHandlers(serverID)
	var relay host.SamplingRelay
	if h.caps.Sampling {
		relay = h.relay
	}

	c, err := h.connect(ctx, client.Config{
		Server:       cfg,
		HostInfo:     h.info,
		Capabilities: h.caps,
		Handlers:     handlers,
		Sampling:     relay,
	})
	if err != nil {
		h.mu.Lock()
		h.status[serverID] = host.StatusError
		h.lastErr[serverID] = err
		h.mu.Unlock()
		h.events.EmitServerError(host.ServerErrorEvent{ServerID: serverID, Err: err})
		return err
	}

	caps := c.Capabilities()
	h.mu.Lock()
	h.clients[serverID] = c
	h.serverCaps[serverID] = caps
	h.status[serverID] = host.StatusConnected
	delete(h.lastErr, serverID)
	rootsToPush := len(h.roots) > 0 && caps != nil && caps.Roots != nil && caps.Roots.ListChanged
	h.mu.Unlock()

	h.events.EmitServerConnected(host.ServerConnectedEvent{ServerID: serverID})
	h.refreshCapabilities(ctx, serverID, emitUpdate)

	if rootsToPush {
		if err := c.SendRootsListChanged(ctx); err != nil {
			logger.Warnf("Failed to push roots to server %s after connect: %v", serverID, err)
		}
	}
	return nil
}

// buildHandlers wires the per-server protocol callbacks into the engine.
func (h *Host) buildHandlers(serverID string) host.Handlers {
	refresh := func() {
		go h.RefreshCapabilities(context.Background(), serverID)
	}
	return host.Handlers{
		OnToolsListChanged:     refresh,
		OnResourcesListChanged: refresh,
		OnPromptsListChanged:   refresh,
		OnResourceUpdated: func(uri string) {
			h.events.EmitResourceUpdated(host.ResourceUpdatedEvent{ServerID: serverID, URI: uri})
		},
		OnLogMessage: func(level string, data any) {
			h.events.EmitLog(host.LogEvent{
				ServerID: serverID,
				Level:    "server-" + level,
				Data:     data,
			})
		},
		OnClose: func(err error) {
			h.handleDisconnect(serverID, err)
		},
		OnError: func(err error) {
			h.events.EmitServerError(host.ServerErrorEvent{ServerID: serverID, Err: err})
		},
	}
}

// handleDisconnect reacts to an unexpected connection loss: the server's
// aggregated entries are dropped and listeners observe serverDisconnected
// strictly before capabilitiesUpdated.
func (h *Host) handleDisconnect(serverID string, err error) {
	h.mu.Lock()
	if h.closing[serverID] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, serverID)
	delete(h.serverCaps, serverID)
	h.status[serverID] = host.StatusDisconnected
	if err != nil {
		h.status[serverID] = host.StatusError
		h.lastErr[serverID] = err
	}
	h.removeAggregatedLocked(serverID)
	retry := h.reconnectEnabled && h.started
	h.mu.Unlock()

	h.events.EmitServerDisconnected(host.ServerDisconnectedEvent{ServerID: serverID, Err: err})
	h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})

	if retry {
		go h.reconnect(serverID)
	}
}

// reconnect retries a dropped server with exponential backoff until it
// reconnects, the retry budget runs out or the host stops.
func (h *Host) reconnect(serverID string) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		h.mu.RLock()
		stopped := !h.started
		h.mu.RUnlock()
		if stopped {
			return struct{}{}, backoff.Permanent(fmt.Errorf("host stopped"))
		}
		return struct{}{}, h.connectOne(context.Background(), serverID, true)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(h.reconnectMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debugf("Reconnect attempt for server %s failed, retrying in %s: %v", serverID, next, err)
		}),
	)
	if err != nil {
		logger.Warnf("Giving up reconnecting server %s: %v", serverID, err)
	}
}

// liveClient looks up a connected client or fails with SERVER_NOT_FOUND.
func (h *Host) liveClient(serverID string) (host.BackendClient, error) {
	h.mu.RLock()
	c, ok := h.clients[serverID]
	h.mu.RUnlock()
	if !ok {
		return nil, host.NewError(host.KindServerNotFound,
			fmt.Sprintf("server %q is unknown or not connected", serverID), serverID, nil)
	}
	return c, nil
}

// CallTool invokes a tool on a connected server.
func (h *Host) CallTool(
	ctx context.Context, serverID, name string, arguments map[string]any, opts *host.CallOptions,
) (*host.ToolCallResult, error) {
	c, err := h.liveClient(serverID)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, name, arguments, opts)
}

// ReadResource reads a resource from a connected server.
func (h *Host) ReadResource(
	ctx context.Context, serverID, uri string, opts *host.CallOptions,
) (*host.ResourceReadResult, error) {
	c, err := h.liveClient(serverID)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri, opts)
}

// GetPrompt renders a prompt from a connected server.
func (h *Host) GetPrompt(
	ctx context.Context, serverID, name string, arguments map[string]any, opts *host.CallOptions,
) (*host.PromptGetResult, error) {
	c, err := h.liveClient(serverID)
	if err != nil {
		return nil, err
	}
	return c.GetPrompt(ctx, name, arguments, opts)
}

// SubscribeResource subscribes to update notifications for a resource.
func (h *Host) SubscribeResource(ctx context.Context, serverID, uri string) error {
	c, err := h.liveClient(serverID)
	if err != nil {
		return err
	}
	if err := c.SubscribeResource(ctx, uri); err != nil {
		return host.NewError(host.KindSubscriptionFailed,
			fmt.Sprintf("failed to subscribe to %s", uri), serverID, err)
	}
	return nil
}

// UnsubscribeResource removes a resource subscription.
func (h *Host) UnsubscribeResource(ctx context.Context, serverID, uri string) error {
	c, err := h.liveClient(serverID)
	if err != nil {
		return err
	}
	if err := c.UnsubscribeResource(ctx, uri); err != nil {
		return host.NewError(host.KindSubscriptionFailed,
			fmt.Sprintf("failed to unsubscribe from %s", uri), serverID, err)
	}
	return nil
}

// SetRoots atomically replaces the workspace roots and notifies every live
// server that declared roots.listChanged. Per-server notification failures
// are collected into an aggregate error; the replacement itself always
// takes effect.
func (h *Host) SetRoots(ctx context.Context, roots []host.Root) error {
	for i, r := range roots {
		if r.URI == "" {
			return fmt.Errorf("root %d has an empty uri", i)
		}
		if r.Name == "" {
			return fmt.Errorf("root %d has an empty name", i)
		}
	}

	h.mu.Lock()
	h.roots = make([]host.Root, len(roots))
	copy(h.roots, roots)
	targets := make(map[string]host.BackendClient)
	for id, c := range h.clients {
		caps := h.serverCaps[id]
		if caps != nil && caps.Roots != nil && caps.Roots.ListChanged {
			targets[id] = c
		}
	}
	h.mu.Unlock()

	var failures []*host.Error
	for id, c := range targets {
		if err := c.SendRootsListChanged(ctx); err != nil {
			failures = append(failures, host.NewError(host.KindRootsUpdateFailed,
				"failed to notify server of roots change", id, err))
		}
	}
	if len(failures) > 0 {
		return &host.AggregateError{
			Message: fmt.Sprintf("roots update failed for %d of %d servers", len(failures), len(targets)),
			Errors:  failures,
		}
	}
	return nil
}

// GetRoots returns a copy of the current workspace roots.
func (h *Host) GetRoots() []host.Root {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.Root, len(h.roots))
	copy(out, h.roots)
	return out
}

// Servers returns the externally visible state of every configured server,
// in registration order.
func (h *Host) Servers() []host.ServerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.ServerInfo, 0, len(h.order))
	for _, id := range h.order {
		cfg := h.configs[id]
		info := host.ServerInfo{
			ID:        id,
			Name:      cfg.Name,
			Transport: cfg.Transport,
			Status:    h.status[id],
		}
		if err := h.lastErr[id]; err != nil {
			info.Error = err.Error()
		}
		if caps := h.serverCaps[id]; caps != nil {
			info.Capabilities = caps.Clone()
		}
		out = append(out, info)
	}
	return out
}

// Tools returns a copy of the aggregated tool list.
func (h *Host) Tools() []host.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.Tool, len(h.tools))
	copy(out, h.tools)
	return out
}

// Resources returns a copy of the aggregated concrete resource list.
func (h *Host) Resources() []host.Resource {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.Resource, len(h.resources))
	copy(out, h.resources)
	return out
}

// ResourceTemplates returns a copy of the aggregated template list.
func (h *Host) ResourceTemplates() []host.ResourceTemplate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.ResourceTemplate, len(h.templates))
	copy(out, h.templates)
	return out
}

// Prompts returns a copy of the aggregated prompt list.
func (h *Host) Prompts() []host.Prompt {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]host.Prompt, len(h.prompts))
	copy(out, h.prompts)
	return out
}

// ServerCapabilities returns the capability snapshot for one server, or nil
// when the server is unknown or not connected.
func (h *Host) ServerCapabilities(serverID string) *host.ServerCapabilities {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.serverCaps[serverID].Clone()
}

// SuggestServerForURI suggests servers for a resource URI against the
// current aggregated snapshot.
func (h *Host) SuggestServerForURI(uri string) []resolver.Suggestion {
	return resolver.SuggestForURI(h.Resources(), h.ResourceTemplates(), uri)
}

// SuggestServerForTool suggests servers offering the named tool.
func (h *Host) SuggestServerForTool(name string) []resolver.Suggestion {
	return resolver.SuggestForTool(h.Tools(), name)
}

// SuggestServerForPrompt suggests servers offering the named prompt.
func (h *Host) SuggestServerForPrompt(name string) []resolver.Suggestion {
	return resolver.SuggestForPrompt(h.Prompts(), name)
}

// SimplifiedSamplingResult is the convenience shape an in-process sampling
// handler returns. Content may be a plain string (rendered as text content)
// or a full content object.
type SimplifiedSamplingResult struct {
	Content    any    `json:"content"`
	Model      string `json:"model,omitempty"`
	StopReason string `json:"stopReason,omitempty"`
	Usage      any    `json:"usage,omitempty"`
}

// SimplifiedSamplingHandler handles a sampling request in-process.
type SimplifiedSamplingHandler func(ctx context.Context, serverID string, params json.RawMessage) (*SimplifiedSamplingResult, error)

// SamplingHandlerInstaller is implemented by brokers that accept an
// in-process handler taking precedence over connected sinks.
type SamplingHandlerInstaller interface {
	SetHandler(fn sampling.Handler)
}

// SetSamplingHandler installs a simplified in-process sampling handler,
// adapting its return value into the full createMessage result shape.
func (h *Host) SetSamplingHandler(fn SimplifiedSamplingHandler) error {
	installer, ok := h.relay.(SamplingHandlerInstaller)
	if !ok {
		return fmt.Errorf("sampling relay does not accept in-process handlers")
	}
	if fn == nil {
		installer.SetHandler(nil)
		return nil
	}
	installer.SetHandler(func(ctx context.Context, serverID string, params json.RawMessage) (json.RawMessage, error) {
		simplified, err := fn(ctx, serverID, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(expandSamplingResult(simplified))
	})
	return nil
}

// expandSamplingResult maps the simplified handler return into the wire
// createMessage result shape.
func expandSamplingResult(r *SimplifiedSamplingResult) map[string]any {
	out := map[string]any{
		"role":       "assistant",
		"model":      "unknown",
		"stopReason": "endTurn",
	}
	if r == nil {
		out["content"] = map[string]any{"type": "text", "text": ""}
		return out
	}
	switch content := r.Content.(type) {
	case string:
		out["content"] = map[string]any{"type": "text", "text": content}
	case nil:
		out["content"] = map[string]any{"type": "text", "text": ""}
	default:
		out["content"] = content
	}
	if r.Model != "" {
		out["model"] = r.Model
	}
	if r.StopReason != "" {
		out["stopReason"] = r.StopReason
	}
	if r.Usage != nil {
		out["usage"] = r.Usage
	}
	return out
}

// OnServerConnected registers a listener; the return value unsubscribes.
func (h *Host) OnServerConnected(fn func(host.ServerConnectedEvent)) func() {
	return h.events.OnServerConnected(fn)
}

// OnServerDisconnected registers a listener; the return value unsubscribes.
func (h *Host) OnServerDisconnected(fn func(host.ServerDisconnectedEvent)) func() {
	return h.events.OnServerDisconnected(fn)
}

// OnServerError registers a listener; the return value unsubscribes.
func (h *Host) OnServerError(fn func(host.ServerErrorEvent)) func() {
	return h.events.OnServerError(fn)
}

// OnCapabilitiesUpdated registers a listener; the return value unsubscribes.
func (h *Host) OnCapabilitiesUpdated(fn func(host.CapabilitiesUpdatedEvent)) func() {
	return h.events.OnCapabilitiesUpdated(fn)
}

// OnResourceUpdated registers a listener; the return value unsubscribes.
func (h *Host) OnResourceUpdated(fn func(host.ResourceUpdatedEvent)) func() {
	return h.events.OnResourceUpdated(fn)
}

// OnSamplingRequest registers a listener; the return value unsubscribes.
func (h *Host) OnSamplingRequest(fn func(host.SamplingRequestEvent)) func() {
	return h.events.OnSamplingRequest(fn)
}

// OnLog registers a listener; the return value unsubscribes.
func (h *Host) OnLog(fn func(host.LogEvent)) func() {
	return h.events.OnLog(fn)
}
