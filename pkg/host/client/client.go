// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client adapts the mark3labs/mcp-go protocol library to the
// BackendClient contract the host core consumes. One Adapter owns exactly
// one connection: it is created connected and becomes unusable after Close.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/logger"
)

// Config parameterizes one connection attempt.
type Config struct {
	// Server is the immutable server configuration.
	Server host.ServerConfig

	// HostInfo identifies the host application during the handshake.
	HostInfo host.HostInfo

	// Capabilities are the client capabilities declared to the server.
	Capabilities host.HostCapabilities

	// Handlers receive protocol events. Registered before the connection
	// starts so no early notification is lost.
	Handlers host.Handlers

	// Sampling brokers server-initiated createMessage requests. Only
	// consulted when Capabilities.Sampling is declared.
	Sampling host.SamplingRelay
}

// Adapter implements host.BackendClient over a mark3labs/mcp-go client.
type Adapter struct {
	serverID  string
	client    *mcpclient.Client
	transport transport.Interface
	caps      *host.ServerCapabilities
	handlers  host.Handlers

	closed    atomic.Bool
	closeOnce sync.Once

	progressMu sync.Mutex
	progress   map[string]func(host.Progress)
}

// Connect constructs the transport and protocol client for the server,
// registers handlers, starts the connection and performs the initialize
// handshake. The returned adapter is live.
func Connect(ctx context.Context, cfg Config) (host.BackendClient, error) {
	t, err := newTransport(cfg.Server)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		serverID:  cfg.Server.ID,
		transport: t,
		handlers:  cfg.Handlers,
		progress:  make(map[string]func(host.Progress)),
	}

	var opts []mcpclient.ClientOption
	if cfg.Capabilities.Sampling && cfg.Sampling != nil {
		opts = append(opts, mcpclient.WithSamplingHandler(&samplingHandler{
			serverID: cfg.Server.ID,
			relay:    cfg.Sampling,
		}))
	}
	c := mcpclient.NewClient(t, opts...)
	a.client = c

	// Handlers go in before the connection starts so that notifications
	// arriving during initialization are not lost.
	c.OnNotification(a.dispatchNotification)
	c.OnConnectionLost(func(err error) {
		if a.closed.Load() {
			return
		}
		a.closeOnce.Do(func() {
			if a.handlers.OnClose != nil {
				a.handlers.OnClose(err)
			}
		})
	})

	if err := c.Start(ctx); err != nil {
		return nil, host.NewError(host.KindConnectionFailed, "failed to start transport", cfg.Server.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params = mcp.InitializeParams{
		ProtocolVersion: host.ProtocolVersion,
		ClientInfo: mcp.Implementation{
			Name:    cfg.HostInfo.Name,
			Version: cfg.HostInfo.Version,
		},
		Capabilities: clientCapabilities(cfg.Capabilities),
	}
	initRes, err := c.Initialize(ctx, initReq)
	if err != nil {
		_ = c.Close()
		return nil, host.NewError(host.KindConnectionFailed, "initialize handshake failed", cfg.Server.ID, err)
	}
	a.caps = convertCapabilities(initRes.Capabilities)

	logger.Debugf("Connected to server %s (%s %s, protocol %s)",
		cfg.Server.ID, initRes.ServerInfo.Name, initRes.ServerInfo.Version, initRes.ProtocolVersion)

	return a, nil
}

// newTransport builds the wire transport for a server configuration.
func newTransport(cfg host.ServerConfig) (transport.Interface, error) {
	switch cfg.Transport {
	case host.TransportStdio:
		if cfg.Command == "" {
			return nil, host.NewError(host.KindInvalidTransport, "stdio transport requires a command", cfg.ID, nil)
		}
		cwd := resolveCwd(cfg.Cwd)
		env := buildChildEnv(processEnviron(), cfg.Env, cwd)
		return transport.NewStdio(cfg.Command, env, cfg.Args...), nil

	case host.TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		t, err := transport.NewSSE(cfg.URL, opts...)
		if err != nil {
			return nil, host.NewError(host.KindInvalidTransport, "failed to construct sse transport", cfg.ID, err)
		}
		return t, nil

	case host.TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		t, err := transport.NewStreamableHTTP(cfg.URL, opts...)
		if err != nil {
			return nil, host.NewError(host.KindInvalidTransport, "failed to construct streamable-http transport", cfg.ID, err)
		}
		return t, nil

	case host.TransportWebSocket:
		// The protocol library has no WebSocket client transport.
		return nil, host.NewError(host.KindInvalidTransport,
			fmt.Sprintf("transport %q is not supported", cfg.Transport), cfg.ID, nil)

	default:
		return nil, host.NewError(host.KindInvalidTransport,
			fmt.Sprintf("unknown transport %q", cfg.Transport), cfg.ID, nil)
	}
}

// clientCapabilities converts the host capability declaration to the wire
// shape.
func clientCapabilities(caps host.HostCapabilities) mcp.ClientCapabilities {
	out := mcp.ClientCapabilities{}
	if caps.Roots != nil {
		out.Roots = &struct {
			ListChanged bool `json:"listChanged,omitempty"`
		}{
			ListChanged: caps.Roots.ListChanged,
		}
	}
	if caps.Sampling {
		out.Sampling = &struct{}{}
	}
	return out
}

// samplingHandler forwards server-initiated createMessage requests to the
// broker, carrying the verbatim wire forms.
type samplingHandler struct {
	serverID string
	relay    host.SamplingRelay
}

func (h *samplingHandler) CreateMessage(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	params, err := json.Marshal(request.CreateMessageParams)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sampling params: %w", err)
	}
	raw, err := h.relay.CreateMessage(ctx, h.serverID, params)
	if err != nil {
		return nil, err
	}
	var result mcp.CreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode sampling result: %w", err)
	}
	return &result, nil
}

// dispatchNotification demultiplexes incoming notifications to the
// registered handlers. Invoked serially per connection by the transport.
func (a *Adapter) dispatchNotification(n mcp.JSONRPCNotification) {
	switch n.Method {
	case "notifications/tools/list_changed":
		if a.handlers.OnToolsListChanged != nil {
			a.handlers.OnToolsListChanged()
		}
	case "notifications/resources/list_changed":
		if a.handlers.OnResourcesListChanged != nil {
			a.handlers.OnResourcesListChanged()
		}
	case "notifications/prompts/list_changed":
		if a.handlers.OnPromptsListChanged != nil {
			a.handlers.OnPromptsListChanged()
		}
	case "notifications/resources/updated":
		uri, _ := n.Params.AdditionalFields["uri"].(string)
		if uri != "" && a.handlers.OnResourceUpdated != nil {
			a.handlers.OnResourceUpdated(uri)
		}
	case "notifications/message":
		level, _ := n.Params.AdditionalFields["level"].(string)
		if a.handlers.OnLogMessage != nil {
			a.handlers.OnLogMessage(level, n.Params.AdditionalFields["data"])
		}
	case "notifications/progress":
		a.dispatchProgress(n.Params.AdditionalFields)
	default:
		logger.Debugf("Server %s sent unhandled notification %s", a.serverID, n.Method)
	}
}

// dispatchProgress routes a progress notification to the in-flight request
// identified by its token.
func (a *Adapter) dispatchProgress(fields map[string]any) {
	token := fmt.Sprintf("%v", fields["progressToken"])
	a.progressMu.Lock()
	fn := a.progress[token]
	a.progressMu.Unlock()
	if fn == nil {
		return
	}
	fn(host.Progress{
		Progress: asFloat(fields["progress"]),
		Total:    asFloat(fields["total"]),
		Message:  asString(fields["message"]),
	})
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (a *Adapter) registerProgress(token string, fn func(host.Progress)) func() {
	a.progressMu.Lock()
	a.progress[token] = fn
	a.progressMu.Unlock()
	return func() {
		a.progressMu.Lock()
		delete(a.progress, token)
		a.progressMu.Unlock()
	}
}

// callContext derives the request context from the call options: an
// optional total cap, plus an inactivity watchdog that progress events may
// reset. The returned token is non-empty when a progress callback is
// plumbed; done must be called when the request settles.
func (a *Adapter) callContext(ctx context.Context, opts *host.CallOptions) (context.Context, mcp.ProgressToken, func()) {
	if opts == nil {
		return ctx, nil, func() {}
	}

	cleanup := []func(){}
	if opts.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxTotalTimeout)
		cleanup = append(cleanup, cancel)
	}

	var watchdog *time.Timer
	if opts.Timeout > 0 {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		watchdog = time.AfterFunc(opts.Timeout, func() {
			cancel(context.DeadlineExceeded)
		})
		cleanup = append(cleanup, func() {
			watchdog.Stop()
			cancel(nil)
		})
	}

	var token mcp.ProgressToken
	if opts.OnProgress != nil {
		id := fmt.Sprintf("%s-%d", a.serverID, time.Now().UnixNano())
		token = id
		onProgress := opts.OnProgress
		reset := opts.ResetTimeoutOnProgress && watchdog != nil
		unregister := a.registerProgress(id, func(p host.Progress) {
			if reset {
				watchdog.Reset(opts.Timeout)
			}
			onProgress(p)
		})
		cleanup = append(cleanup, unregister)
	}

	return ctx, token, func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}
}

// wrapError translates a failed client operation into the host taxonomy.
// Context cancellation and timeouts keep their sentinel identity; anything
// else becomes a host error of the given kind with the original as cause.
func (a *Adapter) wrapError(err error, kind host.ErrorKind, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s on server %s: %v", host.ErrTimeout, op, a.serverID, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s on server %s: %v", host.ErrCancelled, op, a.serverID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s on server %s: %v", host.ErrTimeout, op, a.serverID, err)
	}
	return host.NewError(kind, op+" failed", a.serverID, err)
}

// Capabilities returns the capability snapshot taken at initialization.
func (a *Adapter) Capabilities() *host.ServerCapabilities {
	return a.caps.Clone()
}

// ListTools lists the server's tools.
func (a *Adapter) ListTools(ctx context.Context) ([]host.Tool, error) {
	res, err := a.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, a.wrapError(err, host.KindConnectionFailed, "list tools")
	}
	return convertTools(a.serverID, res.Tools), nil
}

// ListResources lists the server's concrete resources.
func (a *Adapter) ListResources(ctx context.Context) ([]host.Resource, error) {
	res, err := a.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, a.wrapError(err, host.KindConnectionFailed, "list resources")
	}
	return convertResources(a.serverID, res.Resources), nil
}

// ListResourceTemplates lists the server's resource templates.
func (a *Adapter) ListResourceTemplates(ctx context.Context) ([]host.ResourceTemplate, error) {
	res, err := a.client.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, a.wrapError(err, host.KindConnectionFailed, "list resource templates")
	}
	return convertResourceTemplates(a.serverID, res.ResourceTemplates), nil
}

// ListPrompts lists the server's prompts.
func (a *Adapter) ListPrompts(ctx context.Context) ([]host.Prompt, error) {
	res, err := a.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, a.wrapError(err, host.KindConnectionFailed, "list prompts")
	}
	return convertPrompts(a.serverID, res.Prompts), nil
}

// CallTool invokes a tool, honoring the call options.
func (a *Adapter) CallTool(
	ctx context.Context, name string, arguments map[string]any, opts *host.CallOptions,
) (*host.ToolCallResult, error) {
	ctx, token, done := a.callContext(ctx, opts)
	defer done()

	req := mcp.CallToolRequest{}
	req.Params = mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	}
	if token != nil {
		req.Params.Meta = &mcp.Meta{ProgressToken: token}
	}

	res, err := a.client.CallTool(ctx, req)
	if err != nil {
		return nil, a.wrapError(err, host.KindToolCallFailed, "call tool "+name)
	}
	return convertToolResult(res), nil
}

// ReadResource reads a resource by URI, honoring the call options.
func (a *Adapter) ReadResource(ctx context.Context, uri string, opts *host.CallOptions) (*host.ResourceReadResult, error) {
	ctx, _, done := a.callContext(ctx, opts)
	defer done()

	req := mcp.ReadResourceRequest{}
	req.Params = mcp.ReadResourceParams{URI: uri}

	res, err := a.client.ReadResource(ctx, req)
	if err != nil {
		return nil, a.wrapError(err, host.KindResourceReadFailed, "read resource "+uri)
	}
	return convertReadResult(res), nil
}

// GetPrompt renders a prompt, honoring the call options.
func (a *Adapter) GetPrompt(
	ctx context.Context, name string, arguments map[string]any, opts *host.CallOptions,
) (*host.PromptGetResult, error) {
	ctx, _, done := a.callContext(ctx, opts)
	defer done()

	req := mcp.GetPromptRequest{}
	req.Params = mcp.GetPromptParams{
		Name:      name,
		Arguments: stringifyArguments(arguments),
	}

	res, err := a.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, a.wrapError(err, host.KindPromptGetFailed, "get prompt "+name)
	}
	return convertPromptResult(res), nil
}

// SubscribeResource subscribes to update notifications for a resource.
func (a *Adapter) SubscribeResource(ctx context.Context, uri string) error {
	req := mcp.SubscribeRequest{}
	req.Params = mcp.SubscribeParams{URI: uri}
	if err := a.client.Subscribe(ctx, req); err != nil {
		return a.wrapError(err, host.KindSubscriptionFailed, "subscribe "+uri)
	}
	return nil
}

// UnsubscribeResource removes a resource subscription.
func (a *Adapter) UnsubscribeResource(ctx context.Context, uri string) error {
	req := mcp.UnsubscribeRequest{}
	req.Params = mcp.UnsubscribeParams{URI: uri}
	if err := a.client.Unsubscribe(ctx, req); err != nil {
		return a.wrapError(err, host.KindSubscriptionFailed, "unsubscribe "+uri)
	}
	return nil
}

// SendRootsListChanged notifies the server that the host's root list
// changed. The notification is sent directly on the transport; the server
// follows up with a roots/list request when it cares.
func (a *Adapter) SendRootsListChanged(ctx context.Context) error {
	notification := mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{
			Method: "notifications/roots/list_changed",
		},
	}
	if err := a.transport.SendNotification(ctx, notification); err != nil {
		return a.wrapError(err, host.KindConnectionFailed, "send roots list changed")
	}
	return nil
}

// Ping checks connection liveness.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx); err != nil {
		return a.wrapError(err, host.KindConnectionFailed, "ping")
	}
	return nil
}

// Close terminates the connection. Safe to call more than once.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.client.Close()
}

// processEnviron is swappable for tests.
var processEnviron = os.Environ
