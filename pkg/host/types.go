// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"encoding/json"
	"time"
)

// This file contains the shared domain types used across the host subpackages.
// The host root package carries types, errors and events only; behavior lives
// in the subpackages (client, core, resolver, sampling, session, server).

// Transport identifies the wire transport used to reach an MCP server.
type Transport string

const (
	// TransportStdio runs the server as a child process and speaks MCP over
	// its stdin/stdout pipes.
	TransportStdio Transport = "stdio"

	// TransportSSE connects to an HTTP+SSE MCP server.
	TransportSSE Transport = "sse"

	// TransportWebSocket connects to a WebSocket MCP server. The underlying
	// protocol library does not provide a WebSocket client transport, so
	// configurations using it are rejected at connect time with
	// ErrInvalidTransport.
	TransportWebSocket Transport = "websocket"

	// TransportStreamableHTTP connects to a streamable HTTP MCP server.
	TransportStreamableHTTP Transport = "streamable-http"
)

// ProtocolVersion is the MCP protocol revision this host negotiates with
// servers and reports to bridge clients on initialize.
const ProtocolVersion = "2025-03-26"

// ServerConfig describes one MCP server the host should connect to.
// It is immutable after construction; the host indexes configs by ID and
// rejects duplicates, keeping the first occurrence.
type ServerConfig struct {
	// ID uniquely identifies the server within the host.
	ID string `json:"id"`

	// Name is an optional human-readable name. Defaults to ID.
	Name string `json:"name,omitempty"`

	// Transport selects how to reach the server.
	Transport Transport `json:"transport"`

	// Command, Args, Env and Cwd configure stdio transports. Env entries
	// are merged over the parent process environment, and PATH is prefixed
	// with the local tool directory under Cwd so locally installed
	// launchers resolve.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// URL and Headers configure network transports (sse, streamable-http).
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DisplayName returns the configured name, falling back to the ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// HostInfo identifies the host application to the servers it connects to.
type HostInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RootsCapability describes root-list support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// HostCapabilities are the client capabilities the host declares during the
// initialize handshake with every server.
type HostCapabilities struct {
	// Sampling enables brokering of server-initiated createMessage requests.
	Sampling bool `json:"sampling,omitempty"`

	// Roots advertises workspace root support.
	Roots *RootsCapability `json:"roots,omitempty"`
}

// ToolsCapability describes a server's tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes a server's resource support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`

	// Templates reports whether the server serves resource templates.
	// The wire form of this bit is not part of the core protocol; adapters
	// derive it from whatever the server actually advertises.
	Templates bool `json:"templates,omitempty"`
}

// PromptsCapability describes a server's prompt support.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the host's snapshot of what one server declared
// during initialization. Servers report capabilities in loosely specified
// shapes; unknown advertisement is preserved in Experimental.
type ServerCapabilities struct {
	Tools       *ToolsCapability     `json:"tools,omitempty"`
	Resources   *ResourcesCapability `json:"resources,omitempty"`
	Prompts     *PromptsCapability   `json:"prompts,omitempty"`
	Roots       *RootsCapability     `json:"roots,omitempty"`
	Logging     bool                 `json:"logging,omitempty"`
	Completions bool                 `json:"completions,omitempty"`
	Sampling    bool                 `json:"sampling,omitempty"`

	// Experimental carries capability advertisement the typed fields above
	// do not model.
	Experimental map[string]any `json:"experimental,omitempty"`
}

// Clone returns a deep copy of the capability snapshot.
func (s *ServerCapabilities) Clone() *ServerCapabilities {
	if s == nil {
		return nil
	}
	out := *s
	if s.Tools != nil {
		t := *s.Tools
		out.Tools = &t
	}
	if s.Resources != nil {
		r := *s.Resources
		out.Resources = &r
	}
	if s.Prompts != nil {
		p := *s.Prompts
		out.Prompts = &p
	}
	if s.Roots != nil {
		r := *s.Roots
		out.Roots = &r
	}
	if s.Experimental != nil {
		exp := make(map[string]any, len(s.Experimental))
		for k, v := range s.Experimental {
			exp[k] = v
		}
		out.Experimental = exp
	}
	return &out
}

// Tool is an aggregated MCP tool capability.
type Tool struct {
	// ServerID identifies the server that provides this tool.
	ServerID string `json:"serverId"`

	// Name is the tool name as the server reports it.
	Name string `json:"name"`

	// Description describes what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for tool parameters.
	InputSchema map[string]any `json:"inputSchema,omitempty"`

	// Annotations carries optional tool annotations as reported.
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Resource is an aggregated MCP resource capability.
type Resource struct {
	// ServerID identifies the server that provides this resource.
	ServerID string `json:"serverId"`

	// URI identifies the resource.
	URI string `json:"uri"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty"`

	// MimeType is the resource's MIME type when reported.
	MimeType string `json:"mimeType,omitempty"`

	// Size is the reported size in bytes, zero when unknown.
	Size int64 `json:"size,omitempty"`
}

// ResourceTemplate is an aggregated MCP resource template.
type ResourceTemplate struct {
	// ServerID identifies the server that provides this template.
	ServerID string `json:"serverId"`

	// ID uniquely identifies the template within its server. The wire
	// format carries no identifier, so adapters derive it from the URI
	// template string.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty"`

	// URITemplate is the RFC 6570 style pattern that expands to resource URIs.
	URITemplate string `json:"uriTemplate"`

	// Description describes the template.
	Description string `json:"description,omitempty"`
}

// Prompt is an aggregated MCP prompt capability.
type Prompt struct {
	// ServerID identifies the server that provides this prompt.
	ServerID string `json:"serverId"`

	// Name is the prompt name.
	Name string `json:"name"`

	// Description describes the prompt.
	Description string `json:"description,omitempty"`

	// Arguments are the prompt parameters.
	Arguments []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument is one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Root is one workspace root announced to servers.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// Progress is one progress update delivered while a request is in flight.
type Progress struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// CallOptions tune a single tool call, resource read or prompt get.
type CallOptions struct {
	// OnProgress receives progress notifications correlated to the request.
	OnProgress func(Progress)

	// Timeout bounds the request. Zero means no inactivity timeout beyond
	// the context deadline.
	Timeout time.Duration

	// ResetTimeoutOnProgress restarts the timeout clock whenever a progress
	// notification arrives.
	ResetTimeoutOnProgress bool

	// MaxTotalTimeout caps the request duration regardless of progress.
	MaxTotalTimeout time.Duration
}

// Content is one item of MCP content (text, image, audio, resource).
type Content struct {
	// Type indicates the content type: "text", "image", "audio", "resource".
	Type string `json:"type"`

	// Text is the content text (for text content).
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded payload (for image/audio content).
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type (for image/audio content).
	MimeType string `json:"mimeType,omitempty"`

	// URI is the resource URI (for embedded resources).
	URI string `json:"uri,omitempty"`
}

// ToolCallResult is the outcome of one tool invocation.
type ToolCallResult struct {
	// Content is the ordered content returned by the tool.
	Content []Content `json:"content"`

	// StructuredContent is the structured output when the server provides one.
	StructuredContent map[string]any `json:"structuredContent,omitempty"`

	// IsError reports a tool-level failure carried inside a successful
	// protocol response.
	IsError bool `json:"isError,omitempty"`
}

// ResourceContents is one entry of a resource read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`

	// Text holds textual contents; Blob holds base64 binary contents.
	// Exactly one of the two is set.
	Text string `json:"text,omitempty"`
	Blob string `json:"blob,omitempty"`
}

// ResourceReadResult is the outcome of one resource read.
type ResourceReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptMessage is one message of a prompt get result.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptGetResult is the outcome of one prompt get.
type PromptGetResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ServerStatus is the lifecycle state of one configured server.
type ServerStatus string

const (
	// StatusConnecting means a connect attempt is in flight.
	StatusConnecting ServerStatus = "connecting"

	// StatusConnected means the server is live and aggregated.
	StatusConnected ServerStatus = "connected"

	// StatusError means the last connect attempt failed.
	StatusError ServerStatus = "error"

	// StatusDisconnected means the server is configured but not connected.
	StatusDisconnected ServerStatus = "disconnected"
)

// ServerInfo is the externally visible state of one configured server.
type ServerInfo struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Transport    Transport           `json:"transport"`
	Status       ServerStatus        `json:"status"`
	Error        string              `json:"error,omitempty"`
	Capabilities *ServerCapabilities `json:"capabilities,omitempty"`
}

// Handlers are the callbacks a client adapter delivers protocol events
// through. All handlers are optional and must be registered before the
// adapter connects so no early notification is lost. Handlers are invoked
// serially per connection.
type Handlers struct {
	// OnToolsListChanged fires on notifications/tools/list_changed.
	OnToolsListChanged func()

	// OnResourcesListChanged fires on notifications/resources/list_changed.
	OnResourcesListChanged func()

	// OnPromptsListChanged fires on notifications/prompts/list_changed.
	OnPromptsListChanged func()

	// OnResourceUpdated fires on notifications/resources/updated for
	// subscribed resources.
	OnResourceUpdated func(uri string)

	// OnLogMessage fires on notifications/message with the server-reported
	// level and payload.
	OnLogMessage func(level string, data any)

	// OnClose fires once when the connection terminates. A nil error means
	// a deliberate close.
	OnClose func(err error)

	// OnError fires on connection-level errors that do not terminate the
	// connection.
	OnError func(err error)
}

// SamplingError is a protocol-shaped error produced while brokering a
// server-initiated sampling request.
type SamplingError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *SamplingError) Error() string {
	return e.Message
}

// SamplingRelay brokers server-initiated createMessage requests. Params and
// the returned result are the verbatim MCP wire forms; the adapter owns the
// conversion to protocol library types.
type SamplingRelay interface {
	CreateMessage(ctx context.Context, serverID string, params json.RawMessage) (json.RawMessage, error)
}

// BackendClient is the per-server MCP protocol endpoint the host core
// consumes. Implementations wrap a concrete protocol library; tests use the
// generated mock. The adapter owns exactly one connection: it is created
// connected and becomes unusable after Close.
//
//go:generate mockgen -destination=mocks/mock_backend_client.go -package=mocks -source=types.go BackendClient
type BackendClient interface {
	// Capabilities returns the capability snapshot taken at initialization.
	Capabilities() *ServerCapabilities

	// ListTools lists the server's tools.
	ListTools(ctx context.Context) ([]Tool, error)

	// ListResources lists the server's concrete resources.
	ListResources(ctx context.Context) ([]Resource, error)

	// ListResourceTemplates lists the server's resource templates.
	ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)

	// ListPrompts lists the server's prompts.
	ListPrompts(ctx context.Context) ([]Prompt, error)

	// CallTool invokes a tool. opts may be nil.
	CallTool(ctx context.Context, name string, arguments map[string]any, opts *CallOptions) (*ToolCallResult, error)

	// ReadResource reads a resource by URI. opts may be nil.
	ReadResource(ctx context.Context, uri string, opts *CallOptions) (*ResourceReadResult, error)

	// GetPrompt renders a prompt. opts may be nil.
	GetPrompt(ctx context.Context, name string, arguments map[string]any, opts *CallOptions) (*PromptGetResult, error)

	// SubscribeResource subscribes to update notifications for a resource.
	SubscribeResource(ctx context.Context, uri string) error

	// UnsubscribeResource removes a resource subscription.
	UnsubscribeResource(ctx context.Context, uri string) error

	// SendRootsListChanged notifies the server that the host's root list
	// changed.
	SendRootsListChanged(ctx context.Context) error

	// Ping checks connection liveness.
	Ping(ctx context.Context) error

	// Close terminates the connection. Safe to call more than once.
	Close() error
}
