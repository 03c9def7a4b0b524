// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors used across the host subpackages.
// These errors should be checked using errors.Is().
var (
	// ErrServerNotFound indicates the referenced server id is unknown or
	// not currently connected.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidTransport indicates a server configuration names a
	// transport this host cannot construct.
	ErrInvalidTransport = errors.New("invalid transport")

	// ErrConnectionFailed indicates a connect attempt to a server failed.
	// Wrapping errors should include the underlying transport error.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrSubscriptionFailed indicates a resource subscribe or unsubscribe
	// operation failed.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrToolCallFailed indicates a tool invocation failed below the MCP
	// protocol level.
	ErrToolCallFailed = errors.New("tool call failed")

	// ErrResourceReadFailed indicates a resource read failed below the MCP
	// protocol level.
	ErrResourceReadFailed = errors.New("resource read failed")

	// ErrPromptGetFailed indicates a prompt get failed below the MCP
	// protocol level.
	ErrPromptGetFailed = errors.New("prompt get failed")

	// ErrRootsUpdateFailed indicates notifying one or more servers of a
	// roots change failed. Usually carried inside an AggregateError.
	ErrRootsUpdateFailed = errors.New("roots update failed")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled by the caller.
	ErrCancelled = errors.New("operation cancelled")
)

// ErrorKind identifies one host-error category. The string values are part
// of the external surface: the HTTP bridge reports them verbatim.
type ErrorKind string

// Host error kinds.
const (
	KindRootsUpdateFailed  ErrorKind = "ROOTS_UPDATE_FAILED"
	KindServerNotFound     ErrorKind = "SERVER_NOT_FOUND"
	KindInvalidTransport   ErrorKind = "INVALID_TRANSPORT"
	KindConnectionFailed   ErrorKind = "CONNECTION_FAILED"
	KindSubscriptionFailed ErrorKind = "SUBSCRIPTION_FAILED"
	KindToolCallFailed     ErrorKind = "TOOL_CALL_FAILED"
	KindResourceReadFailed ErrorKind = "RESOURCE_READ_FAILED"
	KindPromptGetFailed    ErrorKind = "PROMPT_GET_FAILED"
)

// sentinelForKind maps each kind to the sentinel errors.Is target.
var sentinelForKind = map[ErrorKind]error{
	KindRootsUpdateFailed:  ErrRootsUpdateFailed,
	KindServerNotFound:     ErrServerNotFound,
	KindInvalidTransport:   ErrInvalidTransport,
	KindConnectionFailed:   ErrConnectionFailed,
	KindSubscriptionFailed: ErrSubscriptionFailed,
	KindToolCallFailed:     ErrToolCallFailed,
	KindResourceReadFailed: ErrResourceReadFailed,
	KindPromptGetFailed:    ErrPromptGetFailed,
}

// Error is a structured host error. Every instance carries a kind, a
// message, the server it concerns (when attributable) and the underlying
// cause (when any). It unwraps both to its kind sentinel and to its cause,
// so errors.Is works against either.
type Error struct {
	Kind     ErrorKind
	Message  string
	ServerID string
	Cause    error
}

// NewError builds a structured host error.
func NewError(kind ErrorKind, message, serverID string, cause error) *Error {
	return &Error{Kind: kind, Message: message, ServerID: serverID, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.ServerID != "" {
		fmt.Fprintf(&sb, " (server %s)", e.ServerID)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinelForKind[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// AggregateError collects per-server failures from one fan-out operation,
// notably SetRoots.
type AggregateError struct {
	Message string
	Errors  []*Error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// JSON-RPC error codes preserved from the MCP protocol taxonomy.
const (
	// CodeParseError indicates the body was not parseable JSON.
	CodeParseError = -32700

	// CodeInvalidRequest indicates a structurally invalid JSON-RPC message
	// or a missing/unknown session.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates an unrecognized method.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates malformed method parameters.
	CodeInvalidParams = -32602

	// CodeInternalError indicates an internal host failure.
	CodeInternalError = -32603

	// CodeRequestTimeout indicates a brokered request exceeded its deadline.
	CodeRequestTimeout = -32001
)

// ProtocolError is a JSON-RPC shaped error preserved verbatim from the MCP
// layer or synthesized by the bridge.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
