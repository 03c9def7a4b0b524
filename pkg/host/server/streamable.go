// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/session"
	"github.com/stacklok/mcphost/pkg/logger"
)

// sessionHeader carries the bridge session id on every request after
// initialize.
const sessionHeader = "Mcp-Session-Id"

// initializeResult is the response to the initialize method.
type initializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    host.HostCapabilities `json:"capabilities"`
	ServerInfo      host.HostInfo         `json:"serverInfo"`
}

// handleMCPPost processes single or batch JSON-RPC bodies.
func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeParseError, "failed to read request body")
		return
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeInvalidRequest, "empty request body")
		return
	}

	batch := trimmed[0] == '['
	var raws []json.RawMessage
	if batch {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeParseError, "malformed batch")
			return
		}
		if len(raws) == 0 {
			writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeInvalidRequest, "empty batch")
			return
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	messages := make([]jsonrpc2.Message, len(raws))
	hasInitialize := false
	for i, raw := range raws {
		msg, err := jsonrpc2.DecodeMessage(raw)
		if err != nil {
			messages[i] = nil
			continue
		}
		messages[i] = msg
		if req, ok := msg.(*jsonrpc2.Request); ok && req.IsCall() && req.Method == "initialize" {
			hasInitialize = true
		}
	}

	sess, ok := s.resolveSession(w, r, hasInitialize)
	if !ok {
		return
	}

	// Strict upgrade form: a single request may switch the response onto
	// an SSE stream when the client accepts one and the request either
	// initializes the session or expects progress events.
	if !batch && acceptsSSE(r) {
		if req, isReq := messages[0].(*jsonrpc2.Request); isReq && req.IsCall() && wantsStream(req, raws[0]) {
			resp := s.dispatch(r.Context(), req)
			s.streamResponse(w, r, sess, resp)
			return
		}
	}

	responses := make([]*jsonrpc2.Response, len(raws))
	sawRequest := false
	var wg sync.WaitGroup
	for i := range raws {
		switch m := messages[i].(type) {
		case nil:
			// Malformed element: respond in place with a null id.
			sawRequest = true
			responses[i] = &jsonrpc2.Response{
				Error: jsonrpc2.NewError(host.CodeInvalidRequest, "malformed JSON-RPC message"),
			}
		case *jsonrpc2.Request:
			if !m.IsCall() {
				continue
			}
			sawRequest = true
			wg.Add(1)
			go func(i int, req *jsonrpc2.Request) {
				defer wg.Done()
				responses[i] = s.dispatch(r.Context(), req)
			}(i, m)
		case *jsonrpc2.Response:
			// Responses on the ingress leg have no return path here.
		}
	}
	wg.Wait()

	out := make([]*jsonrpc2.Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, resp)
		}
	}

	if len(out) == 0 {
		if sawRequest {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !batch {
		writeResponse(w, httpStatusFor(out[0]), out[0])
		return
	}
	writeResponseBatch(w, out)
}

// resolveSession applies the session gating rules: initialize creates a
// session and forbids an existing one; everything else requires a known id.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request, hasInitialize bool) (*session.Session, bool) {
	sessionID := r.Header.Get(sessionHeader)

	if hasInitialize {
		if sessionID != "" {
			writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeInvalidRequest,
				"initialize must not carry a session id")
			return nil, false
		}
		sess := s.sessions.Create()
		w.Header().Set(sessionHeader, sess.ID())
		return sess, true
	}

	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeInvalidRequest,
			"missing "+sessionHeader+" header")
		return nil, false
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeRPCError(w, http.StatusBadRequest, jsonrpc2.ID{}, host.CodeInvalidRequest,
			"unknown session")
		return nil, false
	}
	return sess, true
}

// wantsStream reports whether a single request qualifies for the SSE
// response form: initialize, or a call expecting progress delivery.
func wantsStream(req *jsonrpc2.Request, raw json.RawMessage) bool {
	if req.Method == "initialize" {
		return true
	}
	return gjson.GetBytes(raw, "params.options.onprogress").Exists()
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// dispatch executes one JSON-RPC call against the host.
func (s *Server) dispatch(ctx context.Context, req *jsonrpc2.Request) *jsonrpc2.Response {
	result, rpcErr := s.invoke(ctx, req.Method, req.Params)
	if rpcErr != nil {
		return &jsonrpc2.Response{ID: req.ID, Error: rpcErr}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return &jsonrpc2.Response{
			ID:    req.ID,
			Error: jsonrpc2.NewError(host.CodeInternalError, "failed to encode result"),
		}
	}
	return &jsonrpc2.Response{ID: req.ID, Result: data}
}

// invoke maps a method name onto the host surface.
func (s *Server) invoke(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return initializeResult{
			ProtocolVersion: host.ProtocolVersion,
			Capabilities:    s.caps,
			ServerInfo:      s.info,
		}, nil
	case "tools/list":
		return s.engine.Tools(), nil
	case "resources/list":
		return s.engine.Resources(), nil
	case "resources/templates/list":
		return s.engine.ResourceTemplates(), nil
	case "prompts/list":
		return s.engine.Prompts(), nil
	}
	return s.invokeServerScoped(ctx, method, params)
}

// invokeServerScoped handles the servers/{id}/... method family.
func (s *Server) invokeServerScoped(ctx context.Context, method string, params json.RawMessage) (any, error) {
	parts := strings.Split(method, "/")
	if len(parts) < 4 || parts[0] != "servers" {
		return nil, jsonrpc2.NewError(host.CodeMethodNotFound, "method not found: "+method)
	}
	serverID := parts[1]

	switch {
	case len(parts) == 5 && parts[2] == "tools" && parts[4] == "call":
		var arguments map[string]any
		if len(params) > 0 {
			if err := json.Unmarshal(params, &arguments); err != nil {
				return nil, jsonrpc2.NewError(host.CodeInvalidParams, "tool arguments must be an object")
			}
		}
		s.metrics.toolCalls.Inc()
		result, err := s.engine.CallTool(ctx, serverID, parts[3], arguments, nil)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil

	case len(parts) == 4 && parts[2] == "resource" && parts[3] == "read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
			return nil, jsonrpc2.NewError(host.CodeInvalidParams, "resource read requires a uri")
		}
		result, err := s.engine.ReadResource(ctx, serverID, p.URI, nil)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil

	case len(parts) == 4 && parts[2] == "prompt" && parts[3] == "get":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
			return nil, jsonrpc2.NewError(host.CodeInvalidParams, "prompt get requires a name")
		}
		result, err := s.engine.GetPrompt(ctx, serverID, p.Name, p.Arguments, nil)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil
	}

	return nil, jsonrpc2.NewError(host.CodeMethodNotFound, "method not found: "+method)
}

// toRPCError maps a host error into the protocol taxonomy.
func toRPCError(err error) error {
	var perr *host.ProtocolError
	if errors.As(err, &perr) {
		return jsonrpc2.NewError(int64(perr.Code), perr.Message)
	}
	if errors.Is(err, host.ErrServerNotFound) {
		return jsonrpc2.NewError(host.CodeInvalidParams, err.Error())
	}
	if errors.Is(err, host.ErrTimeout) {
		return jsonrpc2.NewError(host.CodeRequestTimeout, err.Error())
	}
	return jsonrpc2.NewError(host.CodeInternalError, err.Error())
}

// httpStatusFor maps a single-request response to its HTTP status.
func httpStatusFor(resp *jsonrpc2.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	// The library keeps its wire error type unexported, so recover the
	// code from its JSON form (the fields carry json tags).
	if data, err := json.Marshal(resp.Error); err == nil {
		var werr struct {
			Code int64 `json:"code"`
		}
		if json.Unmarshal(data, &werr) == nil {
			switch werr.Code {
			case host.CodeParseError, host.CodeInvalidRequest, host.CodeMethodNotFound, host.CodeInvalidParams:
				return http.StatusBadRequest
			}
		}
	}
	return http.StatusInternalServerError
}

func writeResponse(w http.ResponseWriter, status int, resp *jsonrpc2.Response) {
	data, err := jsonrpc2.EncodeMessage(resp)
	if err != nil {
		logger.Errorf("Failed to encode JSON-RPC response: %v", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeResponseBatch(w http.ResponseWriter, responses []*jsonrpc2.Response) {
	encoded := make([]json.RawMessage, 0, len(responses))
	for _, resp := range responses {
		data, err := jsonrpc2.EncodeMessage(resp)
		if err != nil {
			logger.Errorf("Failed to encode JSON-RPC response: %v", err)
			continue
		}
		encoded = append(encoded, data)
	}
	writeJSON(w, http.StatusOK, encoded)
}

// writeRPCError writes a standalone JSON-RPC error with the given HTTP
// status.
func writeRPCError(w http.ResponseWriter, status int, id jsonrpc2.ID, code int, message string) {
	resp := &jsonrpc2.Response{ID: id, Error: jsonrpc2.NewError(int64(code), message)}
	writeResponse(w, status, resp)
}

// handleMCPDelete destroys the request's session.
func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" || !s.sessions.Destroy(sessionID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSamplingResponse ingests the success leg of a brokered sampling
// request.
func (s *Server) handleSamplingResponse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string          `json:"requestId"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil || body.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId and result are required"})
		return
	}
	if !s.broker.Resolve(body.RequestID, body.Result) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown request id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSamplingError ingests the error leg of a brokered sampling request.
func (s *Server) handleSamplingError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string `json:"requestId"`
		Error     struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil || body.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId and error are required"})
		return
	}
	code := body.Error.Code
	if code == 0 {
		code = host.CodeInternalError
	}
	message := body.Error.Message
	if message == "" {
		message = "sampling failed"
	}
	if !s.broker.Reject(body.RequestID, code, message, body.Error.Data) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown request id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
