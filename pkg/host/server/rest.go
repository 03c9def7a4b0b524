// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stacklok/mcphost/pkg/host"
)

// handleStatus reports bridge liveness and aggregate counts.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	connected := 0
	servers := s.engine.Servers()
	for _, srv := range servers {
		if srv.Status == host.StatusConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"servers":          len(servers),
		"connectedServers": connected,
		"sessions":         s.sessions.Count(),
		"pendingSampling":  s.broker.PendingCount(),
	})
}

// handleServers lists every configured server with its status and
// capability snapshot.
func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.engine.Servers()})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.capabilitySnapshot())
}

func (s *Server) handleCapabilityTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.engine.Tools()})
}

func (s *Server) handleCapabilityResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resources": s.engine.Resources()})
}

func (s *Server) handleCapabilityTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resourceTemplates": s.engine.ResourceTemplates()})
}

func (s *Server) handleCapabilityPrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": s.engine.Prompts()})
}

// suggestQuery extracts the mandatory q parameter.
func suggestQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter q is required"})
		return "", false
	}
	return q, true
}

func (s *Server) handleSuggestResource(w http.ResponseWriter, r *http.Request) {
	q, ok := suggestQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": s.engine.SuggestServerForURI(q)})
}

func (s *Server) handleSuggestTool(w http.ResponseWriter, r *http.Request) {
	q, ok := suggestQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": s.engine.SuggestServerForTool(q)})
}

func (s *Server) handleSuggestPrompt(w http.ResponseWriter, r *http.Request) {
	q, ok := suggestQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": s.engine.SuggestServerForPrompt(q)})
}

func (s *Server) handleGetRoots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roots": s.engine.GetRoots()})
}

// handleSetRoots validates and replaces the workspace roots. Aggregate
// notification failures surface with per-server detail; the replacement
// itself still took effect.
func (s *Server) handleSetRoots(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Roots []host.Root `json:"roots"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if body.Roots == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "roots array is required"})
		return
	}
	for _, root := range body.Roots {
		if root.URI == "" || root.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "every root requires uri and name"})
			return
		}
	}

	if err := s.engine.SetRoots(r.Context(), body.Roots); err != nil {
		var agg *host.AggregateError
		if errors.As(err, &agg) {
			failures := make([]map[string]string, 0, len(agg.Errors))
			for _, e := range agg.Errors {
				failures = append(failures, map[string]string{
					"serverId": e.ServerID,
					"message":  e.Message,
				})
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    agg.Message,
				"failures": failures,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roots": s.engine.GetRoots()})
}
