// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/session"
	"github.com/stacklok/mcphost/pkg/logger"
)

// wireEvents fans host events out to attached sessions and WebSocket peers.
// Connect, disconnect and capability updates broadcast unconditionally;
// resource updates and log messages are filtered by subscription topic.
func (s *Server) wireEvents() {
	ev := s.engine.Events()
	s.unsubs = append(s.unsubs,
		ev.OnServerConnected(func(e host.ServerConnectedEvent) {
			s.metrics.serverConnects.Inc()
			s.broadcast("serverConnected", map[string]any{"serverId": e.ServerID}, nil)
		}),
		ev.OnServerDisconnected(func(e host.ServerDisconnectedEvent) {
			payload := map[string]any{"serverId": e.ServerID}
			if e.Err != nil {
				payload["error"] = e.Err.Error()
			}
			s.broadcast("serverDisconnected", payload, nil)
		}),
		ev.OnServerError(func(e host.ServerErrorEvent) {
			payload := map[string]any{"serverId": e.ServerID}
			if e.Err != nil {
				payload["error"] = e.Err.Error()
			}
			s.broadcast("serverError", payload, []string{"server:" + e.ServerID})
		}),
		ev.OnCapabilitiesUpdated(func(host.CapabilitiesUpdatedEvent) {
			s.broadcast("capabilitiesUpdated", s.capabilitySnapshot(), nil)
		}),
		ev.OnResourceUpdated(func(e host.ResourceUpdatedEvent) {
			s.broadcast("resourceUpdated",
				map[string]any{"serverId": e.ServerID, "uri": e.URI},
				[]string{"resource:" + e.URI, "server:" + e.ServerID})
		}),
		ev.OnSamplingRequest(func(host.SamplingRequestEvent) {
			s.metrics.samplingRequests.Inc()
		}),
		ev.OnLog(func(e host.LogEvent) {
			s.broadcast("log",
				map[string]any{"serverId": e.ServerID, "level": e.Level, "data": e.Data},
				[]string{"server:" + e.ServerID})
		}),
	)
}

// broadcast delivers one event to every session and WebSocket peer whose
// subscriptions match the topics. Nil topics means unconditional. Events
// always pass through the session ring so reconnecting clients can replay
// them.
func (s *Server) broadcast(name string, payload any, topics []string) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("Failed to encode %s broadcast: %v", name, err)
		return
	}

	s.sessions.Range(func(sess *session.Session) bool {
		if sess.Wants(topics) {
			sess.Enqueue(name, string(data))
		}
		return true
	})

	s.wsMu.Lock()
	conns := make([]*wsConn, 0, len(s.wsConns))
	for _, c := range s.wsConns {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()
	for _, c := range conns {
		if c.wants(topics) {
			if err := c.writeJSON(map[string]any{"type": name, "data": json.RawMessage(data)}); err != nil {
				logger.Debugf("Dropping unwritable websocket peer %s: %v", c.id, err)
			}
		}
	}
}

// capabilitySnapshot is the aggregate view pushed on capability updates and
// as the SSE initialState event.
func (s *Server) capabilitySnapshot() map[string]any {
	return map[string]any{
		"tools":             s.engine.Tools(),
		"resources":         s.engine.Resources(),
		"resourceTemplates": s.engine.ResourceTemplates(),
		"prompts":           s.engine.Prompts(),
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
