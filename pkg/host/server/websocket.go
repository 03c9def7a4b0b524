// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/logger"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge is origin-agnostic; embedders front it with their own
	// policy when exposure matters.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClientMessage is the envelope for every client-originated WS message.
type wsClientMessage struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	} `json:"error,omitempty"`
}

// wsConn is one connected WebSocket peer. It doubles as a rank-0 sampling
// sink.
type wsConn struct {
	id        string
	conn      *websocket.Conn
	server    *Server
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	topics map[string]struct{}
}

// handleWebSocket upgrades the connection, authenticates, greets the peer
// and serves its message loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("WebSocket upgrade failed: %v", err)
		return
	}

	if !s.authorized(r) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		_ = conn.Close()
		return
	}

	c := &wsConn{
		id:     uuid.New().String(),
		conn:   conn,
		server: s,
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}

	s.wsMu.Lock()
	s.wsConns[c.id] = c
	s.wsMu.Unlock()
	s.broker.RegisterSink(c, sampling.RankWebSocket)

	if err := c.writeJSON(map[string]any{"type": "connection", "connectionId": c.id}); err != nil {
		c.cleanup("greeting failed")
		return
	}

	go c.pingLoop(s.cfg.PingInterval)
	c.readLoop()
}

// ID implements sampling.Sink.
func (c *wsConn) ID() string {
	return "ws:" + c.id
}

// DeliverSamplingRequest implements sampling.Sink.
func (c *wsConn) DeliverSamplingRequest(requestID, serverID string, params json.RawMessage) error {
	return c.writeJSON(map[string]any{
		"type":      "sampling_request",
		"requestId": requestID,
		"serverId":  serverID,
		"params":    params,
	})
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// wants mirrors the session topic semantics: untagged broadcasts are
// unconditional; "resources" catches every resource:<uri> tag.
func (c *wsConn) wants(topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		if _, ok := c.topics[topic]; ok {
			return true
		}
		if strings.HasPrefix(topic, "resource:") {
			if _, ok := c.topics["resources"]; ok {
				return true
			}
		}
	}
	return false
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) readLoop() {
	defer c.cleanup("websocket peer disconnected")
	for {
		var msg wsClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("WebSocket peer %s read error: %v", c.id, err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *wsConn) handleMessage(msg wsClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Topic != "" {
			c.mu.Lock()
			c.topics[msg.Topic] = struct{}{}
			c.mu.Unlock()
		}
	case "unsubscribe":
		if msg.Topic != "" {
			c.mu.Lock()
			delete(c.topics, msg.Topic)
			c.mu.Unlock()
		}
	case "sampling_response":
		if msg.RequestID == "" {
			return
		}
		c.server.broker.Resolve(msg.RequestID, msg.Result)
	case "sampling_error":
		if msg.RequestID == "" {
			return
		}
		code := host.CodeInternalError
		message := "sampling failed"
		var data any
		if msg.Error != nil {
			if msg.Error.Code != 0 {
				code = msg.Error.Code
			}
			if msg.Error.Message != "" {
				message = msg.Error.Message
			}
			data = msg.Error.Data
		}
		c.server.broker.Reject(msg.RequestID, code, message, data)
	default:
		logger.Debugf("WebSocket peer %s sent unknown message type %q", c.id, msg.Type)
	}
}

// shutdown closes the peer from the server side.
func (c *wsConn) shutdown(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	_ = c.conn.Close()
}

// cleanup deregisters the peer and fails its in-flight sampling requests.
func (c *wsConn) cleanup(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()

		c.server.wsMu.Lock()
		delete(c.server.wsConns, c.id)
		c.server.wsMu.Unlock()

		c.server.broker.UnregisterSink(c.ID(), reason)
	})
}
