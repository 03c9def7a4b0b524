// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/jsonrpc2"

	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/host/session"
	"github.com/stacklok/mcphost/pkg/logger"
)

// sseSink writes session events to one SSE response stream. Writes from the
// broadcast path and the heartbeat ticker are serialized by the mutex.
type sseSink struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	f      http.Flusher
	closed bool
}

func newSSESink(w http.ResponseWriter, f http.Flusher) *sseSink {
	return &sseSink{w: w, f: f}
}

// Write encodes one event in the id/event/data wire form.
func (k *sseSink) Write(ev session.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return session.ErrSinkClosed
	}
	if _, err := fmt.Fprintf(k.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Name, ev.Data); err != nil {
		k.closed = true
		return err
	}
	k.f.Flush()
	return nil
}

// heartbeat writes an SSE comment line to keep intermediaries from timing
// out the stream.
func (k *sseSink) heartbeat() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return session.ErrSinkClosed
	}
	if _, err := fmt.Fprint(k.w, ": heartbeat\n\n"); err != nil {
		k.closed = true
		return err
	}
	k.f.Flush()
	return nil
}

// Close marks the sink dead. The response stream itself is owned by the
// handler goroutine.
func (k *sseSink) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
}

// sessionSamplingSink adapts a session with a live SSE stream into a
// sampling delivery channel.
type sessionSamplingSink struct {
	sess *session.Session
}

func (k *sessionSamplingSink) ID() string {
	return "sse:" + k.sess.ID()
}

func (k *sessionSamplingSink) DeliverSamplingRequest(requestID, serverID string, params json.RawMessage) error {
	data, err := json.Marshal(map[string]any{
		"requestId": requestID,
		"serverId":  serverID,
		"params":    params,
	})
	if err != nil {
		return err
	}
	k.sess.Enqueue("sampling_request", string(data))
	// A failed stream write detaches the sink; report the loss so the
	// broker can fail fast instead of waiting out the deadline.
	if !k.sess.HasSink() {
		return session.ErrSinkClosed
	}
	return nil
}

// handleMCPStream serves the long-lived SSE leg of the bridge.
func (s *Server) handleMCPStream(w http.ResponseWriter, r *http.Request) {
	if !acceptsSSE(r) {
		writeJSON(w, http.StatusNotAcceptable, map[string]string{"error": "Accept: text/event-stream required"})
		return
	}
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + sessionHeader + " header"})
		return
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown session"})
		return
	}

	sink, ok := s.openStream(w)
	if !ok {
		return
	}

	// Replay the ring for reconnecting clients before attaching.
	if lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, ev := range sess.EventsAfter(lastID) {
			if err := sink.Write(ev); err != nil {
				return
			}
		}
	}

	sess.AttachSink(sink)

	state, err := json.Marshal(s.initialState())
	if err != nil {
		logger.Errorf("Failed to encode initial state: %v", err)
	} else {
		sess.Enqueue("initialState", string(state))
	}

	s.runStream(r, sess, sink)
}

// streamResponse serves the SSE upgrade of a single POSTed request: the
// response goes out as the first event, then the stream stays attached as
// the session's sink.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, sess *session.Session, resp *jsonrpc2.Response) {
	data, err := jsonrpc2.EncodeMessage(resp)
	if err != nil {
		logger.Errorf("Failed to encode JSON-RPC response: %v", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	sink, ok := s.openStream(w)
	if !ok {
		return
	}
	sess.AttachSink(sink)
	sess.Enqueue("response", string(data))

	s.runStream(r, sess, sink)
}

// openStream switches the response into SSE mode and writes the initial
// blank line.
func (s *Server) openStream(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "\n")
	flusher.Flush()
	return newSSESink(w, flusher), true
}

// initialState is the snapshot event sent when an SSE stream attaches.
func (s *Server) initialState() map[string]any {
	return map[string]any{
		"servers":           s.engine.Servers(),
		"tools":             s.engine.Tools(),
		"resources":         s.engine.Resources(),
		"resourceTemplates": s.engine.ResourceTemplates(),
		"prompts":           s.engine.Prompts(),
		"roots":             s.engine.GetRoots(),
	}
}

// runStream keeps the SSE connection alive with heartbeats until the client
// goes away, registering the session as a sampling sink for the duration.
func (s *Server) runStream(r *http.Request, sess *session.Session, sink *sseSink) {
	brokerSink := &sessionSamplingSink{sess: sess}
	s.broker.RegisterSink(brokerSink, sampling.RankSSE)
	defer func() {
		sess.DetachSink(sink)
		s.broker.UnregisterSink(brokerSink.ID(), "sse connection closed")
	}()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := sink.heartbeat(); err != nil {
				return
			}
		}
	}
}
