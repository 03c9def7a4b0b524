// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session provides the in-memory per-client state for the HTTP
// bridge: event buffering with replay, SSE sink attachment and TTL-based
// eviction.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// EventBufferSize is the number of most recent events a session retains for
// Last-Event-ID replay.
const EventBufferSize = 100

// ErrSinkClosed is returned by sinks whose client has gone away.
var ErrSinkClosed = errors.New("sink closed")

// Event is one buffered server-sent event. IDs are monotonically increasing
// within a session and never reused.
type Event struct {
	ID   uint64
	Name string
	Data string
}

// Sink is an attached outbound SSE stream. Write must not block
// indefinitely; a failed write marks the sink dead.
type Sink interface {
	// Write delivers one event to the client.
	Write(ev Event) error

	// Close terminates the stream after draining pending writes.
	Close()
}

// Session is the bridge-side state for one client. A session has at most
// one attached SSE sink at a time.
type Session struct {
	id      string
	created time.Time

	mu            sync.Mutex
	updated       time.Time
	nextEventID   uint64
	buffer        []Event
	sink          Sink
	subscriptions map[string]struct{}
}

// New creates a session with the given id.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		id:            id,
		created:       now,
		updated:       now,
		nextEventID:   1,
		subscriptions: make(map[string]struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// UpdatedAt returns the last activity time.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Touch refreshes the last activity time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = time.Now()
}

// Enqueue assigns the next event id, appends the event to the replay buffer
// and best-effort writes it to the attached sink. A failed write detaches
// the sink without rolling back the id; the client recovers the gap through
// Last-Event-ID replay on reconnect.
func (s *Session) Enqueue(name, data string) Event {
	s.mu.Lock()
	ev := Event{ID: s.nextEventID, Name: name, Data: data}
	s.nextEventID++
	s.buffer = append(s.buffer, ev)
	if len(s.buffer) > EventBufferSize {
		s.buffer = s.buffer[len(s.buffer)-EventBufferSize:]
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		if err := sink.Write(ev); err != nil {
			s.detachSink(sink)
		}
	}
	return ev
}

// EventsAfter returns a copy of every buffered event with id > lastID, in
// id order.
func (s *Session) EventsAfter(lastID uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.buffer {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// AttachSink installs the session's SSE sink, closing any predecessor. The
// predecessor's Close drains its pending writes before discarding.
func (s *Session) AttachSink(sink Sink) {
	s.mu.Lock()
	prev := s.sink
	s.sink = sink
	s.updated = time.Now()
	s.mu.Unlock()

	if prev != nil && prev != sink {
		prev.Close()
	}
}

// DetachSink removes the sink if it is still the attached one. Used when a
// client closes its SSE connection.
func (s *Session) DetachSink(sink Sink) {
	s.detachSink(sink)
}

func (s *Session) detachSink(sink Sink) {
	s.mu.Lock()
	if s.sink == sink {
		s.sink = nil
	}
	s.mu.Unlock()
}

// HasSink reports whether an SSE stream is currently attached.
func (s *Session) HasSink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// Subscribe adds a broadcast topic.
func (s *Session) Subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[topic] = struct{}{}
}

// Unsubscribe removes a broadcast topic.
func (s *Session) Unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, topic)
}

// Wants reports whether the session should receive a broadcast tagged with
// the given topics. Untagged broadcasts are unconditional. A tagged
// broadcast is delivered iff any of the session's subscriptions matches;
// the catch-all "resources" subscription matches every "resource:<uri>"
// tag.
func (s *Session) Wants(topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, topic := range topics {
		if _, ok := s.subscriptions[topic]; ok {
			return true
		}
		if strings.HasPrefix(topic, "resource:") {
			if _, ok := s.subscriptions["resources"]; ok {
				return true
			}
		}
	}
	return false
}

// Close detaches and closes the attached sink, if any.
func (s *Session) Close() {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	if sink != nil {
		sink.Close()
	}
}
