// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"
)

// Event payloads. Each kind carries a typed payload; listeners register per
// kind on the Events broadcaster.

// ServerConnectedEvent fires after a server completes the connect sequence.
type ServerConnectedEvent struct {
	ServerID string
}

// ServerDisconnectedEvent fires when a live connection terminates, before
// the CapabilitiesUpdatedEvent caused by the same disconnect.
type ServerDisconnectedEvent struct {
	ServerID string
	Err      error
}

// ServerErrorEvent fires on connection-level errors that do not necessarily
// terminate the connection.
type ServerErrorEvent struct {
	ServerID string
	Err      error
}

// CapabilitiesUpdatedEvent fires whenever the aggregated capability maps
// change.
type CapabilitiesUpdatedEvent struct{}

// ResourceUpdatedEvent fires when a subscribed resource reports a change.
type ResourceUpdatedEvent struct {
	ServerID string
	URI      string
}

// SamplingRequestEvent fires when a server-initiated sampling request is
// registered with the broker.
type SamplingRequestEvent struct {
	RequestID string
	ServerID  string
}

// LogEvent re-emits a server logging message. Level is the composite
// "server-<lvl>" form for server-originated messages.
type LogEvent struct {
	ServerID string
	Level    string
	Data     any
}

// listenerSet holds the subscribers for one event kind. Emission walks a
// snapshot taken under the lock, so listeners may unsubscribe from within
// their own callback.
type listenerSet[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func (s *listenerSet[T]) on(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *listenerSet[T]) emit(ev T) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	// Registration order equals id order.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		invoke(fn, ev)
	}
}

// invoke isolates listener panics so one faulty subscriber cannot take the
// emitting goroutine down.
func invoke[T any](fn func(T), ev T) {
	defer func() {
		_ = recover()
	}()
	fn(ev)
}

// Events is the host's typed broadcaster. One On/Emit pair per event kind;
// On returns an unsubscribe func. Emission is synchronous and provides no
// back-pressure guarantees: slow listeners delay the emitter.
type Events struct {
	serverConnected     listenerSet[ServerConnectedEvent]
	serverDisconnected  listenerSet[ServerDisconnectedEvent]
	serverError         listenerSet[ServerErrorEvent]
	capabilitiesUpdated listenerSet[CapabilitiesUpdatedEvent]
	resourceUpdated     listenerSet[ResourceUpdatedEvent]
	samplingRequest     listenerSet[SamplingRequestEvent]
	log                 listenerSet[LogEvent]
}

// NewEvents creates an empty broadcaster.
func NewEvents() *Events {
	return &Events{}
}

// OnServerConnected registers a listener for server connects.
func (e *Events) OnServerConnected(fn func(ServerConnectedEvent)) func() {
	return e.serverConnected.on(fn)
}

// EmitServerConnected broadcasts a server connect.
func (e *Events) EmitServerConnected(ev ServerConnectedEvent) {
	e.serverConnected.emit(ev)
}

// OnServerDisconnected registers a listener for server disconnects.
func (e *Events) OnServerDisconnected(fn func(ServerDisconnectedEvent)) func() {
	return e.serverDisconnected.on(fn)
}

// EmitServerDisconnected broadcasts a server disconnect.
func (e *Events) EmitServerDisconnected(ev ServerDisconnectedEvent) {
	e.serverDisconnected.emit(ev)
}

// OnServerError registers a listener for server errors.
func (e *Events) OnServerError(fn func(ServerErrorEvent)) func() {
	return e.serverError.on(fn)
}

// EmitServerError broadcasts a server error.
func (e *Events) EmitServerError(ev ServerErrorEvent) {
	e.serverError.emit(ev)
}

// OnCapabilitiesUpdated registers a listener for aggregate changes.
func (e *Events) OnCapabilitiesUpdated(fn func(CapabilitiesUpdatedEvent)) func() {
	return e.capabilitiesUpdated.on(fn)
}

// EmitCapabilitiesUpdated broadcasts an aggregate change.
func (e *Events) EmitCapabilitiesUpdated(ev CapabilitiesUpdatedEvent) {
	e.capabilitiesUpdated.emit(ev)
}

// OnResourceUpdated registers a listener for resource updates.
func (e *Events) OnResourceUpdated(fn func(ResourceUpdatedEvent)) func() {
	return e.resourceUpdated.on(fn)
}

// EmitResourceUpdated broadcasts a resource update.
func (e *Events) EmitResourceUpdated(ev ResourceUpdatedEvent) {
	e.resourceUpdated.emit(ev)
}

// OnSamplingRequest registers a listener for sampling registrations.
func (e *Events) OnSamplingRequest(fn func(SamplingRequestEvent)) func() {
	return e.samplingRequest.on(fn)
}

// EmitSamplingRequest broadcasts a sampling registration.
func (e *Events) EmitSamplingRequest(ev SamplingRequestEvent) {
	e.samplingRequest.emit(ev)
}

// OnLog registers a listener for server log messages.
func (e *Events) OnLog(fn func(LogEvent)) func() {
	return e.log.on(fn)
}

// EmitLog broadcasts a server log message.
func (e *Events) EmitLog(ev LogEvent) {
	e.log.emit(ev)
}
