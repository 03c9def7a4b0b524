// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sampling relays server-initiated createMessage requests to an
// external handler and returns the outcome to the originating server
// exactly once.
package sampling

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/logger"
)

// DefaultTimeout bounds a brokered sampling request when the caller does not
// configure one.
const DefaultTimeout = 300 * time.Second

// Sink ranks. Lower ranks are preferred; within a rank, the earliest
// registered sink wins.
const (
	// RankWebSocket is used for live WebSocket peers.
	RankWebSocket = 0

	// RankSSE is used for sessions with a writable SSE stream.
	RankSSE = 1
)

// Sink is one outbound channel capable of carrying a sampling request to an
// external handler. Delivery is best-effort; the return leg arrives through
// Resolve or Reject.
type Sink interface {
	// ID identifies the sink for CancelSink bookkeeping.
	ID() string

	// DeliverSamplingRequest hands the request to the external handler.
	DeliverSamplingRequest(requestID, serverID string, params json.RawMessage) error
}

// Handler executes a sampling request in-process, bypassing sinks. The
// params and result are the MCP createMessage wire forms.
type Handler func(ctx context.Context, serverID string, params json.RawMessage) (json.RawMessage, error)

type completion struct {
	result json.RawMessage
	err    error
}

type pending struct {
	serverID string
	sinkID   string
	done     chan completion
}

type rankedSink struct {
	sink Sink
	rank int
	seq  int
}

// Broker implements host.SamplingRelay. It multiplexes server-initiated
// createMessage requests to whichever sink is currently registered, arms a
// per-request deadline and guarantees exactly-once completion.
type Broker struct {
	timeout time.Duration
	events  *host.Events

	mu      sync.Mutex
	nextSeq int
	sinks   []rankedSink
	pending map[string]*pending
	handler Handler
}

// Option configures a Broker.
type Option func(*Broker)

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBroker creates a broker broadcasting registrations on events.
func NewBroker(events *host.Events, opts ...Option) *Broker {
	b := &Broker{
		timeout: DefaultTimeout,
		events:  events,
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetHandler installs an in-process handler. When set, it takes precedence
// over every sink. Pass nil to uninstall.
func (b *Broker) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// RegisterSink adds a sink at the given rank.
func (b *Broker) RegisterSink(s Sink, rank int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, rankedSink{sink: s, rank: rank, seq: b.nextSeq})
	b.nextSeq++
	sort.SliceStable(b.sinks, func(i, j int) bool {
		if b.sinks[i].rank != b.sinks[j].rank {
			return b.sinks[i].rank < b.sinks[j].rank
		}
		return b.sinks[i].seq < b.sinks[j].seq
	})
}

// UnregisterSink removes a sink and fails its in-flight requests with an
// internal error naming the reason.
func (b *Broker) UnregisterSink(sinkID, reason string) {
	b.mu.Lock()
	kept := b.sinks[:0]
	for _, rs := range b.sinks {
		if rs.sink.ID() != sinkID {
			kept = append(kept, rs)
		}
	}
	b.sinks = kept
	b.mu.Unlock()

	b.CancelSink(sinkID, reason)
}

// CancelSink fires every pending request registered against the sink with
// an internal error. Used when an SSE stream or WS peer goes away before
// completing its requests.
func (b *Broker) CancelSink(sinkID, reason string) {
	b.mu.Lock()
	var cancelled []*pending
	for id, p := range b.pending {
		if p.sinkID == sinkID {
			delete(b.pending, id)
			cancelled = append(cancelled, p)
		}
	}
	b.mu.Unlock()

	for _, p := range cancelled {
		p.done <- completion{err: &host.ProtocolError{
			Code:    host.CodeInternalError,
			Message: "sampling sink terminated before completion: " + reason,
		}}
	}
}

// Resolve delivers a successful result for a pending request. Unknown
// request ids are logged and discarded.
func (b *Broker) Resolve(requestID string, result json.RawMessage) bool {
	p := b.take(requestID)
	if p == nil {
		logger.Warnf("Discarding sampling response for unknown request %s", requestID)
		return false
	}
	p.done <- completion{result: result}
	return true
}

// Reject delivers an error for a pending request. Unknown request ids are
// logged and discarded.
func (b *Broker) Reject(requestID string, code int, message string, data any) bool {
	p := b.take(requestID)
	if p == nil {
		logger.Warnf("Discarding sampling error for unknown request %s", requestID)
		return false
	}
	p.done <- completion{err: &host.ProtocolError{Code: code, Message: message, Data: data}}
	return true
}

// take removes and returns the pending entry, or nil when absent. Removal
// under the lock is what makes completion exactly-once: whichever of
// {response, error, timeout, sink-cancel} claims the entry first wins, the
// rest see nil.
func (b *Broker) take(requestID string) *pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[requestID]
	if !ok {
		return nil
	}
	delete(b.pending, requestID)
	return p
}

// selectSink returns the preferred sink, or nil when none is registered.
func (b *Broker) selectSink() Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sinks) == 0 {
		return nil
	}
	return b.sinks[0].sink
}

// CreateMessage brokers one server-initiated createMessage request. It
// blocks until the external handler completes, the deadline fires, the
// sink disappears or ctx is cancelled.
func (b *Broker) CreateMessage(ctx context.Context, serverID string, params json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		return b.createMessageInProcess(ctx, handler, serverID, params)
	}

	sink := b.selectSink()
	if sink == nil {
		return nil, &host.ProtocolError{
			Code:    host.CodeInternalError,
			Message: "no active client to handle sampling request",
		}
	}

	requestID := uuid.New().String()
	p := &pending{
		serverID: serverID,
		sinkID:   sink.ID(),
		done:     make(chan completion, 1),
	}
	b.mu.Lock()
	b.pending[requestID] = p
	b.mu.Unlock()

	b.events.EmitSamplingRequest(host.SamplingRequestEvent{RequestID: requestID, ServerID: serverID})

	if err := sink.DeliverSamplingRequest(requestID, serverID, params); err != nil {
		if taken := b.take(requestID); taken != nil {
			return nil, &host.ProtocolError{
				Code:    host.CodeInternalError,
				Message: "failed to deliver sampling request: " + err.Error(),
			}
		}
		// A concurrent path already claimed the entry; honor its outcome.
		c := <-p.done
		return c.result, c.err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case c := <-p.done:
		return c.result, c.err
	case <-timer.C:
		if taken := b.take(requestID); taken != nil {
			logger.Warnf("Sampling request %s for server %s timed out after %s", requestID, serverID, b.timeout)
			return nil, &host.ProtocolError{
				Code:    host.CodeRequestTimeout,
				Message: "sampling request timed out",
			}
		}
		c := <-p.done
		return c.result, c.err
	case <-ctx.Done():
		if taken := b.take(requestID); taken != nil {
			return nil, &host.ProtocolError{
				Code:    host.CodeInternalError,
				Message: "sampling request cancelled: " + ctx.Err().Error(),
			}
		}
		c := <-p.done
		return c.result, c.err
	}
}

// createMessageInProcess runs the installed handler directly, mapping any
// non-protocol failure into an internal error.
func (b *Broker) createMessageInProcess(
	ctx context.Context, handler Handler, serverID string, params json.RawMessage,
) (json.RawMessage, error) {
	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := handler(hctx, serverID, params)
	if err != nil {
		var perr *host.ProtocolError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &host.ProtocolError{
			Code:    host.CodeInternalError,
			Message: "sampling handler failed: " + err.Error(),
		}
	}
	return result, nil
}

// PendingCount reports the number of in-flight requests. Used by the status
// surface and by tests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
