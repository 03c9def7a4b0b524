// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sampling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcphost/pkg/host"
)

// captureSink records delivered requests and optionally fails delivery.
type captureSink struct {
	id      string
	failErr error

	mu        sync.Mutex
	delivered []string
}

func (s *captureSink) ID() string { return s.id }

func (s *captureSink) DeliverSamplingRequest(requestID, _ string, _ json.RawMessage) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, requestID)
	return nil
}

func (s *captureSink) lastRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delivered) == 0 {
		return ""
	}
	return s.delivered[len(s.delivered)-1]
}

func waitForDelivery(t *testing.T, s *captureSink) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id := s.lastRequest(); id != "" {
			return id
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sampling request was never delivered")
	return ""
}

func TestCreateMessageNoSink(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())

	_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	var perr *host.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, host.CodeInternalError, perr.Code)
	assert.Contains(t, perr.Message, "no active client")
}

func TestCreateMessageResolved(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	sink := &captureSink{id: "ws-1"}
	b.RegisterSink(sink, RankWebSocket)

	type outcome struct {
		result json.RawMessage
		err    error
	}
	outCh := make(chan outcome, 1)
	go func() {
		res, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{"messages":[]}`))
		outCh <- outcome{res, err}
	}()

	reqID := waitForDelivery(t, sink)
	require.True(t, b.Resolve(reqID, json.RawMessage(`{"model":"m"}`)))

	got := <-outCh
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"model":"m"}`, string(got.result))
	assert.Zero(t, b.PendingCount())
}

func TestCreateMessageRejected(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	sink := &captureSink{id: "ws-1"}
	b.RegisterSink(sink, RankWebSocket)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
		errCh <- err
	}()

	reqID := waitForDelivery(t, sink)
	require.True(t, b.Reject(reqID, host.CodeInvalidParams, "bad params", nil))

	var perr *host.ProtocolError
	require.ErrorAs(t, <-errCh, &perr)
	assert.Equal(t, host.CodeInvalidParams, perr.Code)
	assert.Equal(t, "bad params", perr.Message)
}

func TestCreateMessageTimeout(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents(), WithTimeout(30*time.Millisecond))
	sink := &captureSink{id: "ws-1"}
	b.RegisterSink(sink, RankWebSocket)

	_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	var perr *host.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, host.CodeRequestTimeout, perr.Code)
	assert.Zero(t, b.PendingCount())
}

func TestCompletionExactlyOnce(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	sink := &captureSink{id: "ws-1"}
	b.RegisterSink(sink, RankWebSocket)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	}()

	reqID := waitForDelivery(t, sink)

	// Exactly one completion path claims the pending entry; all later
	// attempts see an unknown id.
	first := b.Resolve(reqID, json.RawMessage(`{}`))
	second := b.Resolve(reqID, json.RawMessage(`{}`))
	third := b.Reject(reqID, host.CodeInternalError, "late", nil)

	assert.True(t, first)
	assert.False(t, second)
	assert.False(t, third)
	<-done
}

func TestCancelSinkFailsPending(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	sink := &captureSink{id: "sse-1"}
	b.RegisterSink(sink, RankSSE)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
		errCh <- err
	}()

	waitForDelivery(t, sink)
	b.UnregisterSink("sse-1", "session closed")

	var perr *host.ProtocolError
	require.ErrorAs(t, <-errCh, &perr)
	assert.Equal(t, host.CodeInternalError, perr.Code)
	assert.Contains(t, perr.Message, "session closed")

	// The sink is gone, so new requests fail fast.
	_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "no active client")
}

func TestSinkRanking(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	sse := &captureSink{id: "sse-1"}
	ws := &captureSink{id: "ws-1"}
	b.RegisterSink(sse, RankSSE)
	b.RegisterSink(ws, RankWebSocket)

	go func() {
		_, _ = b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	}()

	// The later-registered WebSocket sink outranks the SSE sink.
	reqID := waitForDelivery(t, ws)
	assert.Empty(t, sse.lastRequest())
	b.Resolve(reqID, json.RawMessage(`{}`))
}

func TestDeliveryFailure(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	b.RegisterSink(&captureSink{id: "ws-1", failErr: errors.New("peer gone")}, RankWebSocket)

	_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	var perr *host.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, host.CodeInternalError, perr.Code)
	assert.Contains(t, perr.Message, "failed to deliver")
	assert.Zero(t, b.PendingCount())
}

func TestInProcessHandler(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	b.RegisterSink(&captureSink{id: "ws-1"}, RankWebSocket)
	b.SetHandler(func(_ context.Context, serverID string, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"model":"direct-%s"}`, serverID)), nil
	})

	// The handler takes precedence over the registered sink.
	res, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"direct-srv"}`, string(res))
}

func TestInProcessHandlerErrorWrapped(t *testing.T) {
	t.Parallel()

	b := NewBroker(host.NewEvents())
	b.SetHandler(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("llm unavailable")
	})

	_, err := b.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	var perr *host.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, host.CodeInternalError, perr.Code)
	assert.Contains(t, perr.Message, "llm unavailable")
}
