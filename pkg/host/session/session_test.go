// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures written events; it can be told to fail.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (r *recordingSink) Write(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrSinkClosed
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingSink) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestEnqueueIDsMonotonic(t *testing.T) {
	t.Parallel()

	s := New("s1")
	for i := 0; i < 10; i++ {
		ev := s.Enqueue("log", "x")
		assert.Equal(t, uint64(i+1), ev.ID)
	}
}

func TestBufferCapped(t *testing.T) {
	t.Parallel()

	s := New("s1")
	for i := 0; i < EventBufferSize+50; i++ {
		s.Enqueue("log", fmt.Sprintf("%d", i))
	}

	all := s.EventsAfter(0)
	require.Len(t, all, EventBufferSize)
	// The tail ends with the most recent events.
	assert.Equal(t, uint64(EventBufferSize+50), all[len(all)-1].ID)
	assert.Equal(t, uint64(51), all[0].ID)
}

func TestEventsAfterReplay(t *testing.T) {
	t.Parallel()

	s := New("s1")
	for i := 0; i < 5; i++ {
		s.Enqueue("log", "x")
	}

	replay := s.EventsAfter(3)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].ID)
	assert.Equal(t, uint64(5), replay[1].ID)
	assert.Empty(t, s.EventsAfter(5))
}

func TestSinkReceivesEnqueued(t *testing.T) {
	t.Parallel()

	s := New("s1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	s.Enqueue("capabilitiesUpdated", "{}")
	require.Len(t, sink.events, 1)
	assert.Equal(t, "capabilitiesUpdated", sink.events[0].Name)
}

func TestFailedWriteDetachesWithoutIDRollback(t *testing.T) {
	t.Parallel()

	s := New("s1")
	sink := &recordingSink{fail: true}
	s.AttachSink(sink)

	ev := s.Enqueue("log", "x")
	assert.Equal(t, uint64(1), ev.ID)
	assert.False(t, s.HasSink(), "dead sink should be dropped")

	// The id keeps advancing; the gap is recoverable via replay.
	ev = s.Enqueue("log", "y")
	assert.Equal(t, uint64(2), ev.ID)
	assert.Len(t, s.EventsAfter(0), 2)
}

func TestAttachReplacesAndClosesPredecessor(t *testing.T) {
	t.Parallel()

	s := New("s1")
	first := &recordingSink{}
	second := &recordingSink{}

	s.AttachSink(first)
	s.AttachSink(second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	s.Enqueue("log", "x")
	assert.Empty(t, first.events)
	assert.Len(t, second.events, 1)
}

func TestWants(t *testing.T) {
	t.Parallel()

	s := New("s1")

	// Untagged broadcasts are unconditional.
	assert.True(t, s.Wants(nil))
	assert.False(t, s.Wants([]string{"server:a"}))

	s.Subscribe("server:a")
	assert.True(t, s.Wants([]string{"server:a"}))
	assert.False(t, s.Wants([]string{"server:b"}))

	s.Subscribe("resources")
	assert.True(t, s.Wants([]string{"resource:file:///x"}))

	s.Unsubscribe("resources")
	assert.False(t, s.Wants([]string{"resource:file:///x"}))

	s.Subscribe("resource:file:///x")
	assert.True(t, s.Wants([]string{"resource:file:///x"}))
}
