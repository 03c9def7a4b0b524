// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	defer m.Stop()

	s := m.Create()
	require.NotEmpty(t, s.ID())

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.Get("unknown")
	assert.False(t, ok)
}

func TestCreateIDsUnique(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	defer m.Stop()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := m.Create().ID()
		require.False(t, seen[id], "session id reused")
		seen[id] = true
	}
}

func TestGetTouches(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	defer m.Stop()

	s := m.Create()
	before := s.UpdatedAt()
	time.Sleep(10 * time.Millisecond)

	_, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.True(t, s.UpdatedAt().After(before))
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	destroyed := make(map[string]string)

	m := NewManager(time.Hour, WithDestroyHook(func(id, reason string) {
		mu.Lock()
		defer mu.Unlock()
		destroyed[id] = reason
	}))
	defer m.Stop()

	s := m.Create()
	sink := &recordingSink{}
	s.AttachSink(sink)

	assert.True(t, m.Destroy(s.ID()))
	assert.False(t, m.Destroy(s.ID()), "second destroy finds nothing")
	assert.True(t, sink.isClosed())

	mu.Lock()
	assert.Equal(t, "session closed", destroyed[s.ID()])
	mu.Unlock()

	_, ok := m.Get(s.ID())
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	reasons := make(map[string]string)

	m := NewManager(20*time.Millisecond, WithDestroyHook(func(id, reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons[id] = reason
	}))
	defer m.Stop()

	stale := m.Create()
	time.Sleep(50 * time.Millisecond)
	fresh := m.Create()

	// Drive the sweep directly rather than waiting for the ticker.
	m.sweepExpired()

	_, ok := m.Get(stale.ID())
	assert.False(t, ok, "stale session should be evicted")
	_, ok = m.Get(fresh.ID())
	assert.True(t, ok, "fresh session should survive")

	mu.Lock()
	assert.Equal(t, "session expired", reasons[stale.ID()])
	mu.Unlock()
}

func TestDestroyAll(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	defer m.Stop()

	for i := 0; i < 5; i++ {
		m.Create()
	}
	require.Equal(t, 5, m.Count())

	m.DestroyAll()
	assert.Zero(t, m.Count())
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(time.Hour)
	m.Stop()
	m.Stop()
}
