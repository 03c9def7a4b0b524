// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/mcphost/pkg/logger"
)

const (
	// DefaultTTL is the default session idle time-to-live.
	DefaultTTL = time.Hour

	// sweepInterval is how often the manager evicts idle sessions.
	sweepInterval = time.Minute
)

// Manager holds the bridge sessions and evicts idle ones. Session ids are
// UUIDs, so a destroyed id is never reused.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl       time.Duration
	onDestroy func(id, reason string)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithDestroyHook installs a callback invoked for every destroyed session,
// eviction included. The bridge uses it to fail the session's pending
// sampling requests.
func WithDestroyHook(fn func(id, reason string)) Option {
	return func(m *Manager) {
		m.onDestroy = fn
	}
}

// NewManager creates a session manager with the given idle TTL and starts
// its sweep worker. A non-positive ttl falls back to DefaultTTL.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepRoutine()
	return m
}

func (m *Manager) sweepRoutine() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

// Create stores a fresh session and returns it.
func (m *Manager) Create() *Session {
	s := New(uuid.New().String())
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by id and refreshes its last activity time.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.Touch()
	return s, true
}

// Destroy closes the session's sink, fails its pending sampling requests
// through the destroy hook and removes it. Reports whether a session was
// removed.
func (m *Manager) Destroy(id string) bool {
	return m.destroy(id, "session closed")
}

func (m *Manager) destroy(id, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.Close()
	if m.onDestroy != nil {
		m.onDestroy(id, reason)
	}
	return true
}

// DestroyAll destroys every session. Used during shutdown.
func (m *Manager) DestroyAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.destroy(id, "host shutting down")
	}
}

// sweepExpired destroys sessions idle past the TTL.
func (m *Manager) sweepExpired() {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		logger.Infof("Evicting idle session %s", id)
		m.destroy(id, "session expired")
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for every live session until it returns false.
func (m *Manager) Range(fn func(*Session) bool) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !fn(s) {
			return
		}
	}
}

// Stop stops the sweep worker. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
