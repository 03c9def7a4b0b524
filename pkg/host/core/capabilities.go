// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/logger"
)

// RefreshCapabilities re-queries one server's capability lists and rebuilds
// its slice of the aggregated state, then emits capabilitiesUpdated.
func (h *Host) RefreshCapabilities(ctx context.Context, serverID string) {
	h.refreshCapabilities(ctx, serverID, true)
}

// refreshCapabilities removes the server's aggregated entries, then
// concurrently re-lists every capability the server declared. Each list is
// gated on the corresponding capability bit, and a single failed list is
// logged without aborting the others. When emitUpdate is false the caller
// coalesces the update event itself.
func (h *Host) refreshCapabilities(ctx context.Context, serverID string, emitUpdate bool) {
	// One refresh at a time per server. The remove-relist-append sequence
	// releases h.mu across the listing round-trips, so overlapping
	// refreshes for the same server would each append their results.
	lock := h.refreshLock(serverID)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	c, ok := h.clients[serverID]
	caps := h.serverCaps[serverID]
	h.removeAggregatedLocked(serverID)
	h.mu.Unlock()

	if !ok || caps == nil {
		if emitUpdate {
			h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})
		}
		return
	}

	var (
		mu        sync.Mutex
		tools     []host.Tool
		resources []host.Resource
		templates []host.ResourceTemplate
		prompts   []host.Prompt
	)

	g, ctx := errgroup.WithContext(ctx)
	if caps.Tools != nil {
		g.Go(func() error {
			list, err := c.ListTools(ctx)
			if err != nil {
				logger.Warnf("Failed to list tools from server %s: %v", serverID, err)
				return nil
			}
			mu.Lock()
			tools = list
			mu.Unlock()
			return nil
		})
	}
	if caps.Resources != nil {
		g.Go(func() error {
			list, err := c.ListResources(ctx)
			if err != nil {
				logger.Warnf("Failed to list resources from server %s: %v", serverID, err)
				return nil
			}
			mu.Lock()
			resources = list
			mu.Unlock()
			return nil
		})
		if caps.Resources.Templates {
			g.Go(func() error {
				list, err := c.ListResourceTemplates(ctx)
				if err != nil {
					logger.Warnf("Failed to list resource templates from server %s: %v", serverID, err)
					return nil
				}
				mu.Lock()
				templates = list
				mu.Unlock()
				return nil
			})
		}
	}
	if caps.Prompts != nil {
		g.Go(func() error {
			list, err := c.ListPrompts(ctx)
			if err != nil {
				logger.Warnf("Failed to list prompts from server %s: %v", serverID, err)
				return nil
			}
			mu.Lock()
			prompts = list
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	h.mu.Lock()
	// The server may have disconnected while the lists were in flight; its
	// entries must not reappear after removal.
	if _, live := h.clients[serverID]; live {
		h.tools = append(h.tools, tools...)
		h.resources = append(h.resources, resources...)
		h.templates = append(h.templates, templates...)
		h.prompts = append(h.prompts, prompts...)
	}
	h.mu.Unlock()

	if emitUpdate {
		h.events.EmitCapabilitiesUpdated(host.CapabilitiesUpdatedEvent{})
	}
}

// refreshLock returns the mutex serializing refreshes for one server,
// creating it on first use.
func (h *Host) refreshLock(serverID string) *sync.Mutex {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	lock, ok := h.refreshes[serverID]
	if !ok {
		lock = &sync.Mutex{}
		h.refreshes[serverID] = lock
	}
	return lock
}

// removeAggregatedLocked drops every aggregated entry belonging to the
// server. Caller holds h.mu.
func (h *Host) removeAggregatedLocked(serverID string) {
	tools := h.tools[:0]
	for _, t := range h.tools {
		if t.ServerID != serverID {
			tools = append(tools, t)
		}
	}
	h.tools = tools

	resources := h.resources[:0]
	for _, r := range h.resources {
		if r.ServerID != serverID {
			resources = append(resources, r)
		}
	}
	h.resources = resources

	templates := h.templates[:0]
	for _, t := range h.templates {
		if t.ServerID != serverID {
			templates = append(templates, t)
		}
	}
	h.templates = templates

	prompts := h.prompts[:0]
	for _, p := range h.prompts {
		if p.ServerID != serverID {
			prompts = append(prompts, p)
		}
	}
	h.prompts = prompts
}
