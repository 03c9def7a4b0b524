// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package core

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
	"go.uber.org/mock/gomock"

	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/client"
	"github.com/stacklok/mcphost/pkg/host/mocks"
	"github.com/stacklok/mcphost/pkg/host/sampling"
)

func testInfo() host.HostInfo {
	return host.HostInfo{Name: "mcphost-test", Version: "0.0.1"}
}

// newMockBackend builds a connected-looking mock with the given snapshot
// and list results.
func newMockBackend(
	ctrl *gomock.Controller,
	caps *host.ServerCapabilities,
	tools []host.Tool,
	resources []host.Resource,
	prompts []host.Prompt,
) *mocks.MockBackendClient {
	m := mocks.NewMockBackendClient(ctrl)
	m.EXPECT().Capabilities().Return(caps).AnyTimes()
	m.EXPECT().ListTools(gomock.Any()).Return(tools, nil).AnyTimes()
	m.EXPECT().ListResources(gomock.Any()).Return(resources, nil).AnyTimes()
	m.EXPECT().ListResourceTemplates(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().ListPrompts(gomock.Any()).Return(prompts, nil).AnyTimes()
	m.EXPECT().Close().Return(nil).AnyTimes()
	return m
}

func fullCaps() *host.ServerCapabilities {
	return &host.ServerCapabilities{
		Tools:     &host.ToolsCapability{ListChanged: true},
		Resources: &host.ResourcesCapability{Subscribe: true, ListChanged: true, Templates: true},
		Prompts:   &host.PromptsCapability{ListChanged: true},
	}
}

// staticConnect returns a ConnectFunc serving the given clients by server id.
func staticConnect(clients map[string]host.BackendClient) ConnectFunc {
	return func(_ context.Context, cfg client.Config) (host.BackendClient, error) {
		c, ok := clients[cfg.Server.ID]
		if !ok {
			return nil, host.NewError(host.KindConnectionFailed, "no such backend", cfg.Server.ID, nil)
		}
		return c, nil
	}
}

func TestAddServerDuplicateFirstWins(t *testing.T) {
	t.Parallel()

	h := New(testInfo(), host.HostCapabilities{})
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a", Name: "first"}))
	require.Error(t, h.AddServer(host.ServerConfig{ID: "a", Name: "second"}))

	servers := h.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "first", servers[0].Name)
}

func TestStartAggregatesCapabilities(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	backendA := newMockBackend(ctrl, fullCaps(),
		[]host.Tool{{ServerID: "a", Name: "read_file"}},
		[]host.Resource{{ServerID: "a", URI: "file:///a.txt"}},
		[]host.Prompt{{ServerID: "a", Name: "summarize"}},
	)
	backendB := newMockBackend(ctrl, fullCaps(),
		[]host.Tool{{ServerID: "b", Name: "query"}},
		nil, nil,
	)

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": backendA,
		"b": backendB,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "b"}))

	require.NoError(t, h.Start(context.Background()))

	tools := h.Tools()
	assert.Len(t, tools, 2)
	assert.Len(t, h.Resources(), 1)
	assert.Len(t, h.Prompts(), 1)

	for _, s := range h.Servers() {
		assert.Equal(t, host.StatusConnected, s.Status)
	}

	// The returned slice is a copy; mutating it must not leak back.
	tools[0].Name = "mutated"
	assert.NotEqual(t, "mutated", h.Tools()[0].Name)
}

func TestStartPerServerFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	good := newMockBackend(ctrl, fullCaps(), []host.Tool{{ServerID: "good", Name: "t"}}, nil, nil)

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"good": good,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "good"}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "bad"}))

	var mu sync.Mutex
	var errored []string
	h.OnServerError(func(ev host.ServerErrorEvent) {
		mu.Lock()
		errored = append(errored, ev.ServerID)
		mu.Unlock()
	})

	require.NoError(t, h.Start(context.Background()))

	statuses := make(map[string]host.ServerStatus)
	for _, s := range h.Servers() {
		statuses[s.ID] = s.Status
	}
	assert.Equal(t, host.StatusConnected, statuses["good"])
	assert.Equal(t, host.StatusError, statuses["bad"])

	mu.Lock()
	assert.Contains(t, errored, "bad")
	mu.Unlock()
}

func TestStartIdempotent(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	connects := 0
	backend := newMockBackend(ctrl, fullCaps(), nil, nil, nil)
	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(
		func(_ context.Context, _ client.Config) (host.BackendClient, error) {
			connects++
			return backend, nil
		}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, 1, connects)
}

func TestStopClearsAggregates(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	backend := newMockBackend(ctrl, fullCaps(), []host.Tool{{ServerID: "a", Name: "t"}}, nil, nil)
	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": backend,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))
	require.NotEmpty(t, h.Tools())

	h.Stop()
	h.Stop()

	assert.Empty(t, h.Tools())
	assert.Equal(t, host.StatusDisconnected, h.Servers()[0].Status)
}

func TestCallToolUnknownServer(t *testing.T) {
	t.Parallel()

	h := New(testInfo(), host.HostCapabilities{})
	_, err := h.CallTool(context.Background(), "nope", "t", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrServerNotFound))
}

func TestCallToolDelegates(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	backend := newMockBackend(ctrl, fullCaps(), nil, nil, nil)
	backend.EXPECT().
		CallTool(gomock.Any(), "echo", map[string]any{"msg": "hi"}, gomock.Nil()).
		Return(&host.ToolCallResult{Content: []host.Content{{Type: "text", Text: "hi"}}}, nil)

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": backend,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))

	res, err := h.CallTool(context.Background(), "a", "echo", map[string]any{"msg": "hi"}, nil)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].Text)
}

func TestSubscribeResourceWrapsFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	backend := newMockBackend(ctrl, fullCaps(), nil, nil, nil)
	backend.EXPECT().
		SubscribeResource(gomock.Any(), "file:///x").
		Return(fmt.Errorf("boom"))

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": backend,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))

	err := h.SubscribeResource(context.Background(), "a", "file:///x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrSubscriptionFailed))
}

func TestSetRootsNotifiesDeclaringServersOnly(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	declaring := fullCaps()
	declaring.Roots = &host.RootsCapability{ListChanged: true}
	withRoots := newMockBackend(ctrl, declaring, nil, nil, nil)
	withRoots.EXPECT().SendRootsListChanged(gomock.Any()).Return(nil).Times(1)

	// No roots capability: must not be notified.
	withoutRoots := newMockBackend(ctrl, fullCaps(), nil, nil, nil)

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"yes": withRoots,
		"no":  withoutRoots,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "yes"}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "no"}))
	require.NoError(t, h.Start(context.Background()))

	roots := []host.Root{{URI: "file:///work", Name: "work"}}
	require.NoError(t, h.SetRoots(context.Background(), roots))
	assert.Equal(t, roots, h.GetRoots())
}

func TestSetRootsAggregatesFailures(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	declaring := fullCaps()
	declaring.Roots = &host.RootsCapability{ListChanged: true}
	failing := newMockBackend(ctrl, declaring, nil, nil, nil)
	failing.EXPECT().SendRootsListChanged(gomock.Any()).Return(fmt.Errorf("gone"))

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": failing,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))

	err := h.SetRoots(context.Background(), []host.Root{{URI: "file:///w", Name: "w"}})
	require.Error(t, err)

	var agg *host.AggregateError
	require.True(t, errors.As(err, &agg))
	require.Len(t, agg.Errors, 1)
	assert.Equal(t, "a", agg.Errors[0].ServerID)

	// The replacement still took effect.
	assert.Len(t, h.GetRoots(), 1)
}

func TestSetRootsValidation(t *testing.T) {
	t.Parallel()

	h := New(testInfo(), host.HostCapabilities{})

	err := h.SetRoots(context.Background(), []host.Root{{Name: "missing-uri"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uri")

	err = h.SetRoots(context.Background(), []host.Root{{URI: "file:///work"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")

	// A rejected replacement leaves the roots untouched.
	assert.Empty(t, h.GetRoots())
}

func TestUnexpectedDisconnectRemovesAggregates(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	backend := newMockBackend(ctrl, fullCaps(), []host.Tool{{ServerID: "a", Name: "t"}}, nil, nil)

	var handlers host.Handlers
	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(
		func(_ context.Context, cfg client.Config) (host.BackendClient, error) {
			handlers = cfg.Handlers
			return backend, nil
		}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))

	var mu sync.Mutex
	var sequence []string
	h.OnServerDisconnected(func(host.ServerDisconnectedEvent) {
		mu.Lock()
		sequence = append(sequence, "disconnected")
		mu.Unlock()
	})
	h.OnCapabilitiesUpdated(func(host.CapabilitiesUpdatedEvent) {
		mu.Lock()
		sequence = append(sequence, "capabilities")
		mu.Unlock()
	})

	require.NoError(t, h.Start(context.Background()))
	require.NotEmpty(t, h.Tools())

	mu.Lock()
	sequence = nil
	mu.Unlock()

	require.NotNil(t, handlers.OnClose)
	handlers.OnClose(fmt.Errorf("connection reset"))

	assert.Empty(t, h.Tools())

	mu.Lock()
	require.Len(t, sequence, 2)
	assert.Equal(t, []string{"disconnected", "capabilities"}, sequence)
	mu.Unlock()

	statuses := h.Servers()
	assert.Equal(t, host.StatusError, statuses[0].Status)
}

func TestListChangedNotificationTriggersRefresh(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	m := mocks.NewMockBackendClient(ctrl)
	m.EXPECT().Capabilities().Return(fullCaps()).AnyTimes()
	m.EXPECT().ListResources(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().ListResourceTemplates(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().ListPrompts(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().Close().Return(nil).AnyTimes()

	first := m.EXPECT().ListTools(gomock.Any()).Return([]host.Tool{{ServerID: "a", Name: "old"}}, nil)
	m.EXPECT().ListTools(gomock.Any()).Return([]host.Tool{{ServerID: "a", Name: "new"}}, nil).After(first).AnyTimes()

	var handlers host.Handlers
	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(
		func(_ context.Context, cfg client.Config) (host.BackendClient, error) {
			handlers = cfg.Handlers
			return m, nil
		}))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))

	require.Len(t, h.Tools(), 1)
	assert.Equal(t, "old", h.Tools()[0].Name)

	handlers.OnToolsListChanged()

	require.Eventually(t, func() bool {
		tools := h.Tools()
		return len(tools) == 1 && tools[0].Name == "new"
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentRefreshKeepsEntriesUnique(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	m := mocks.NewMockBackendClient(ctrl)
	m.EXPECT().Capabilities().Return(fullCaps()).AnyTimes()
	m.EXPECT().ListResources(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().ListResourceTemplates(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().ListPrompts(gomock.Any()).Return(nil, nil).AnyTimes()
	m.EXPECT().Close().Return(nil).AnyTimes()

	// Slow listing widens the window in which a second refresh could slip
	// between this one's removal and its re-append.
	m.EXPECT().ListTools(gomock.Any()).DoAndReturn(
		func(context.Context) ([]host.Tool, error) {
			time.Sleep(20 * time.Millisecond)
			return []host.Tool{{ServerID: "a", Name: "t"}}, nil
		}).AnyTimes()

	h := New(testInfo(), host.HostCapabilities{}, WithConnectFunc(staticConnect(map[string]host.BackendClient{
		"a": m,
	})))
	require.NoError(t, h.AddServer(host.ServerConfig{ID: "a"}))
	require.NoError(t, h.Start(context.Background()))
	require.Len(t, h.Tools(), 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.RefreshCapabilities(context.Background(), "a")
		}()
	}
	wg.Wait()

	tools := h.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "t", tools[0].Name)
}

func TestSetSamplingHandlerAdaptsSimplifiedResult(t *testing.T) {
	t.Parallel()

	broker := sampling.NewBroker(host.NewEvents())
	h := New(testInfo(), host.HostCapabilities{Sampling: true}, WithSamplingRelay(broker))

	require.NoError(t, h.SetSamplingHandler(
		func(_ context.Context, _ string, _ json.RawMessage) (*SimplifiedSamplingResult, error) {
			return &SimplifiedSamplingResult{Content: "hello", Model: "test-model"}, nil
		}))

	raw, err := broker.CreateMessage(context.Background(), "srv", json.RawMessage(`{}`))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "assistant", result["role"])
	assert.Equal(t, "test-model", result["model"])
	assert.Equal(t, "endTurn", result["stopReason"])
	content, ok := result["content"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", content["text"])
}
