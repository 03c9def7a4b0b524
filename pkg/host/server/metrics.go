// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/host/session"
)

// metricsSet carries the bridge's Prometheus instruments on a private
// registry so multiple bridges can coexist in one process.
type metricsSet struct {
	registry *prometheus.Registry

	serverConnects   prometheus.Counter
	toolCalls        prometheus.Counter
	samplingRequests prometheus.Counter
}

func newMetricsSet(sessions *session.Manager, broker *sampling.Broker) *metricsSet {
	m := &metricsSet{
		registry: prometheus.NewRegistry(),
		serverConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcphost_server_connects_total",
			Help: "Number of successful server connections.",
		}),
		toolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcphost_tool_calls_total",
			Help: "Number of tool calls routed through the bridge.",
		}),
		samplingRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcphost_sampling_requests_total",
			Help: "Number of brokered sampling requests.",
		}),
	}
	m.registry.MustRegister(
		m.serverConnects,
		m.toolCalls,
		m.samplingRequests,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mcphost_active_sessions",
			Help: "Number of live bridge sessions.",
		}, func() float64 {
			return float64(sessions.Count())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mcphost_pending_sampling_requests",
			Help: "Number of in-flight sampling requests.",
		}, func() float64 {
			return float64(broker.PendingCount())
		}),
	)
	return m
}
