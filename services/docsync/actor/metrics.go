// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actorsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsync_actors_active",
		Help: "Number of resident document actors",
	})

	sessionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsync_sessions_active",
		Help: "Number of live realtime sessions across all actors",
	})

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_connections_total",
		Help: "Connection attempts by outcome",
	}, []string{"status"})

	actorLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_actor_loads_total",
		Help: "Cold snapshot loads by status",
	}, []string{"status"})

	persistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsync_persist_duration_seconds",
		Help:    "Snapshot persistence write duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"status"})

	rpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_rpc_total",
		Help: "Sync RPC calls by operation and status",
	}, []string{"op", "status"})

	deltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_client_deltas_total",
		Help: "Client-originated deltas by outcome",
	}, []string{"status"})

	broadcastDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_broadcast_drops_total",
		Help: "Sessions dropped because their transport was not sendable",
	})
)
