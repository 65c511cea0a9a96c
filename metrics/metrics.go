// Package metrics exposes the engine's operational counters via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks open websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "phalanx_connections_active",
		Help: "Open websocket connections.",
	})

	// QueueSize tracks players waiting in the matchmaking queue.
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "phalanx_queue_size",
		Help: "Players waiting in the matchmaking queue.",
	})

	// MatchesActive tracks registered matches.
	MatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "phalanx_matches_active",
		Help: "Matches currently registered.",
	})

	// MatchesFormed counts matches created by the matchmaker.
	MatchesFormed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_matches_formed_total",
		Help: "Matches formed by the matchmaking queue.",
	})

	// TicksTotal counts broadcast ticks across all matches.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_ticks_total",
		Help: "Ticks broadcast across all matches.",
	})

	// BroadcastsTotal counts individual event writes fanned out to clients.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_broadcasts_total",
		Help: "Events written to clients by match broadcasters.",
	})

	// CommandsAccepted counts accepted command submissions.
	CommandsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_commands_accepted_total",
		Help: "Accepted command submissions.",
	})

	// CommandsRejected counts rejected submissions by reason.
	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phalanx_commands_rejected_total",
		Help: "Rejected command submissions by reason.",
	}, []string{"reason"})

	// DesyncsDetected counts desync reports across all matches.
	DesyncsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_desyncs_detected_total",
		Help: "Tick hash mismatches detected.",
	})

	// Reconnects counts successful mid-match reconnects.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phalanx_reconnects_total",
		Help: "Successful mid-match reconnects.",
	})
)
