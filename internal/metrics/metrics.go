// Package metrics exposes the prometheus counters served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WriteResults counts optimistic write outcomes by result.
	WriteResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_remote_writes_total",
		Help: "Optimistic remote write outcomes.",
	}, []string{"op", "result"})

	// RealtimeEvents counts merges triggered by pushed notifications.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_realtime_events_total",
		Help: "Realtime change notifications processed, by table.",
	}, []string{"table"})

	// Migrations counts guest-to-cloud migrations by outcome.
	Migrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_migrations_total",
		Help: "Guest migration attempts by outcome.",
	}, []string{"result"})
)
