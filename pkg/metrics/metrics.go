// Package metrics exposes Prometheus counters for call sessions, function
// dispatch, and transfers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts call sessions opened.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxbridge",
		Name:      "sessions_started_total",
		Help:      "Call sessions opened",
	})

	// SessionsClosed counts call sessions closed, by reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxbridge",
		Name:      "sessions_closed_total",
		Help:      "Call sessions closed",
	}, []string{"reason"})

	// WatchdogEscalations counts watchdog recovery actions, by level.
	WatchdogEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxbridge",
		Name:      "watchdog_escalations_total",
		Help:      "Watchdog recovery actions",
	}, []string{"level"})

	// FunctionCalls counts dispatched tool calls, by implementation and
	// outcome.
	FunctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxbridge",
		Name:      "function_calls_total",
		Help:      "Dispatched tool calls",
	}, []string{"implementation", "outcome"})

	// Transfers counts transfer attempts, by strategy and outcome.
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxbridge",
		Name:      "transfers_total",
		Help:      "Transfer attempts",
	}, []string{"strategy", "outcome"})
)
