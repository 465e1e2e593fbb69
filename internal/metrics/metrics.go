package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timetracker"

var (
	TimerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_transitions_total",
			Help:      "Timer state transitions by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	TransitionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_transition_retries_total",
			Help:      "Transitions re-run after losing a write race.",
		},
		[]string{"op"},
	)

	AutosaveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_autosave_writes_total",
			Help:      "Debounced draft comment writes by result.",
		},
		[]string{"result"},
	)

	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected push stream clients by transport.",
		},
		[]string{"transport"},
	)

	RelayedChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_changes_total",
			Help:      "Session changes forwarded to push subscribers.",
		},
		[]string{"event_type"},
	)

	DraftsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_drafts_swept_total",
			Help:      "Unreferenced draft entries removed by the sweeper.",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
