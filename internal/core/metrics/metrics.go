package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger operations by type and outcome (completed|failed|rejected|replayed).
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total ledger operations",
		},
		[]string{"type", "status"},
	)

	LockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_lock_wait_seconds",
			Help:    "Time spent waiting for wallet locks",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"strategy"},
	)
	LockTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_lock_timeouts_total",
			Help: "Wallet lock acquisitions that timed out",
		},
		[]string{"strategy"},
	)

	// Event queue
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Events handed to the publisher",
		},
		[]string{"type", "result"}, // ok|error|dropped
	)
	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_event_queue_depth",
			Help: "Current event queue depth",
		},
	)
)

// Handler serves /metrics.
var Handler = promhttp.Handler

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(OperationsTotal)
		prometheus.MustRegister(LockWaitSeconds)
		prometheus.MustRegister(LockTimeoutsTotal)
		prometheus.MustRegister(EventsPublished)
		prometheus.MustRegister(EventQueueDepth)
	})
}
