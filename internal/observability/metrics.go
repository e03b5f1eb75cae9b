package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liftctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	busMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Bus messages by direction (in/out) and kind.",
		},
		[]string{"node", "direction", "kind"},
	)
	busErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "bus",
			Name:      "errors_total",
			Help:      "Bus send failures and dropped inbound messages.",
		},
		[]string{"node", "reason"},
	)
	bids = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "arbiter",
			Name:      "bids_total",
			Help:      "Bid costs computed for call requests.",
		},
		[]string{"node", "origin"},
	)
	bidDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liftctl",
			Subsystem: "arbiter",
			Name:      "bid_delay_seconds",
			Help:      "Computed bid delay in seconds.",
			Buckets:   []float64{0, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"node"},
	)
	claimsSeen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "arbiter",
			Name:      "claims_seen_total",
			Help:      "TAKE messages from other nodes that extended a registry entry.",
		},
		[]string{"node"},
	)
	takeovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "dispatch",
			Name:      "takeovers_total",
			Help:      "Hall calls dispatched locally after another node's claim lapsed.",
		},
		[]string{"node"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "dispatch",
			Name:      "dispatched_total",
			Help:      "Jobs dispatched to the local car.",
		},
		[]string{"node", "kind"},
	)
	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liftctl",
			Subsystem: "elevator",
			Name:      "completions_total",
			Help:      "Targets served by the local car.",
		},
		[]string{"node"},
	)
	pendingJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "liftctl",
			Subsystem: "jobs",
			Name:      "pending",
			Help:      "Entries currently held in the job registry.",
		},
		[]string{"node"},
	)
)

// RegisterMetrics registers every collector with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			busMessages,
			busErrors,
			bids,
			bidDelay,
			claimsSeen,
			takeovers,
			dispatches,
			completions,
			pendingJobs,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordBusMessage(node, direction, kind string) {
	RegisterMetrics()
	busMessages.WithLabelValues(node, direction, kind).Inc()
}

func RecordBusError(node, reason string) {
	RegisterMetrics()
	busErrors.WithLabelValues(node, reason).Inc()
}

func RecordBid(node string, remote bool, delay time.Duration) {
	RegisterMetrics()
	origin := "local"
	if remote {
		origin = "remote"
	}
	bids.WithLabelValues(node, origin).Inc()
	bidDelay.WithLabelValues(node).Observe(delay.Seconds())
}

// RecordClaimSeen counts a TAKE from another node.
func RecordClaimSeen(node string) {
	RegisterMetrics()
	claimsSeen.WithLabelValues(node).Inc()
}

// RecordTakeover counts a rescue: a claimed call this node dispatched itself.
func RecordTakeover(node string) {
	RegisterMetrics()
	takeovers.WithLabelValues(node).Inc()
}

func RecordDispatch(node string, cabin bool) {
	RegisterMetrics()
	kind := "hall"
	if cabin {
		kind = "cabin"
	}
	dispatches.WithLabelValues(node, kind).Inc()
}

func RecordCompletion(node string) {
	RegisterMetrics()
	completions.WithLabelValues(node).Inc()
}

func SetPendingJobs(node string, n int) {
	RegisterMetrics()
	pendingJobs.WithLabelValues(node).Set(float64(n))
}
