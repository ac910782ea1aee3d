package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream/tree metrics
	StreamsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_streams_total",
			Help: "Total number of streams known to this node (owned + replicated)",
		},
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actyx_events_appended_total",
			Help: "Total number of events appended to locally-owned streams",
		},
	)

	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actyx_events_ingested_total",
			Help: "Total number of events ingested from remote peers during exchange, by stream owner",
		},
		[]string{"owner"},
	)

	AppendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actyx_append_latency_seconds",
			Help:    "Time to append one event to a local stream, including leaf buffering",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Block store metrics
	BlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_blocks_total",
			Help: "Total number of blocks held in the local block store",
		},
	)

	BlocksGarbageCollectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actyx_blocks_gc_total",
			Help: "Total number of blocks removed by garbage collection",
		},
	)

	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actyx_gc_duration_seconds",
			Help:    "Time taken for one mark-and-sweep garbage collection pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Swarm metrics
	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_peers_total",
			Help: "Total number of peers currently known to the swarm",
		},
	)

	PeersConnectedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_peers_connected_total",
			Help: "Total number of peers with a live connection",
		},
	)

	GossipRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actyx_gossip_rounds_total",
			Help: "Total number of heartbeat gossip rounds sent",
		},
	)

	WantsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "actyx_wants_sent_total",
			Help: "Total number of block want-list entries sent to peers",
		},
	)

	LamportClock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_lamport_clock",
			Help: "This node's current Lamport clock value",
		},
	)

	// Query/subscription metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actyx_queries_total",
			Help: "Total number of AQL queries run, by outcome",
		},
		[]string{"outcome"},
	)

	QueryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "actyx_query_latency_seconds",
			Help:    "Time to fully evaluate a bounded AQL query",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actyx_subscriptions_active",
			Help: "Number of currently open live subscriptions",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actyx_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actyx_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		StreamsTotal,
		EventsAppendedTotal,
		EventsIngestedTotal,
		AppendLatency,
		BlocksTotal,
		BlocksGarbageCollectedTotal,
		GCDuration,
		PeersTotal,
		PeersConnectedTotal,
		GossipRoundsTotal,
		WantsSentTotal,
		LamportClock,
		QueriesTotal,
		QueryLatency,
		SubscriptionsActive,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing the elapsed
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
