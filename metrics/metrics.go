package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

var Hostname, _ = os.Hostname()

var PushMessagesReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sattrack_push_messages_total",
		Help: "Push-channel messages received per entity subject",
	},
	[]string{"host"},
)

var DecodeFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sattrack_decode_failures_total",
		Help: "Malformed push payloads dropped by the registry",
	},
	[]string{"host"},
)

var BusReconnects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sattrack_bus_reconnects_total",
		Help: "Transitions of the bus connection back into Connecting",
	},
	[]string{"host"},
)

var CacheUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sattrack_cache_updates_total",
		Help: "Cache writes by outcome (accepted or stale-rejected)",
	},
	[]string{"host", "outcome"},
)

var PollLatencyHist = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sattrack_poll_latency_ms",
		Help:    "REST poll round-trip latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	},
	[]string{"host"},
)

var FeedConnections = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sattrack_feed_connections",
		Help: "Open dashboard feed websocket connections",
	},
	[]string{"host"},
)

func init() {
	prometheus.MustRegister(
		PushMessagesReceived,
		DecodeFailures,
		BusReconnects,
		CacheUpdates,
		PollLatencyHist,
		FeedConnections,
	)
}
