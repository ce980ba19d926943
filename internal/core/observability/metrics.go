package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	providerLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Latency of imagery provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"provider", "op"},
	)

	harvestWaypointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_waypoints_total",
			Help: "Waypoint outcomes by success or failure kind.",
		},
		[]string{"outcome"},
	)

	decodeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decode_attempts_total",
			Help: "Decode strategy attempts by result.",
		},
		[]string{"strategy", "result"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Artifact store saves by driver and result.",
		},
		[]string{"driver", "result"},
	)

	geocodeCacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_cache_events_total",
			Help: "Geocoder LRU cache hits and misses.",
		},
		[]string{"event"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveProvider(provider, op string, durationSeconds float64) {
	providerLatencySeconds.WithLabelValues(provider, op).Observe(durationSeconds)
}

// IncWaypoint records one finished waypoint; outcome is "success" or a
// failure kind.
func IncWaypoint(outcome string) {
	harvestWaypointsTotal.WithLabelValues(outcome).Inc()
}

func IncDecode(strategy, result string) {
	decodeAttemptsTotal.WithLabelValues(strategy, result).Inc()
}

func IncStoreOp(driver, result string) {
	storeOperationsTotal.WithLabelValues(driver, result).Inc()
}

func IncGeocodeCacheHit()  { geocodeCacheEventsTotal.WithLabelValues("hit").Inc() }
func IncGeocodeCacheMiss() { geocodeCacheEventsTotal.WithLabelValues("miss").Inc() }

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
