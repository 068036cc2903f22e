package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_cache_hits_total",
		Help: "Total number of request cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_cache_misses_total",
		Help: "Total number of request cache misses",
	})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_cache_evictions_total",
		Help: "Total number of request cache evictions by reason",
	}, []string{"reason"})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_cache_entries",
		Help: "Number of entries held by the request cache",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_cache_bytes",
		Help: "Approximate size of the request cache in bytes",
	})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilestream_store_operation_duration_seconds",
		Help:    "Duration of persistent tile store operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"store", "operation"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_store_errors_total",
		Help: "Total number of persistent tile store errors",
	}, []string{"store", "operation"})

	CommandsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_commands_submitted_total",
		Help: "Total number of commands accepted by the scheduler",
	}, []string{"protocol"})

	CommandsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_commands_finished_total",
		Help: "Total number of commands that left the scheduler, by outcome",
	}, []string{"protocol", "outcome"})

	CommandsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_commands_pending",
		Help: "Number of queued commands",
	})

	CommandsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilestream_commands_running",
		Help: "Number of commands in flight to a provider",
	})

	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilestream_command_latency_seconds",
		Help:    "Provider execution time of commands in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilestream_upstream_requests_total",
		Help: "Total number of upstream tile requests issued by providers",
	}, []string{"protocol"})

	FramePasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_frame_passes_total",
		Help: "Total number of update passes run by the main loop",
	})

	FrameRenders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_frame_renders_total",
		Help: "Total number of render passes triggered",
	})

	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilestream_frame_duration_seconds",
		Help:    "Duration of an update pass in seconds",
		Buckets: []float64{.0005, .001, .002, .004, .008, .016, .033, .066, .1},
	})

	TilesLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_tiles_live",
		Help: "Number of materialized quadtree nodes per geometry layer",
	}, []string{"layer"})

	TilesDisplayed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilestream_tiles_displayed",
		Help: "Number of displayed quadtree nodes per geometry layer",
	}, []string{"layer"})
)
