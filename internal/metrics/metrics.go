package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Scanner metrics
var (
	ScannerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_scanner_runs_total",
			Help: "Total number of scan runs",
		},
		[]string{"type", "status"}, // type: full, incremental, watch
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scanner_last_run_timestamp",
			Help: "Unix timestamp of the last completed scan",
		},
	)

	ScannerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scanner_last_run_duration_seconds",
			Help: "Duration of the last scan in seconds",
		},
	)

	ScannerFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_scanner_files_total",
			Help: "Total number of files reconciled by outcome",
		},
		[]string{"outcome"}, // "added", "updated", "removed", "unchanged"
	)

	ScannerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_scanner_errors_total",
			Help: "Total number of per-file scan errors",
		},
	)

	ScannerIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scanner_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)
)

// Watcher metrics
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)

	WatcherSuppressedMoves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_watcher_suppressed_moves_total",
			Help: "Total number of watcher events ignored because an action initiated the move",
		},
	)

	WatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_watcher_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)
)

// Geocode metrics
var (
	GeocodeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_geocode_cache_hits_total",
			Help: "Total number of geocode cache hits",
		},
	)

	GeocodeCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_geocode_cache_misses_total",
			Help: "Total number of geocode cache misses",
		},
	)

	GeocodeExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_geocode_external_calls_total",
			Help: "Total number of external geocoding calls",
		},
		[]string{"status"},
	)

	GeocodeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_geocode_queue_depth",
			Help: "Number of callers waiting on the geocode rate limiter",
		},
	)

	GeocodeRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_geocode_rejected_total",
			Help: "Total number of geocode requests rejected because the wait queue was full",
		},
	)
)

// File action metrics
var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_actions_total",
			Help: "Total number of file actions",
		},
		[]string{"action", "status"}, // action: favorite, edit, junk, restore
	)
)

// Media library metrics
var (
	MediaFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_media_files_total",
			Help: "Total number of indexed media files by type",
		},
		[]string{"type"},
	)

	MediaFavoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_favorites_total",
			Help: "Total number of favorites",
		},
	)

	MediaWithLocationTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_media_with_location_total",
			Help: "Total number of indexed files with GPS coordinates",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_app_info",
			Help: "Application information",
		},
		[]string{"version", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}
