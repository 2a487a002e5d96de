package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-index/internal/actions"
	"media-index/internal/database"
	"media-index/internal/exif"
	"media-index/internal/geocode"
	"media-index/internal/handlers"
	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/pathlock"
	"media-index/internal/scanner"
	"media-index/internal/startup"
)

func main() {
	startTime := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	metrics.SetAppInfo(startup.Version, startup.GoVersion)

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error("Failed to close database: %v", err)
		}
	}()
	startup.LogDatabaseInit(time.Since(dbStart))

	var resolver *geocode.Resolver
	if config.GeocodeEnabled {
		resolver = geocode.New(db, geocode.NewNominatim(config.GeocodeURL),
			config.GeocodePrecision, config.GeocodeInterval, config.GeocodeQueue)
	}

	locks := pathlock.New()
	scn := scanner.New(db, exif.New(), geocoderOrNil(resolver), locks, scanner.Config{
		Root:           config.MediaDir,
		Workers:        config.ScanWorkers,
		StabilityDelay: config.StabilityDelay,
	})
	coordinator := actions.New(db, locks, scn.Moves(), config.MediaDir)

	startup.LogScannerInit(config.ScanInterval, config.ScanWorkers)

	// Initial pass in the background so the API comes up immediately.
	go func() {
		if _, err := scn.Reconcile(ctx, "", false); err != nil {
			logging.Error("Initial scan failed: %v", err)
		}
	}()
	go scn.RunPeriodic(ctx, config.ScanInterval)
	go reportDBSize(ctx, db)

	var watcher *scanner.Watcher
	if config.WatchEnabled {
		watcher = scanner.NewWatcher(scn, config.WatchDebounce)
		if err := watcher.Start(ctx); err != nil {
			logging.Error("Failed to start filesystem watcher: %v", err)
			watcher = nil
		}
	}

	h := handlers.New(db, scn, coordinator, resolver, config.MediaDir)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handlers.Instrument(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(cancel, srv, metricsSrv, watcher)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

// geocoderOrNil keeps a nil *Resolver from turning into a non-nil
// interface value inside the scanner.
func geocoderOrNil(r *geocode.Resolver) scanner.Geocoder {
	if r == nil {
		return nil
	}
	return r
}

// reportDBSize refreshes the database size gauges periodically.
func reportDBSize(ctx context.Context, db *database.Database) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateSizeMetrics()
		}
	}
}

func handleShutdown(cancel context.CancelFunc, srv, metricsSrv *http.Server, watcher *scanner.Watcher) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()

	if watcher != nil {
		watcher.Stop()
		startup.LogShutdownStepComplete("Watcher stopped")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
