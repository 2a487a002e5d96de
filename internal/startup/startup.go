// Package startup loads configuration from the environment and logs
// the service banner.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"media-index/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	MediaDir    string
	DatabaseDir string
	Port        string
	MetricsPort string

	ScanInterval   time.Duration
	ScanWorkers    int
	StabilityDelay time.Duration
	WatchEnabled   bool
	WatchDebounce  time.Duration

	GeocodeEnabled   bool
	GeocodeURL       string
	GeocodePrecision int
	GeocodeInterval  time.Duration
	GeocodeQueue     int

	MetricsEnabled bool

	// Derived paths
	DatabasePath string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	mediaDir := getEnv("MEDIA_DIR", "/media")
	databaseDir := getEnv("DATABASE_DIR", "/database")
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	scanIntervalStr := getEnv("SCAN_INTERVAL", "6h")
	scanWorkers := getEnvInt("SCAN_WORKERS", 4)
	stabilityDelayStr := getEnv("STABILITY_DELAY", "500ms")
	watchEnabled := getEnvBool("WATCH_ENABLED", true)
	watchDebounceStr := getEnv("WATCH_DEBOUNCE", "5s")
	geocodeEnabled := getEnvBool("GEOCODE_ENABLED", true)
	geocodeURL := getEnv("GEOCODE_URL", "")
	geocodePrecision := getEnvInt("GEOCODE_PRECISION", 4)
	geocodeIntervalStr := getEnv("GEOCODE_INTERVAL", "1s")
	geocodeQueue := getEnvInt("GEOCODE_QUEUE", 32)
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)

	logging.Info("  MEDIA_DIR:          %s", mediaDir)
	logging.Info("  DATABASE_DIR:       %s", databaseDir)
	logging.Info("  PORT:               %s", port)
	logging.Info("  METRICS_PORT:       %s", metricsPort)
	logging.Info("  METRICS_ENABLED:    %v", metricsEnabled)
	logging.Info("  SCAN_INTERVAL:      %s", scanIntervalStr)
	logging.Info("  SCAN_WORKERS:       %d", scanWorkers)
	logging.Info("  STABILITY_DELAY:    %s", stabilityDelayStr)
	logging.Info("  WATCH_ENABLED:      %v", watchEnabled)
	logging.Info("  WATCH_DEBOUNCE:     %s", watchDebounceStr)
	logging.Info("  GEOCODE_ENABLED:    %v", geocodeEnabled)
	logging.Info("  GEOCODE_PRECISION:  %d", geocodePrecision)
	logging.Info("  GEOCODE_INTERVAL:   %s", geocodeIntervalStr)
	logging.Info("  GEOCODE_QUEUE:      %d", geocodeQueue)
	logging.Info("  LOG_LEVEL:          %s", logging.GetLevel())

	scanInterval := parseDurationOr(scanIntervalStr, "SCAN_INTERVAL", 6*time.Hour)
	stabilityDelay := parseDurationOr(stabilityDelayStr, "STABILITY_DELAY", 500*time.Millisecond)
	watchDebounce := parseDurationOr(watchDebounceStr, "WATCH_DEBOUNCE", 5*time.Second)
	geocodeInterval := parseDurationOr(geocodeIntervalStr, "GEOCODE_INTERVAL", time.Second)

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	mediaDir, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory path: %w", err)
	}
	logging.Info("  Media directory (absolute): %s", mediaDir)

	databaseDir, err = filepath.Abs(databaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", databaseDir)

	if err := ensureDirectory(mediaDir, "media"); err != nil {
		logging.Warn("  Media directory issue: %v", err)
	}

	if err := ensureDirectory(databaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}

	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(databaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	config := &Config{
		MediaDir:         mediaDir,
		DatabaseDir:      databaseDir,
		Port:             port,
		MetricsPort:      metricsPort,
		ScanInterval:     scanInterval,
		ScanWorkers:      scanWorkers,
		StabilityDelay:   stabilityDelay,
		WatchEnabled:     watchEnabled,
		WatchDebounce:    watchDebounce,
		GeocodeEnabled:   geocodeEnabled,
		GeocodeURL:       geocodeURL,
		GeocodePrecision: geocodePrecision,
		GeocodeInterval:  geocodeInterval,
		GeocodeQueue:     geocodeQueue,
		MetricsEnabled:   metricsEnabled,
		DatabasePath:     filepath.Join(databaseDir, "media_index.db"),
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:   ENABLED (required)")
	logging.Info("    Watcher:    %s", enabledString(config.WatchEnabled))
	logging.Info("    Geocoding:  %s", enabledString(config.GeocodeEnabled))
	logging.Info("    Metrics:    %s", enabledString(config.MetricsEnabled))
	logExiftoolAvailability()

	return config, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogScannerInit logs scanner initialization
func LogScannerInit(interval time.Duration, workers int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SCANNER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Scan interval: %v", interval)
	logging.Info("  Workers:       %d", workers)
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    __  ___         ___         ____          __
   /  |/  /__  ____/ (_)___ _  /  _/___  ____/ /__  _  __
  / /|_/ / _ \/ __  / / __ '/  / // __ \/ __  / _ \| |/_/
 / /  / /  __/ /_/ / / /_/ / _/ // / / / /_/ /  __/>  <
/_/  /_/\___/\__,_/_/\__,_/ /___/_/ /_/\__,_/\___/_/|_|

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func logExiftoolAvailability() {
	if path, err := exec.LookPath("exiftool"); err == nil {
		logging.Info("    Rating embed: ENABLED (exiftool at %s)", path)
	} else {
		logging.Info("    Rating embed: DISABLED (exiftool not in PATH)")
	}
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func parseDurationOr(value, name string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("  Invalid %s, using default: %v", name, fallback)
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
