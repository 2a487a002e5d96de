package handlers

import (
	"net/http"

	"media-index/internal/database"
	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/scanner"
	"media-index/internal/startup"
)

type StatusResponse struct {
	Scanner     scanner.State      `json:"scanner"`
	Stats       *database.Stats    `json:"stats"`
	RecentScans []database.ScanRun `json:"recent_scans"`
	Build       startup.BuildInfo  `json:"build"`
}

// GetStatus reports scanner state, index statistics and recent scans.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats(r.Context())
	if err != nil {
		writeError(w, err, "Failed to get statistics")
		return
	}

	runs, err := h.db.RecentScanRuns(r.Context(), 10)
	if err != nil {
		logging.Warn("failed to load recent scans: %v", err)
	}
	if runs == nil {
		runs = []database.ScanRun{}
	}

	metrics.MediaFilesTotal.WithLabelValues("image").Set(float64(stats.Images))
	metrics.MediaFilesTotal.WithLabelValues("video").Set(float64(stats.Videos))
	metrics.MediaFavoritesTotal.Set(float64(stats.Favorites))
	metrics.MediaWithLocationTotal.Set(float64(stats.WithLocation))

	writeJSON(w, StatusResponse{
		Scanner:     h.scanner.State(),
		Stats:       stats,
		RecentScans: runs,
		Build:       startup.GetBuildInfo(),
	})
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.db.GetStats(r.Context()); err != nil {
		http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
