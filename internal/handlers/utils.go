package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"media-index/internal/actions"
	"media-index/internal/database"
	"media-index/internal/geocode"
	"media-index/internal/logging"
	"media-index/internal/scanner"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged; there is nothing else to do with them
// once the header has gone out.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeError maps an engine error onto its HTTP status.
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, actions.ErrAlreadyEdited):
		http.Error(w, "File is already marked for edit", http.StatusConflict)
	case errors.Is(err, actions.ErrConflict):
		http.Error(w, "Conflicting file state", http.StatusConflict)
	case errors.Is(err, scanner.ErrScanInProgress):
		http.Error(w, "A scan is already in progress", http.StatusConflict)
	case errors.Is(err, geocode.ErrUnavailable):
		http.Error(w, "Geocoding service unavailable", http.StatusServiceUnavailable)
	default:
		logging.Error("%s: %v", fallback, err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
