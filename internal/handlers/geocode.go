package handlers

import (
	"encoding/json"
	"net/http"

	"media-index/internal/logging"
)

// GeocodeFile resolves a record's GPS coordinates to a place and
// stores the result on the record. Files without coordinates are a
// 404; callers cannot fix that by retrying.
func (h *Handlers) GeocodeFile(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		http.Error(w, "Geocoding is disabled", http.StatusServiceUnavailable)
		return
	}

	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	rec, err := h.db.GetRecord(r.Context(), req.Path)
	if err != nil {
		writeError(w, err, "Failed to get record")
		return
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		http.Error(w, "File has no GPS coordinates", http.StatusNotFound)
		return
	}

	loc, err := h.resolver.Resolve(r.Context(), *rec.Latitude, *rec.Longitude)
	if err != nil {
		writeError(w, err, "Failed to resolve location")
		return
	}

	if err := h.db.UpdateLocation(r.Context(), req.Path, *loc); err != nil {
		logging.Warn("failed to store location for %s: %v", req.Path, err)
	}

	writeJSON(w, loc)
}
