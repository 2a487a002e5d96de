package handlers

import (
	"encoding/json"
	"io"
	"net/http"
)

type ScanRequest struct {
	Folder      string `json:"folder,omitempty"`
	ForceRescan bool   `json:"force_rescan,omitempty"`
}

// Scan runs a reconcile pass synchronously and returns its result.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.scanner.Reconcile(r.Context(), req.Folder, req.ForceRescan)
	if err != nil {
		writeError(w, err, "Scan failed")
		return
	}

	writeJSON(w, result)
}
