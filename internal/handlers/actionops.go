package handlers

import (
	"encoding/json"
	"net/http"
)

type PathRequest struct {
	Path string `json:"path"`
}

type FavoriteRequest struct {
	Path     string `json:"path"`
	Favorite bool   `json:"favorite"`
}

// MarkFavorite flips the favorite flag and returns the updated record.
func (h *Handlers) MarkFavorite(w http.ResponseWriter, r *http.Request) {
	var req FavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	rec, err := h.actions.MarkFavorite(r.Context(), req.Path, req.Favorite)
	if err != nil {
		writeError(w, err, "Failed to mark favorite")
		return
	}

	writeJSON(w, rec)
}

// DeleteMedia soft-deletes a file by moving it into _Junk.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	rec, err := h.actions.DeleteMedia(r.Context(), req.Path)
	if err != nil {
		writeError(w, err, "Failed to delete media")
		return
	}

	writeJSON(w, rec)
}

// MarkForEdit moves a file into _Edit.
func (h *Handlers) MarkForEdit(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	rec, err := h.actions.MarkForEdit(r.Context(), req.Path)
	if err != nil {
		writeError(w, err, "Failed to mark for edit")
		return
	}

	writeJSON(w, rec)
}

// RestoreEditedFiles moves every unresolved edited file back home.
func (h *Handlers) RestoreEditedFiles(w http.ResponseWriter, r *http.Request) {
	result, err := h.actions.RestoreEditedFiles(r.Context())
	if err != nil {
		writeError(w, err, "Failed to restore edited files")
		return
	}

	writeJSON(w, result)
}
