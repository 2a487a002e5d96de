package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-index/internal/database"
	"media-index/internal/mediatypes"
)

const dateLayout = "2006-01-02"

// RandomItems serves a uniform random sample of the index. count
// defaults to 10.
//
//	GET /api/random?count=5&folder=/media/2024&file_type=image
//	    &date_from=2024-01-01&date_to=2024-12-31
//	    &favorites_only=true&exclude=/a.jpg&exclude=/b.jpg
func (h *Handlers) RandomItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := database.RandomQuery{
		Count:        10,
		FolderPrefix: q.Get("folder"),
		Exclude:      q["exclude"],
	}

	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid count", http.StatusBadRequest)
			return
		}
		query.Count = n
	}
	if v := q.Get("file_type"); v != "" {
		ft := mediatypes.FileType(v)
		if ft != mediatypes.FileTypeImage && ft != mediatypes.FileTypeVideo {
			http.Error(w, "Invalid file_type", http.StatusBadRequest)
			return
		}
		query.FileType = ft
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			http.Error(w, "Invalid date_from", http.StatusBadRequest)
			return
		}
		query.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			http.Error(w, "Invalid date_to", http.StatusBadRequest)
			return
		}
		// Inclusive upper bound: cover the whole day.
		t = t.Add(24*time.Hour - time.Second)
		query.DateTo = &t
	}
	if v := q.Get("favorites_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid favorites_only", http.StatusBadRequest)
			return
		}
		query.FavoritesOnly = b
	}

	result, err := h.db.RandomItems(r.Context(), query)
	if err != nil {
		writeError(w, err, "Failed to query random items")
		return
	}

	writeJSON(w, result)
}

// MetadataResponse is a record plus its derived MIME type.
type MetadataResponse struct {
	*database.MediaRecord
	MimeType string `json:"mime_type,omitempty"`
}

// GetMetadata returns the full record for one path. Only active,
// tombstone-free records resolve; files parked in _Edit or _Junk and
// files missing from disk answer 404.
func (h *Handlers) GetMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	rec, err := h.db.GetRecord(r.Context(), path)
	if err != nil {
		writeError(w, err, "Failed to get metadata")
		return
	}
	if rec.State != database.StateActive || rec.MissingSince != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, MetadataResponse{
		MediaRecord: rec,
		MimeType:    mediatypes.GetMimeType(strings.ToLower(filepath.Ext(rec.Path))),
	})
}

// GetMoveHistory returns the move ledger for one library path.
func (h *Handlers) GetMoveHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}

	entries, err := h.db.MoveHistory(r.Context(), path)
	if err != nil {
		writeError(w, err, "Failed to get move history")
		return
	}
	if entries == nil {
		entries = []database.MoveHistoryEntry{}
	}

	writeJSON(w, entries)
}
