// Package handlers exposes the engine's operations as a JSON API.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-index/internal/actions"
	"media-index/internal/database"
	"media-index/internal/geocode"
	"media-index/internal/scanner"
)

type Handlers struct {
	db       *database.Database
	scanner  *scanner.Scanner
	actions  *actions.Coordinator
	resolver *geocode.Resolver
	mediaDir string
}

// New wires the handler set. resolver may be nil when geocoding is
// disabled.
func New(db *database.Database, s *scanner.Scanner, c *actions.Coordinator, resolver *geocode.Resolver, mediaDir string) *Handlers {
	return &Handlers{
		db:       db,
		scanner:  s,
		actions:  c,
		resolver: resolver,
		mediaDir: mediaDir,
	}
}

// RegisterRoutes attaches every API route to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", h.Scan).Methods(http.MethodPost)
	api.HandleFunc("/random", h.RandomItems).Methods(http.MethodGet)
	api.HandleFunc("/metadata", h.GetMetadata).Methods(http.MethodGet)
	api.HandleFunc("/favorite", h.MarkFavorite).Methods(http.MethodPost)
	api.HandleFunc("/delete", h.DeleteMedia).Methods(http.MethodPost)
	api.HandleFunc("/edit", h.MarkForEdit).Methods(http.MethodPost)
	api.HandleFunc("/restore", h.RestoreEditedFiles).Methods(http.MethodPost)
	api.HandleFunc("/geocode", h.GeocodeFile).Methods(http.MethodPost)
	api.HandleFunc("/history", h.GetMoveHistory).Methods(http.MethodGet)
	api.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
}
