package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/buildinfo"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/middleware"
	"github.com/xelth-com/odoopricesync/internal/services/odoo"
)

// Deps are the services the API serves
type Deps struct {
	Store    *catalog.Store
	Sync     *odoo.SyncService
	Audit    *audit.Recorder
	Dispatch string // transport name for /api/status
	// JWTSecret protects /api/* when set
	JWTSecret string
}

// Router wraps the mux router and the services behind it
type Router struct {
	*mux.Router
	store    *catalog.Store
	sync     *odoo.SyncService
	audit    *audit.Recorder
	dispatch string
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(d Deps) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		store:    d.Store,
		sync:     d.Sync,
		audit:    d.Audit,
		dispatch: d.Dispatch,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	if d.JWTSecret != "" {
		api.Use(middleware.Auth(d.JWTSecret))
	}
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Products
	api.HandleFunc("/products", r.listProducts).Methods("GET")
	api.HandleFunc("/products", r.createProduct).Methods("POST")
	api.HandleFunc("/products/push", r.pushProducts).Methods("POST")
	api.HandleFunc("/products/adjust-cost", r.adjustCost).Methods("POST")
	api.HandleFunc("/products/{id:[0-9]+}", r.getProduct).Methods("GET")
	api.HandleFunc("/products/{id:[0-9]+}", r.updateProduct).Methods("PUT")
	api.HandleFunc("/products/{id:[0-9]+}/push", r.pushProduct).Methods("POST")

	// Sync
	api.HandleFunc("/sync/pull", r.pull).Methods("POST")
	api.HandleFunc("/sync/logs", r.listLogs).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// getStatus reports build info and the sync wiring
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "running",
		"build":    buildinfo.Get(),
		"client":   r.sync.Client().Name(),
		"dispatch": r.dispatch,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps domain errors to status codes
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrDuplicateSKU):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrInvalidProduct):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, odoo.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, odoo.ErrAuthentication):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(req *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	return uint(id)
}

func queryInt(req *http.Request, key string, fallback int) int {
	if v := req.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
