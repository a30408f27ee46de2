package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/xelth-com/odoopricesync/internal/audit"
	"github.com/xelth-com/odoopricesync/internal/catalog"
	"github.com/xelth-com/odoopricesync/internal/models"
	"github.com/xelth-com/odoopricesync/internal/services/odoo"
)

// pushProduct pushes one product now, outside the dispatch queue
func (r *Router) pushProduct(w http.ResponseWriter, req *http.Request) {
	id := pathID(req)
	if _, err := r.store.Find(req.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	resp, err := r.sync.PushByID(req.Context(), id)
	if err != nil {
		// the failure is already recorded on the product and in the log
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if resp == nil {
		respondError(w, http.StatusNotFound, "Product not found for sync.")
		return
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, resp)
}

type bulkPushRequest struct {
	IDs    []uint            `json:"ids"`
	Status models.SyncStatus `json:"status"`
	All    bool              `json:"all"`
}

// pushProducts pushes the listed products, or every product matching status
// when all is set
func (r *Router) pushProducts(w http.ResponseWriter, req *http.Request) {
	var in bulkPushRequest
	if err := decodeJSON(req, &in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if len(in.IDs) == 0 && !in.All {
		respondError(w, http.StatusUnprocessableEntity, "either ids or all must be given")
		return
	}

	f := catalog.ProductFilter{IDs: in.IDs, Status: in.Status}
	summary, err := r.sync.PushAll(req.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type pullRequest struct {
	SKUs          []string   `json:"skus"`
	UpdatedAfter  *time.Time `json:"updated_after"`
	UpdatedBefore *time.Time `json:"updated_before"`
	Limit         int        `json:"limit"`
	Offset        int        `json:"offset"`
}

// pull imports products from Odoo
func (r *Router) pull(w http.ResponseWriter, req *http.Request) {
	var in pullRequest
	// an empty body pulls everything
	if err := decodeJSON(req, &in); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	summary, err := r.sync.Pull(req.Context(),
		odoo.FetchFilters{SKUs: in.SKUs, UpdatedAfter: in.UpdatedAfter, UpdatedBefore: in.UpdatedBefore},
		odoo.FetchOptions{Limit: in.Limit, Offset: in.Offset},
	)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// listLogs returns sync log rows, newest first
func (r *Router) listLogs(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	f := audit.LogFilter{
		SKU:       q.Get("sku"),
		ProductID: uint(queryInt(req, "product_id", 0)),
		Status:    models.LogStatus(q.Get("status")),
		Direction: models.SyncDirection(q.Get("direction")),
		Operation: models.Operation(q.Get("operation")),
		Limit:     queryInt(req, "limit", defaultPageSize),
		Offset:    queryInt(req, "offset", 0),
	}
	if f.Limit == 0 || f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	rows, total, err := r.audit.List(req.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": rows,
		"total": total,
	})
}
