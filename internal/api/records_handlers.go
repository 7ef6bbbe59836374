package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// QueryRecords handles GET /api/projects/{projectID}/records.
// Supported query params: page, page_size, batch_number, status, search,
// order_by, order.
func (h *Handlers) QueryRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	params := parsePagination(r, 20, 1000)
	q := r.URL.Query()
	page, err := h.engine.QueryRecords(r.Context(), id, storage.QueryOptions{
		Page:        params.Page,
		PageSize:    params.PageSize,
		BatchNumber: q.Get("batch_number"),
		Status:      q.Get("status"),
		Search:      q.Get("search"),
		OrderBy:     q.Get("order_by"),
		Order:       q.Get("order"),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, page)
}

// UpdateRecord handles PUT /api/records/{projectID}/{recordID}. The body is
// a flat object of field values; unknown columns are ignored.
func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	recordID, ok := httputil.ParseID(w, chi.URLParam(r, "recordID"))
	if !ok {
		return
	}

	var values map[string]string
	if !httputil.Decode(w, r, &values) {
		return
	}
	if len(values) == 0 {
		httputil.BadRequest(w, "no values to update")
		return
	}

	if err := h.engine.UpdateRecord(r.Context(), projectID, recordID, values); err != nil {
		respondError(w, err)
		return
	}
	record, err := h.engine.GetRecord(r.Context(), projectID, recordID)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, record)
}

// DeleteRecord handles DELETE /api/records/{projectID}/{recordID}.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	recordID, ok := httputil.ParseID(w, chi.URLParam(r, "recordID"))
	if !ok {
		return
	}
	if err := h.engine.DeleteRecord(r.Context(), projectID, recordID); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ExportRecords handles GET /api/projects/{projectID}/export.
// Query params: format (csv or xlsx, default csv) and batch_number.
func (h *Handlers) ExportRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = storage.FormatCSV
	}
	if format != storage.FormatCSV && format != storage.FormatXLSX {
		httputil.BadRequest(w, "unsupported export format: "+format)
		return
	}

	payload, err := h.engine.Export(r.Context(), id, format, r.URL.Query().Get("batch_number"))
	if err != nil {
		respondError(w, err)
		return
	}

	filename := fmt.Sprintf("project_%d_%s.%s", id, time.Now().Format("20060102_150405"), format)
	if format == storage.FormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
