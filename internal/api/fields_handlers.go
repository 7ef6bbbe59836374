package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gridline/extractor/internal/datanorm"
	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/schema"
)

// =============================================================================
// FIELD HANDLERS
// =============================================================================

// ListFields handles GET /api/projects/{projectID}/fields. Soft-deleted
// fields are included with ?include_deleted=true.
func (h *Handlers) ListFields(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}

	var fields []schema.Field
	var err error
	if r.URL.Query().Get("include_deleted") == "true" {
		fields, err = h.fields.ListAll(r.Context(), id)
	} else {
		fields, err = h.fields.ListActive(r.Context(), id)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"fields": fields, "total": len(fields)})
}

// CreateField handles POST /api/projects/{projectID}/fields. An omitted
// field name is derived from the label.
func (h *Handlers) CreateField(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	var req schema.CreateFieldRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.Label) != "" {
		req.Name = datanorm.SuggestFieldName(req.Label)
	}
	field, err := h.fields.Create(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, field)
}

// UpdateField handles PUT /api/fields/{fieldID}.
func (h *Handlers) UpdateField(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "fieldID"))
	if !ok {
		return
	}
	var req schema.UpdateFieldRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	field, err := h.fields.Update(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, field)
}

// DeleteField handles DELETE /api/fields/{fieldID}. The delete is soft: the
// column and its data stay, and the field can be restored.
func (h *Handlers) DeleteField(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "fieldID"))
	if !ok {
		return
	}
	if err := h.fields.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// RestoreField handles POST /api/fields/{fieldID}/restore.
func (h *Handlers) RestoreField(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "fieldID"))
	if !ok {
		return
	}
	field, err := h.fields.Restore(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, field)
}

// SuggestFieldName handles GET /api/fields/suggest-name?label=... and returns
// a snake_case field name derived from a human label. With a valid field_type
// the stock validation pattern for that type rides along so a client can
// prefill it.
func (h *Handlers) SuggestFieldName(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if strings.TrimSpace(label) == "" {
		httputil.BadRequest(w, "label is required")
		return
	}
	resp := map[string]string{
		"label": label,
		"name":  datanorm.SuggestFieldName(label),
	}
	if ft := r.URL.Query().Get("field_type"); ft != "" && datanorm.ValidFieldType(ft) {
		resp["field_type"] = ft
		resp["validation_pattern"] = schema.ValidationRuleForType(ft)
	}
	httputil.OK(w, resp)
}
