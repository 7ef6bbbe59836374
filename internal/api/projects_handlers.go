package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/schema"
)

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects handles GET /api/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"projects": projects, "total": len(projects)})
}

// CreateProject handles POST /api/projects.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateProjectRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	project, err := h.projects.Create(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, project)
}

// GetProject handles GET /api/projects/{projectID}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if project == nil {
		respondError(w, schema.ErrProjectNotFound)
		return
	}
	httputil.OK(w, project)
}

// UpdateProject handles PUT /api/projects/{projectID}.
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	var req schema.UpdateProjectRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	project, err := h.projects.Update(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, project)
}

// DeleteProject handles DELETE /api/projects/{projectID}. Deleting a project
// removes its fields and drops the records table.
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	if err := h.projects.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetProjectStatistics handles GET /api/projects/{projectID}/statistics.
func (h *Handlers) GetProjectStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if project == nil {
		respondError(w, schema.ErrProjectNotFound)
		return
	}
	stats, err := h.engine.Statistics(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// ListProjectBatches handles GET /api/projects/{projectID}/batches.
func (h *Handlers) ListProjectBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "projectID"))
	if !ok {
		return
	}
	batches, err := h.service.Batches().ListByProject(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"batches": batches, "total": len(batches)})
}
