package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/worker"
)

// =============================================================================
// PROCESSING HANDLERS
// =============================================================================

// StartProcessing handles POST /api/processing/start. The run happens in the
// background; the response is the task handle for status polls and the
// progress stream.
func (h *Handlers) StartProcessing(w http.ResponseWriter, r *http.Request) {
	var req worker.StartRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	task, err := h.service.Start(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, task)
}

// PauseTask handles POST /api/processing/{taskID}/pause.
func (h *Handlers) PauseTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Pause(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, task)
}

// ResumeTask handles POST /api/processing/{taskID}/resume.
func (h *Handlers) ResumeTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Resume(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, task)
}

// CancelTask handles POST /api/processing/{taskID}/cancel.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Cancel(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, task)
}

// TaskStatus handles GET /api/processing/{taskID}/status.
func (h *Handlers) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, task)
}

// ListTasks handles GET /api/processing/tasks.
// Query params: project_id, status, page, page_size.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	var projectID int64
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.BadRequest(w, "invalid project_id: "+raw)
			return
		}
		projectID = id
	}

	params := parsePagination(r, 20, 100)
	tasks, total, err := h.service.List(r.Context(), projectID,
		r.URL.Query().Get("status"), params.PageSize, params.Offset)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, newPaginatedResponse(tasks, params, total))
}

// =============================================================================
// PROGRESS STREAM
// =============================================================================

// StreamTaskEvents handles GET /api/processing/{taskID}/events as a
// Server-Sent Events stream. The latest snapshot is replayed first so late
// subscribers see the current state immediately; the stream ends after the
// terminal completed event.
func (h *Handlers) StreamTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	// Reject unknown tasks before upgrading to a stream.
	if _, err := h.service.Status(r.Context(), taskID); err != nil {
		respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))

	ch, cancel := h.events.Subscribe(taskID)
	defer cancel()

	if snap := h.snapshots.Load(r.Context(), taskID); snap != nil {
		writeSSE(w, flusher, *snap)
		if snap.Event == progress.EventCompleted {
			return
		}
	}

	// The terminal status write precedes the terminal publish. Re-reading
	// the status after subscribing therefore covers both sides: a task
	// still running will publish its completed event to this subscription,
	// and a task already terminal gets its completed event synthesized here
	// instead of waiting on a publish that already happened.
	if task, err := h.service.Status(r.Context(), taskID); err == nil && task.Terminal() {
		writeSSE(w, flusher, terminalEvent(task))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, flusher, evt)
			if evt.Event == progress.EventCompleted {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, evt progress.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

// terminalEvent renders a finished task row as the completed event a live
// subscriber would have received.
func terminalEvent(task *worker.Task) progress.Event {
	success := task.Status == worker.StatusCompleted
	return progress.Event{
		TaskID:        task.ID,
		Event:         progress.EventCompleted,
		Success:       &success,
		TotalRows:     task.TotalRows,
		ProcessedRows: task.ProcessedRows,
		SuccessCount:  task.SuccessCount,
		ErrorCount:    task.ErrorCount,
		Message:       task.ErrorMessage,
	}
}
