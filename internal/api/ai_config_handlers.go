package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridline/extractor/internal/aiclient"
	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/schema"
)

// =============================================================================
// AI CONFIG HANDLERS
// =============================================================================

// ListAIConfigs handles GET /api/ai-configs.
func (h *Handlers) ListAIConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.aiConfigs.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"configs": configs, "total": len(configs)})
}

// CreateAIConfig handles POST /api/ai-configs.
func (h *Handlers) CreateAIConfig(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateAIConfigRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	cfg, err := h.aiConfigs.Create(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, cfg)
}

// UpdateAIConfig handles PUT /api/ai-configs/{configID}.
func (h *Handlers) UpdateAIConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "configID"))
	if !ok {
		return
	}
	var req schema.UpdateAIConfigRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	cfg, err := h.aiConfigs.Update(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, cfg)
}

// DeleteAIConfig handles DELETE /api/ai-configs/{configID}.
func (h *Handlers) DeleteAIConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "configID"))
	if !ok {
		return
	}
	if err := h.aiConfigs.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SetDefaultAIConfig handles POST /api/ai-configs/{configID}/default.
func (h *Handlers) SetDefaultAIConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "configID"))
	if !ok {
		return
	}
	if err := h.aiConfigs.SetDefault(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	cfg, err := h.aiConfigs.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, cfg)
}

// TestAIConfigRequest selects what to test: a stored config by id, or inline
// endpoint settings.
type TestAIConfigRequest struct {
	ConfigID    int64   `json:"config_id,omitempty"`
	APIURL      string  `json:"api_url,omitempty"`
	ModelName   string  `json:"model_name,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// TestAIConfigResponse reports the outcome of a connection test.
type TestAIConfigResponse struct {
	Success bool   `json:"success"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestAIConfig handles POST /api/ai-configs/test with a one-token ping.
// Failures come back in the body with a 200 status: an unreachable model
// endpoint is a result, not a request error.
func (h *Handlers) TestAIConfig(w http.ResponseWriter, r *http.Request) {
	var req TestAIConfigRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	settings := aiclient.SettingsFromConfig(h.aiDefaults)
	if req.ConfigID > 0 {
		row, err := h.aiConfigs.Get(r.Context(), req.ConfigID)
		if err != nil {
			respondError(w, err)
			return
		}
		if row == nil {
			respondError(w, schema.ErrConfigNotFound)
			return
		}
		settings.APIURL = row.APIURL
		settings.ModelName = row.ModelName
		if row.APIKey != "" {
			settings.APIKey = row.APIKey
		}
		settings.Temperature = row.Temperature
		settings.MaxTokens = row.MaxTokens
	} else {
		if req.APIURL == "" || req.ModelName == "" {
			httputil.BadRequest(w, "api_url and model_name are required")
			return
		}
		settings.APIURL = req.APIURL
		settings.ModelName = req.ModelName
		if req.APIKey != "" {
			settings.APIKey = req.APIKey
		}
		if req.Temperature > 0 {
			settings.Temperature = req.Temperature
		}
		if req.MaxTokens > 0 {
			settings.MaxTokens = req.MaxTokens
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	client, err := aiclient.New(ctx, settings)
	if err != nil {
		httputil.OK(w, TestAIConfigResponse{Success: false, Error: err.Error()})
		return
	}
	defer client.Close()

	start := time.Now()
	if err := client.TestConnection(ctx); err != nil {
		httputil.OK(w, TestAIConfigResponse{Success: false, Error: err.Error()})
		return
	}
	httputil.OK(w, TestAIConfigResponse{
		Success: true,
		Latency: time.Since(start).Round(time.Millisecond).String(),
	})
}
