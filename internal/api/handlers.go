package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/pkg/httputil"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/schema"
	"github.com/gridline/extractor/internal/storage"
	"github.com/gridline/extractor/internal/worker"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// =============================================================================
// HANDLERS
// =============================================================================
// One Handlers value owns every HTTP endpoint. Resource groups live in their
// own files (projects, fields, records, processing, ai configs, files); this
// file holds the shared state, the health check and the error mapping.

// Handlers bundles the services the HTTP layer exposes.
type Handlers struct {
	db        *storage.DB
	engine    *storage.Engine
	projects  *schema.ProjectService
	fields    *schema.FieldService
	aiConfigs *schema.AIConfigService
	service   *worker.Service
	events    *progress.Broadcaster
	snapshots *progress.Store
	redis     *redis.Client

	uploadDir  string
	aiDefaults config.AIConfig
	startTime  time.Time
}

// NewHandlers wires the handler set. The redis client may be nil; the health
// endpoint then reports the snapshot store as not configured.
func NewHandlers(
	db *storage.DB,
	engine *storage.Engine,
	service *worker.Service,
	events *progress.Broadcaster,
	snapshots *progress.Store,
	redisClient *redis.Client,
	uploadDir string,
	aiDefaults config.AIConfig,
) *Handlers {
	return &Handlers{
		db:         db,
		engine:     engine,
		projects:   schema.NewProjectService(db, engine),
		fields:     schema.NewFieldService(db, engine),
		aiConfigs:  schema.NewAIConfigService(db),
		service:    service,
		events:     events,
		snapshots:  snapshots,
		redis:      redisClient,
		uploadDir:  uploadDir,
		aiDefaults: aiDefaults,
		startTime:  time.Now(),
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// ComponentCheck reports one dependency's health.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// HealthCheck handles GET /health.
// The database is the only hard dependency. The snapshot store degrades to
// in-memory when redis is down, so its state never flips the overall status.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  make(map[string]ComponentCheck),
	}

	start := time.Now()
	if err := h.db.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Checks["database"] = ComponentCheck{Status: "down", Message: err.Error()}
	} else {
		status.Checks["database"] = ComponentCheck{Status: "up", Latency: time.Since(start).String()}
	}

	if h.redis == nil {
		status.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	} else {
		start = time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status.Checks["redis"] = ComponentCheck{Status: "down", Message: err.Error()}
		} else {
			status.Checks["redis"] = ComponentCheck{Status: "up", Latency: time.Since(start).String()}
		}
	}

	status.Checks["tasks"] = ComponentCheck{
		Status:  "up",
		Message: fmt.Sprintf("%d running", len(h.service.Registry().ActiveTasks())),
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, status)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// respondError translates service errors into HTTP responses. Sentinel
// errors from the schema and worker layers carry the client-facing meaning;
// anything unrecognized is a 500 with the detail kept out of the body.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrProjectNotFound),
		errors.Is(err, schema.ErrFieldNotFound),
		errors.Is(err, schema.ErrConfigNotFound),
		errors.Is(err, worker.ErrTaskNotFound),
		errors.Is(err, storage.ErrRecordNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, schema.ErrProjectNameExists),
		errors.Is(err, schema.ErrFieldNameExists),
		errors.Is(err, worker.ErrTaskExists):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, schema.ErrInvalidName),
		errors.Is(err, schema.ErrInvalidType),
		errors.Is(err, schema.ErrReservedName),
		errors.Is(err, schema.ErrInvalidDedupStrategy),
		errors.Is(err, schema.ErrFieldNotDeleted),
		errors.Is(err, schema.ErrNoDefaultConfig),
		errors.Is(err, worker.ErrNoFiles):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
