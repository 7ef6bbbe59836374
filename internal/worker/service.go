package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/gridline/extractor/internal/aiclient"
	"github.com/gridline/extractor/internal/archive"
	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/schema"
	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// EXTRACTION SERVICE
// =============================================================================
// The service is the entry point for starting and controlling extraction
// tasks. Start validates the request, builds an Extractor and runs it on its
// own goroutine; pause/resume/cancel reach the live run through the registry.
// Each running task gets its own model client; tasks share nothing mutable
// beyond the database and the registry.

var (
	ErrNoFiles    = errors.New("no input files")
	ErrTaskExists = errors.New("task id already exists")
)

// Service wires projects, storage and the model client into runnable tasks.
type Service struct {
	db        *storage.DB
	engine    *storage.Engine
	projects  *schema.ProjectService
	fields    *schema.FieldService
	aiConfigs *schema.AIConfigService
	tasks     *TaskStore
	batches   *BatchStore
	archiver  *archive.Archiver
	events    *progress.Broadcaster
	snapshots *progress.Store
	registry  *Registry

	// aiDefaults supplies retry and timeout knobs, plus the fallback
	// endpoint used when no config row exists.
	aiDefaults config.AIConfig

	// newClient is swapped in tests to avoid real model calls.
	newClient func(ctx context.Context, st aiclient.Settings) (aiclient.Client, error)
}

func NewService(
	db *storage.DB,
	engine *storage.Engine,
	archiver *archive.Archiver,
	events *progress.Broadcaster,
	snapshots *progress.Store,
	aiDefaults config.AIConfig,
) *Service {
	return &Service{
		db:         db,
		engine:     engine,
		projects:   schema.NewProjectService(db, engine),
		fields:     schema.NewFieldService(db, engine),
		aiConfigs:  schema.NewAIConfigService(db),
		tasks:      NewTaskStore(db),
		batches:    NewBatchStore(db),
		archiver:   archiver,
		events:     events,
		snapshots:  snapshots,
		registry:   NewRegistry(),
		aiDefaults: aiDefaults,
		newClient:  aiclient.New,
	}
}

// SetClientFactory overrides how model clients are built. Tests and
// embedders use it to swap in fake transports.
func (s *Service) SetClientFactory(f func(ctx context.Context, st aiclient.Settings) (aiclient.Client, error)) {
	if f != nil {
		s.newClient = f
	}
}

// Tasks exposes the task store for read-side callers.
func (s *Service) Tasks() *TaskStore { return s.tasks }

// Batches exposes the batch store for read-side callers.
func (s *Service) Batches() *BatchStore { return s.batches }

// Registry exposes the live task registry.
func (s *Service) Registry() *Registry { return s.registry }

// StartRequest describes one extraction run.
type StartRequest struct {
	ProjectID  int64    `json:"project_id"`
	FilePaths  []string `json:"file_paths"`
	AIConfigID int64    `json:"ai_config_id,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
}

// Start validates the request, persists the task row and launches the run in
// the background. The returned task is the caller's handle for status polls
// and progress subscriptions. Validation failures mean no task was created.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Task, error) {
	if len(req.FilePaths) == 0 {
		return nil, ErrNoFiles
	}
	for _, path := range req.FilePaths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("input file not readable: %s", path)
		}
	}

	project, err := s.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, schema.ErrProjectNotFound
	}

	fields, err := s.fields.ListActive(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	settings, err := s.resolveSettings(ctx, req.AIConfigID)
	if err != nil {
		return nil, err
	}
	client, err := s.newClient(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai client: %w", err)
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	} else if existing, err := s.tasks.Get(ctx, taskID); err != nil {
		client.Close()
		return nil, err
	} else if existing != nil {
		client.Close()
		return nil, ErrTaskExists
	}

	task := &Task{
		ID:         taskID,
		ProjectID:  project.ID,
		Status:     StatusProcessing,
		TotalFiles: len(req.FilePaths),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		client.Close()
		return nil, err
	}

	ext := NewExtractor(task, project, fields, client, s.engine, s.tasks,
		s.batches, s.archiver, s.events, s.snapshots)
	s.registry.Register(taskID, ext)

	log.Printf("[Extractor] task %s started: project %d, %d file(s)",
		taskID, project.ID, len(req.FilePaths))
	go s.run(ext, req.FilePaths)

	return task, nil
}

// run executes the task and broadcasts the terminal event. It owns the
// registry entry: whatever happens, the task is unregistered on the way out.
// The completed event is emitted unconditionally so that every subscriber
// sees exactly one terminal marker; setup failures have already put an error
// event and the failure reason on the wire before it.
func (s *Service) run(ext *Extractor, files []string) {
	ctx := context.Background()
	defer s.registry.Unregister(ext.TaskID())

	result, err := ext.ProcessFiles(ctx, files)
	success := err == nil && result.Success
	evt := progress.Event{Event: progress.EventCompleted, Success: &success}
	if result != nil {
		evt.TotalRows = result.TotalRows
		evt.ProcessedRows = result.ProcessedRows
		evt.SuccessCount = result.SuccessCount
		evt.ErrorCount = result.ErrorCount
		evt.Message = result.ErrorMessage
	}
	ext.emit(ctx, evt)
}

// resolveSettings merges a stored endpoint config over the config file's ai
// section. With no stored default and a usable file config, the file config
// alone drives the run.
func (s *Service) resolveSettings(ctx context.Context, configID int64) (aiclient.Settings, error) {
	settings := aiclient.SettingsFromConfig(s.aiDefaults)

	var row *schema.AIConfig
	var err error
	if configID > 0 {
		row, err = s.aiConfigs.Get(ctx, configID)
		if err != nil {
			return aiclient.Settings{}, err
		}
		if row == nil {
			return aiclient.Settings{}, schema.ErrConfigNotFound
		}
	} else {
		row, err = s.aiConfigs.GetDefault(ctx)
		if errors.Is(err, schema.ErrNoDefaultConfig) {
			if settings.APIURL != "" && settings.ModelName != "" {
				return settings, nil
			}
			return aiclient.Settings{}, err
		}
		if err != nil {
			return aiclient.Settings{}, err
		}
	}

	settings.APIURL = row.APIURL
	settings.ModelName = row.ModelName
	if row.APIKey != "" {
		settings.APIKey = row.APIKey
	}
	settings.Temperature = row.Temperature
	settings.MaxTokens = row.MaxTokens
	return settings, nil
}

// Pause suspends a live task. Unknown or finished tasks are not-found.
func (s *Service) Pause(ctx context.Context, taskID string) (*Task, error) {
	ext := s.registry.Get(taskID)
	if ext == nil {
		return nil, ErrTaskNotFound
	}
	if err := ext.Pause(ctx); err != nil {
		return nil, err
	}
	return s.tasks.Get(ctx, taskID)
}

// Resume lifts a pause on a live task.
func (s *Service) Resume(ctx context.Context, taskID string) (*Task, error) {
	ext := s.registry.Get(taskID)
	if ext == nil {
		return nil, ErrTaskNotFound
	}
	if err := ext.Resume(ctx); err != nil {
		return nil, err
	}
	return s.tasks.Get(ctx, taskID)
}

// Cancel stops a task. A live run is flagged and winds down at the next row
// boundary; a row-only task (say, orphaned by a crash) is marked cancelled
// directly unless it already reached a terminal state.
func (s *Service) Cancel(ctx context.Context, taskID string) (*Task, error) {
	if ext := s.registry.Get(taskID); ext != nil {
		if err := ext.Cancel(ctx); err != nil {
			return nil, err
		}
		return s.tasks.Get(ctx, taskID)
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.Terminal() {
		return task, nil
	}
	if err := s.tasks.UpdateStatus(ctx, taskID, StatusCancelled); err != nil {
		return nil, err
	}
	return s.tasks.Get(ctx, taskID)
}

// Status returns the persisted task state.
func (s *Service) Status(ctx context.Context, taskID string) (*Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// List returns a page of tasks, optionally filtered by project and status.
func (s *Service) List(ctx context.Context, projectID int64, status string, limit, offset int) ([]Task, int, error) {
	return s.tasks.List(ctx, projectID, status, limit, offset)
}
