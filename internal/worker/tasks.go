package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// PROCESSING TASKS
// =============================================================================
// Every extraction run is tracked as a row in processing_tasks. The row is
// the durable side of the task: live pause/cancel flags belong to the
// in-process Extractor (see registry.go), while counters and status survive
// restarts here.

var ErrTaskNotFound = errors.New("task not found")

// Task lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

// Task is one extraction run over a set of uploaded files.
type Task struct {
	ID             string    `json:"task_id"`
	ProjectID      int64     `json:"project_id"`
	Status         string    `json:"status"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	TotalRows      int       `json:"total_rows"`
	ProcessedRows  int       `json:"processed_rows"`
	SuccessCount   int       `json:"success_count"`
	ErrorCount     int       `json:"error_count"`
	BatchNumber    string    `json:"batch_number"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// TaskStore persists tasks in the processing_tasks table.
type TaskStore struct {
	db *storage.DB
}

func NewTaskStore(db *storage.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskSelect = `
	SELECT id, project_id, status, total_files, processed_files, total_rows,
	       processed_rows, success_count, error_count, batch_number,
	       error_message, created_at, updated_at
	FROM processing_tasks`

// Create inserts a new task row.
func (s *TaskStore) Create(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO processing_tasks
		    (id, project_id, status, total_files, processed_files, total_rows,
		     processed_rows, success_count, error_count, batch_number, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Status, t.TotalFiles, t.ProcessedFiles, t.TotalRows,
		t.ProcessedRows, t.SuccessCount, t.ErrorCount, t.BatchNumber, t.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get returns a task by id, or nil when absent.
func (s *TaskStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRow(ctx, taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

// List returns a page of a project's tasks, newest first, optionally
// filtered by status, plus the total matching count.
func (s *TaskStore) List(ctx context.Context, projectID int64, status string, limit, offset int) ([]Task, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	where := ` WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM processing_tasks`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	rows, err := s.db.Query(ctx, taskSelect+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

// UpdateStatus moves a task to a new lifecycle state.
func (s *TaskStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.Exec(ctx, `
		UPDATE processing_tasks SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetError marks a task failed and records the cause.
func (s *TaskStore) SetError(ctx context.Context, id, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE processing_tasks
		SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, StatusError, message, id)
	if err != nil {
		return fmt.Errorf("failed to record task error: %w", err)
	}
	return nil
}

// UpdateCounters writes the running totals back to the row. Status is left
// alone so a concurrent pause is not clobbered by the worker loop.
func (s *TaskStore) UpdateCounters(ctx context.Context, t *Task) error {
	_, err := s.db.Exec(ctx, `
		UPDATE processing_tasks
		SET total_files = ?, processed_files = ?, total_rows = ?, processed_rows = ?,
		    success_count = ?, error_count = ?, batch_number = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		t.TotalFiles, t.ProcessedFiles, t.TotalRows, t.ProcessedRows,
		t.SuccessCount, t.ErrorCount, t.BatchNumber, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task counters: %w", err)
	}
	return nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Status, &t.TotalFiles, &t.ProcessedFiles,
		&t.TotalRows, &t.ProcessedRows, &t.SuccessCount, &t.ErrorCount,
		&t.BatchNumber, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}

func scanTaskRow(rows *sql.Rows) (*Task, error) {
	var t Task
	err := rows.Scan(&t.ID, &t.ProjectID, &t.Status, &t.TotalFiles, &t.ProcessedFiles,
		&t.TotalRows, &t.ProcessedRows, &t.SuccessCount, &t.ErrorCount,
		&t.BatchNumber, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}
