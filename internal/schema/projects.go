package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// PROJECT SERVICE
// =============================================================================

var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrProjectNameExists    = errors.New("project name already exists")
	ErrInvalidDedupStrategy = errors.New("invalid dedup strategy")
)

// ProjectService manages projects and owns their lifecycle: deleting a
// project also removes its field definitions and drops its records table.
type ProjectService struct {
	db     *storage.DB
	engine *storage.Engine
}

// NewProjectService creates a project service.
func NewProjectService(db *storage.DB, engine *storage.Engine) *ProjectService {
	return &ProjectService{db: db, engine: engine}
}

// CreateProjectRequest is the input for creating a project.
type CreateProjectRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	DedupEnabled  bool     `json:"dedup_enabled"`
	DedupFields   []string `json:"dedup_fields"`
	DedupStrategy string   `json:"dedup_strategy"`
}

// UpdateProjectRequest is the input for updating a project. Nil pointers
// leave the current value unchanged.
type UpdateProjectRequest struct {
	Name          *string   `json:"name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	DedupEnabled  *bool     `json:"dedup_enabled,omitempty"`
	DedupFields   *[]string `json:"dedup_fields,omitempty"`
	DedupStrategy *string   `json:"dedup_strategy,omitempty"`
}

// Create inserts a new project.
func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	strategy := req.DedupStrategy
	if strategy == "" {
		strategy = storage.DedupSkip
	}
	if !dedupStrategies[strategy] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDedupStrategy, strategy)
	}

	existing, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNameExists, name)
	}

	fieldsJSON, err := json.Marshal(orEmpty(req.DedupFields))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dedup fields: %w", err)
	}

	id, err := s.db.InsertID(ctx, `
		INSERT INTO projects (name, description, dedup_enabled, dedup_fields, dedup_strategy)
		VALUES (?, ?, ?, ?, ?)`,
		name, req.Description, req.DedupEnabled, string(fieldsJSON), strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	log.Printf("[Projects] Created project %d (%s)", id, name)
	return s.Get(ctx, id)
}

// Get returns a project by ID, or nil when it does not exist.
func (s *ProjectService) Get(ctx context.Context, id int64) (*Project, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, dedup_enabled, dedup_fields, dedup_strategy,
		       created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetByName returns a project by its unique name, or nil when absent.
func (s *ProjectService) GetByName(ctx context.Context, name string) (*Project, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, dedup_enabled, dedup_fields, dedup_strategy,
		       created_at, updated_at
		FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

// List returns all projects ordered by creation time.
func (s *ProjectService) List(ctx context.Context) ([]Project, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, dedup_enabled, dedup_fields, dedup_strategy,
		       created_at, updated_at
		FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// Update applies the non-nil fields of the request.
func (s *ProjectService) Update(ctx context.Context, id int64, req UpdateProjectRequest) (*Project, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrProjectNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("project name is required")
		}
		if name != current.Name {
			other, err := s.GetByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if other != nil {
				return nil, fmt.Errorf("%w: %s", ErrProjectNameExists, name)
			}
		}
		current.Name = name
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.DedupEnabled != nil {
		current.DedupEnabled = *req.DedupEnabled
	}
	if req.DedupFields != nil {
		current.DedupFields = orEmpty(*req.DedupFields)
	}
	if req.DedupStrategy != nil {
		if !dedupStrategies[*req.DedupStrategy] {
			return nil, fmt.Errorf("%w: %s", ErrInvalidDedupStrategy, *req.DedupStrategy)
		}
		current.DedupStrategy = *req.DedupStrategy
	}

	fieldsJSON, err := json.Marshal(orEmpty(current.DedupFields))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dedup fields: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE projects
		SET name = ?, description = ?, dedup_enabled = ?, dedup_fields = ?,
		    dedup_strategy = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		current.Name, current.Description, current.DedupEnabled,
		string(fieldsJSON), current.DedupStrategy, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes the project, its field definitions, its batches and tasks,
// and drops the records table.
func (s *ProjectService) Delete(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrProjectNotFound
	}

	if err := s.engine.DropTable(ctx, id); err != nil {
		return fmt.Errorf("failed to drop records table: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM project_fields WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete fields: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM batches WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete batches: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM processing_tasks WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	log.Printf("[Projects] Deleted project %d (%s)", id, current.Name)
	return nil
}

// scanProject scans a single-row query, mapping no-rows to (nil, nil).
func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var fieldsJSON string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DedupEnabled,
		&fieldsJSON, &p.DedupStrategy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.DedupFields); err != nil {
		p.DedupFields = nil
	}
	return &p, nil
}

func scanProjectRow(rows *sql.Rows) (*Project, error) {
	var p Project
	var fieldsJSON string
	err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.DedupEnabled,
		&fieldsJSON, &p.DedupStrategy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.DedupFields); err != nil {
		p.DedupFields = nil
	}
	return &p, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
