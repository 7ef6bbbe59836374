package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/gridline/extractor/internal/datanorm"
	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// FIELD SERVICE
// =============================================================================
// Field definitions are soft-deleted: a deleted field keeps its row (and the
// physical column keeps its data), and creating a field with the same name
// later restores that row under its original id instead of inserting a new
// one. Physical columns are only ever added or rebuilt, never silently
// renamed.

var (
	ErrFieldNotFound   = errors.New("field not found")
	ErrFieldNameExists = errors.New("field name already exists")
	ErrFieldNotDeleted = errors.New("field is not deleted")
	ErrInvalidName     = errors.New("invalid field name")
	ErrInvalidType     = errors.New("invalid field type")
	ErrReservedName    = errors.New("field name is reserved")
)

// fieldNameRe matches snake_case identifiers safe for use as column names.
var fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FieldService manages a project's field definitions and keeps the physical
// records table in step with them.
type FieldService struct {
	db     *storage.DB
	engine *storage.Engine
}

// NewFieldService creates a field service.
func NewFieldService(db *storage.DB, engine *storage.Engine) *FieldService {
	return &FieldService{db: db, engine: engine}
}

// CreateFieldRequest is the input for creating (or restoring) a field.
type CreateFieldRequest struct {
	Name              string `json:"name"`
	Label             string `json:"label"`
	Type              string `json:"field_type"`
	Required          bool   `json:"is_required"`
	DedupKey          bool   `json:"is_dedup_key"`
	ValidationPattern string `json:"validation_pattern"`
	ExtractionHint    string `json:"extraction_hint"`
}

// UpdateFieldRequest is the input for updating a field. Nil pointers leave
// the current value unchanged.
type UpdateFieldRequest struct {
	Name              *string `json:"name,omitempty"`
	Label             *string `json:"label,omitempty"`
	Type              *string `json:"field_type,omitempty"`
	Required          *bool   `json:"is_required,omitempty"`
	DedupKey          *bool   `json:"is_dedup_key,omitempty"`
	ValidationPattern *string `json:"validation_pattern,omitempty"`
	ExtractionHint    *string `json:"extraction_hint,omitempty"`
}

const fieldSelect = `
	SELECT id, project_id, name, label, field_type, is_required, is_dedup_key,
	       validation_pattern, extraction_hint, display_order, is_deleted,
	       deleted_at, created_at
	FROM project_fields`

// ListActive returns the project's live fields in display order. This is the
// field set that defines the records table and the extraction schema.
func (s *FieldService) ListActive(ctx context.Context, projectID int64) ([]Field, error) {
	return s.list(ctx, fieldSelect+`
		WHERE project_id = ? AND is_deleted = FALSE
		ORDER BY display_order, id`, projectID)
}

// ListAll returns every field of the project including soft-deleted ones.
func (s *FieldService) ListAll(ctx context.Context, projectID int64) ([]Field, error) {
	return s.list(ctx, fieldSelect+`
		WHERE project_id = ?
		ORDER BY display_order, id`, projectID)
}

func (s *FieldService) list(ctx context.Context, query string, args ...any) ([]Field, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, *f)
	}
	return fields, rows.Err()
}

// Get returns one field by id, or nil when absent.
func (s *FieldService) Get(ctx context.Context, id int64) (*Field, error) {
	rows, err := s.db.Query(ctx, fieldSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanField(rows)
}

// getByName finds a field by name within a project, deleted or not.
func (s *FieldService) getByName(ctx context.Context, projectID int64, name string) (*Field, error) {
	rows, err := s.db.Query(ctx, fieldSelect+` WHERE project_id = ? AND name = ?`, projectID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanField(rows)
}

// Create adds a field to the project. When a soft-deleted field with the
// same name exists it is restored in place: the old row keeps its id and
// display order, its attributes are overwritten with the request, and the
// physical column (with any surviving data) is reattached.
func (s *FieldService) Create(ctx context.Context, projectID int64, req CreateFieldRequest) (*Field, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateFieldName(name); err != nil {
		return nil, err
	}
	if !datanorm.ValidFieldType(req.Type) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, req.Type)
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = name
	}

	existing, err := s.getByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}

	if existing != nil && !existing.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrFieldNameExists, name)
	}

	if existing != nil {
		// Restore the deleted row in place, overwriting its attributes.
		_, err := s.db.Exec(ctx, `
			UPDATE project_fields
			SET label = ?, field_type = ?, is_required = ?, is_dedup_key = ?,
			    validation_pattern = ?, extraction_hint = ?,
			    is_deleted = FALSE, deleted_at = NULL
			WHERE id = ?`,
			label, req.Type, req.Required, req.DedupKey,
			req.ValidationPattern, req.ExtractionHint, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to restore field: %w", err)
		}
		if err := s.ensureColumn(ctx, projectID, name, req.Type); err != nil {
			return nil, err
		}
		log.Printf("[Fields] Restored field %s (project %d) via create", name, projectID)
		return s.Get(ctx, existing.ID)
	}

	var maxOrder sql.NullInt64
	err = s.db.QueryRow(ctx,
		`SELECT MAX(display_order) FROM project_fields WHERE project_id = ?`, projectID).
		Scan(&maxOrder)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to compute display order: %w", err)
	}

	id, err := s.db.InsertID(ctx, `
		INSERT INTO project_fields
			(project_id, name, label, field_type, is_required, is_dedup_key,
			 validation_pattern, extraction_hint, display_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, name, label, req.Type, req.Required, req.DedupKey,
		req.ValidationPattern, req.ExtractionHint, maxOrder.Int64+1)
	if err != nil {
		return nil, fmt.Errorf("failed to create field: %w", err)
	}

	if err := s.ensureColumn(ctx, projectID, name, req.Type); err != nil {
		return nil, err
	}

	log.Printf("[Fields] Created field %s (project %d)", name, projectID)
	return s.Get(ctx, id)
}

// Update applies the non-nil fields of the request. Renaming or retyping a
// field resynchronizes the records table against the active field set, which
// drops the old column's data on a rename.
func (s *FieldService) Update(ctx context.Context, id int64, req UpdateFieldRequest) (*Field, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrFieldNotFound
	}

	needsSync := false
	if req.Name != nil && *req.Name != current.Name {
		name := strings.TrimSpace(*req.Name)
		if err := validateFieldName(name); err != nil {
			return nil, err
		}
		other, err := s.getByName(ctx, current.ProjectID, name)
		if err != nil {
			return nil, err
		}
		if other != nil {
			return nil, fmt.Errorf("%w: %s", ErrFieldNameExists, name)
		}
		current.Name = name
		needsSync = true
	}
	if req.Type != nil && *req.Type != current.Type {
		if !datanorm.ValidFieldType(*req.Type) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidType, *req.Type)
		}
		current.Type = *req.Type
		needsSync = true
	}
	if req.Label != nil {
		current.Label = *req.Label
	}
	if req.Required != nil {
		current.Required = *req.Required
	}
	if req.DedupKey != nil {
		current.DedupKey = *req.DedupKey
	}
	if req.ValidationPattern != nil {
		current.ValidationPattern = *req.ValidationPattern
	}
	if req.ExtractionHint != nil {
		current.ExtractionHint = *req.ExtractionHint
	}

	_, err = s.db.Exec(ctx, `
		UPDATE project_fields
		SET name = ?, label = ?, field_type = ?, is_required = ?, is_dedup_key = ?,
		    validation_pattern = ?, extraction_hint = ?
		WHERE id = ?`,
		current.Name, current.Label, current.Type, current.Required,
		current.DedupKey, current.ValidationPattern, current.ExtractionHint, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update field: %w", err)
	}

	if needsSync {
		if err := s.syncTable(ctx, current.ProjectID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete soft-deletes a field. The physical column and its data stay in
// place so a later re-create can pick them back up.
func (s *FieldService) Delete(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrFieldNotFound
	}
	if current.Deleted {
		return nil
	}

	_, err = s.db.Exec(ctx, `
		UPDATE project_fields
		SET is_deleted = TRUE, deleted_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	log.Printf("[Fields] Soft-deleted field %s (project %d)", current.Name, current.ProjectID)
	return nil
}

// Restore brings a soft-deleted field back without changing its attributes.
func (s *FieldService) Restore(ctx context.Context, id int64) (*Field, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrFieldNotFound
	}
	if !current.Deleted {
		return nil, ErrFieldNotDeleted
	}

	// The name may have been taken by a new field while this one was deleted.
	other, err := s.getActiveByName(ctx, current.ProjectID, current.Name)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != id {
		return nil, fmt.Errorf("%w: %s", ErrFieldNameExists, current.Name)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE project_fields
		SET is_deleted = FALSE, deleted_at = NULL
		WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to restore field: %w", err)
	}

	if err := s.ensureColumn(ctx, current.ProjectID, current.Name, current.Type); err != nil {
		return nil, err
	}
	log.Printf("[Fields] Restored field %s (project %d)", current.Name, current.ProjectID)
	return s.Get(ctx, id)
}

func (s *FieldService) getActiveByName(ctx context.Context, projectID int64, name string) (*Field, error) {
	rows, err := s.db.Query(ctx, fieldSelect+`
		WHERE project_id = ? AND name = ? AND is_deleted = FALSE`, projectID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanField(rows)
}

// ensureColumn adds the field's column when the records table exists but
// does not carry it yet. A missing table is fine; it will be created with
// the full field set when processing starts.
func (s *FieldService) ensureColumn(ctx context.Context, projectID int64, name, fieldType string) error {
	table := s.engine.TableName(projectID)
	exists, err := s.db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	cols, err := s.db.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c == name {
			return nil
		}
	}
	return s.engine.AddColumn(ctx, projectID, storage.FieldColumn{Name: name, Type: fieldType})
}

// syncTable pushes the current active field set down to the records table.
func (s *FieldService) syncTable(ctx context.Context, projectID int64) error {
	exists, err := s.db.TableExists(ctx, s.engine.TableName(projectID))
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	active, err := s.ListActive(ctx, projectID)
	if err != nil {
		return err
	}
	return s.engine.SyncTable(ctx, projectID, FieldColumns(active))
}

func validateFieldName(name string) error {
	if name == "" || !fieldNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q (want snake_case)", ErrInvalidName, name)
	}
	if storage.IsReservedColumn(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return nil
}

func scanField(rows *sql.Rows) (*Field, error) {
	var f Field
	var deletedAt sql.NullTime
	err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Label, &f.Type,
		&f.Required, &f.DedupKey, &f.ValidationPattern, &f.ExtractionHint,
		&f.DisplayOrder, &f.Deleted, &deletedAt, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan field: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return &f, nil
}

// ValidationRuleForType returns the stock format pattern a field type is
// checked against when no custom pattern is set; empty for free-form types.
func ValidationRuleForType(fieldType string) string {
	return datanorm.TypePattern(fieldType)
}
