package schema

import (
	"time"

	"github.com/gridline/extractor/internal/datanorm"
	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================
// Projects own a set of typed field definitions; the active (non-deleted)
// fields of a project determine the columns of its dynamic records table.

// Dedup strategies a project may choose from.
var dedupStrategies = map[string]bool{
	storage.DedupSkip:   true,
	storage.DedupUpdate: true,
	storage.DedupMerge:  true,
}

// Project is a named schema owner.
type Project struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DedupEnabled  bool      `json:"dedup_enabled"`
	DedupFields   []string  `json:"dedup_fields"`
	DedupStrategy string    `json:"dedup_strategy"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DedupPolicy converts the project's settings into the storage engine's form.
func (p *Project) DedupPolicy() storage.DedupPolicy {
	return storage.DedupPolicy{
		Enabled:  p.DedupEnabled,
		Fields:   p.DedupFields,
		Strategy: p.DedupStrategy,
	}
}

// Field is one typed logical column of a project. Identity is
// (project, name); a soft-deleted row keeps the name reserved so that
// re-creating the field restores the original row and its data.
type Field struct {
	ID                int64      `json:"id"`
	ProjectID         int64      `json:"project_id"`
	Name              string     `json:"name"`
	Label             string     `json:"label"`
	Type              string     `json:"field_type"`
	Required          bool       `json:"is_required"`
	DedupKey          bool       `json:"is_dedup_key"`
	ValidationPattern string     `json:"validation_pattern,omitempty"`
	ExtractionHint    string     `json:"extraction_hint,omitempty"`
	DisplayOrder      int        `json:"display_order"`
	Deleted           bool       `json:"is_deleted"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Rule converts the field into a validation rule.
func (f *Field) Rule() datanorm.FieldRule {
	return datanorm.FieldRule{
		Name:     f.Name,
		Label:    f.Label,
		Type:     f.Type,
		Required: f.Required,
		Pattern:  f.ValidationPattern,
	}
}

// FieldRules converts a field list into validation rules, in order.
func FieldRules(fields []Field) []datanorm.FieldRule {
	rules := make([]datanorm.FieldRule, len(fields))
	for i := range fields {
		rules[i] = fields[i].Rule()
	}
	return rules
}

// FieldColumns converts a field list into the storage engine's column form.
func FieldColumns(fields []Field) []storage.FieldColumn {
	cols := make([]storage.FieldColumn, len(fields))
	for i, f := range fields {
		cols[i] = storage.FieldColumn{Name: f.Name, Type: f.Type}
	}
	return cols
}

// AIConfig is a stored model endpoint configuration. Exactly one config may
// be flagged as the default.
type AIConfig struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	APIURL      string    `json:"api_url"`
	ModelName   string    `json:"model_name"`
	APIKey      string    `json:"api_key,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
