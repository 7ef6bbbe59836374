package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// AI CONFIG SERVICE
// =============================================================================
// Stored model endpoint configurations. At most one row is flagged as the
// default; the extraction pipeline falls back to it when a task does not name
// a config explicitly.

var (
	ErrConfigNotFound  = errors.New("ai config not found")
	ErrNoDefaultConfig = errors.New("no default ai config")
)

// AIConfigService manages stored AI endpoint configurations.
type AIConfigService struct {
	db *storage.DB
}

// NewAIConfigService creates an AI config service.
func NewAIConfigService(db *storage.DB) *AIConfigService {
	return &AIConfigService{db: db}
}

// CreateAIConfigRequest is the input for creating a config.
type CreateAIConfigRequest struct {
	Name        string  `json:"name"`
	APIURL      string  `json:"api_url"`
	ModelName   string  `json:"model_name"`
	APIKey      string  `json:"api_key"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	IsDefault   bool    `json:"is_default"`
}

// UpdateAIConfigRequest is the input for updating a config. Nil pointers
// leave the current value unchanged.
type UpdateAIConfigRequest struct {
	Name        *string  `json:"name,omitempty"`
	APIURL      *string  `json:"api_url,omitempty"`
	ModelName   *string  `json:"model_name,omitempty"`
	APIKey      *string  `json:"api_key,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

const aiConfigSelect = `
	SELECT id, name, api_url, model_name, api_key, temperature, max_tokens,
	       is_default, created_at, updated_at
	FROM ai_configs`

// Create inserts a config. The first config ever created, or one explicitly
// flagged, becomes the default.
func (s *AIConfigService) Create(ctx context.Context, req CreateAIConfigRequest) (*AIConfig, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("config name is required")
	}
	if strings.TrimSpace(req.APIURL) == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if strings.TrimSpace(req.ModelName) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.1
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ai_configs`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count configs: %w", err)
	}
	makeDefault := req.IsDefault || count == 0

	id, err := s.db.InsertID(ctx, `
		INSERT INTO ai_configs (name, api_url, model_name, api_key, temperature, max_tokens, is_default)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)`,
		name, req.APIURL, req.ModelName, req.APIKey, temperature, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai config: %w", err)
	}

	if makeDefault {
		if err := s.SetDefault(ctx, id); err != nil {
			return nil, err
		}
	}

	log.Printf("[AIConfigs] Created config %d (%s)", id, name)
	return s.Get(ctx, id)
}

// Get returns one config by id, or nil when absent.
func (s *AIConfigService) Get(ctx context.Context, id int64) (*AIConfig, error) {
	row := s.db.QueryRow(ctx, aiConfigSelect+` WHERE id = ?`, id)
	return scanAIConfig(row)
}

// GetDefault returns the config flagged as default.
func (s *AIConfigService) GetDefault(ctx context.Context) (*AIConfig, error) {
	row := s.db.QueryRow(ctx, aiConfigSelect+` WHERE is_default = TRUE LIMIT 1`)
	cfg, err := scanAIConfig(row)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoDefaultConfig
	}
	return cfg, nil
}

// List returns all configs, default first.
func (s *AIConfigService) List(ctx context.Context) ([]AIConfig, error) {
	rows, err := s.db.Query(ctx, aiConfigSelect+` ORDER BY is_default DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai configs: %w", err)
	}
	defer rows.Close()

	var configs []AIConfig
	for rows.Next() {
		var c AIConfig
		err := rows.Scan(&c.ID, &c.Name, &c.APIURL, &c.ModelName, &c.APIKey,
			&c.Temperature, &c.MaxTokens, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ai config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// Update applies the non-nil fields of the request.
func (s *AIConfigService) Update(ctx context.Context, id int64, req UpdateAIConfigRequest) (*AIConfig, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrConfigNotFound
	}

	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		current.Name = strings.TrimSpace(*req.Name)
	}
	if req.APIURL != nil && strings.TrimSpace(*req.APIURL) != "" {
		current.APIURL = *req.APIURL
	}
	if req.ModelName != nil && strings.TrimSpace(*req.ModelName) != "" {
		current.ModelName = *req.ModelName
	}
	if req.APIKey != nil {
		current.APIKey = *req.APIKey
	}
	if req.Temperature != nil && *req.Temperature > 0 {
		current.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		current.MaxTokens = *req.MaxTokens
	}

	_, err = s.db.Exec(ctx, `
		UPDATE ai_configs
		SET name = ?, api_url = ?, model_name = ?, api_key = ?, temperature = ?,
		    max_tokens = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		current.Name, current.APIURL, current.ModelName, current.APIKey,
		current.Temperature, current.MaxTokens, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update ai config: %w", err)
	}
	return s.Get(ctx, id)
}

// SetDefault makes the given config the single default.
func (s *AIConfigService) SetDefault(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrConfigNotFound
	}

	if _, err := s.db.Exec(ctx, `UPDATE ai_configs SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
		return fmt.Errorf("failed to clear default: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE ai_configs SET is_default = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}
	return nil
}

// Delete removes a config. Deleting the default leaves no default; callers
// must pick a new one explicitly.
func (s *AIConfigService) Delete(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrConfigNotFound
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM ai_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete ai config: %w", err)
	}
	log.Printf("[AIConfigs] Deleted config %d (%s)", id, current.Name)
	return nil
}

func scanAIConfig(row *sql.Row) (*AIConfig, error) {
	var c AIConfig
	err := row.Scan(&c.ID, &c.Name, &c.APIURL, &c.ModelName, &c.APIKey,
		&c.Temperature, &c.MaxTokens, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ai config: %w", err)
	}
	return &c, nil
}
