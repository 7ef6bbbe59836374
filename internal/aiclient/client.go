package aiclient

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gridline/extractor/internal/config"
)

// =============================================================================
// LANGUAGE MODEL CLIENT
// =============================================================================
// One model call per sheet: given the first rows of a sheet and the project's
// field definitions, the model returns a column-index -> field-name mapping.
// Everything after that call runs locally. Two providers are supported: any
// OpenAI-compatible chat completions endpoint, and AWS Bedrock.

var (
	// ErrAPICall marks transport or provider failures.
	ErrAPICall = errors.New("ai api call failed")
	// ErrMappingParse marks a response the mapping parser could not decode.
	ErrMappingParse = errors.New("failed to parse column mapping")
)

// FieldSpec describes one project field the way the prompt needs it.
type FieldSpec struct {
	Name     string
	Label    string
	Type     string
	Required bool
	Hint     string
}

// ColumnMapping is the artifact of the per-sheet analysis call.
type ColumnMapping struct {
	HeaderRow        int            `json:"header_row"`      // 0 = no header
	Mappings         map[int]string `json:"column_mappings"` // column index -> field name
	Confidence       float64        `json:"confidence"`
	UnmatchedColumns []int          `json:"unmatched_columns"`
}

// Empty reports whether the model mapped no columns at all; the sheet is
// skipped in that case.
func (m *ColumnMapping) Empty() bool {
	return len(m.Mappings) == 0
}

// DataStartRow is the first 1-based row that holds data: the row after the
// header when one was found, row 1 otherwise.
func (m *ColumnMapping) DataStartRow() int {
	if m.HeaderRow > 0 {
		return m.HeaderRow + 1
	}
	return 1
}

// EventMappings renders the mapping with string keys for event payloads.
func (m *ColumnMapping) EventMappings() map[string]string {
	out := make(map[string]string, len(m.Mappings))
	for idx, name := range m.Mappings {
		out[strconv.Itoa(idx)] = name
	}
	return out
}

// Client is the provider-independent surface the coordinator uses.
type Client interface {
	// AnalyzeColumnMapping runs the single per-sheet model call.
	AnalyzeColumnMapping(ctx context.Context, sampleRows [][]string, fields []FieldSpec) (*ColumnMapping, error)
	// TestConnection issues a minimal ping to verify the endpoint answers.
	TestConnection(ctx context.Context) error
	// Close releases transport resources.
	Close() error
}

// Settings is the resolved endpoint configuration for one client instance.
// Values usually come from the ai section of the config file, optionally
// overridden by a stored ai_configs row.
type Settings struct {
	APIURL      string
	ModelName   string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// SettingsFromConfig builds Settings from the config file's ai section.
func SettingsFromConfig(ai config.AIConfig) Settings {
	return Settings{
		APIURL:      ai.APIURL,
		ModelName:   ai.ModelName,
		APIKey:      ai.APIKey(),
		Temperature: ai.Temperature,
		MaxTokens:   ai.MaxTokens,
		Timeout:     ai.Timeout(),
		MaxRetries:  ai.MaxRetries,
		RetryDelay:  ai.RetryDelay(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.Temperature <= 0 {
		s.Temperature = 0.1
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 2000
	}
	if s.Timeout < 120*time.Second {
		s.Timeout = 120 * time.Second
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = time.Second
	}
	return s
}

// bedrockScheme routes an endpoint to AWS Bedrock: "bedrock://us-east-1".
const bedrockScheme = "bedrock://"

// New creates a client for the configured endpoint. API URLs with the
// bedrock:// scheme (host = region) use AWS Bedrock; anything else is
// treated as an OpenAI-compatible chat completions endpoint.
func New(ctx context.Context, st Settings) (Client, error) {
	if strings.HasPrefix(st.APIURL, bedrockScheme) {
		return NewBedrockClient(ctx, st)
	}
	return NewHTTPClient(st), nil
}
