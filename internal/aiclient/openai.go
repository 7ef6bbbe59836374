package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gridline/extractor/internal/pkg/httpretry"
)

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================
// Works against any endpoint speaking the chat completions protocol (OpenAI,
// DashScope, Moonshot, vLLM, ...). Transport retries with backoff live in
// httpretry; timeout, retry count and delay come from Settings.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	settings Settings
	base     *http.Client
	http     httpretry.HTTPDoer
}

// NewHTTPClient creates a client for the given endpoint settings.
func NewHTTPClient(st Settings) *HTTPClient {
	st = st.withDefaults()
	base := &http.Client{Timeout: st.Timeout}
	return &HTTPClient{
		settings: st,
		base:     base,
		http:     httpretry.NewRetryClient(base, st.MaxRetries, st.RetryDelay),
	}
}

// endpointURL normalizes the configured URL: both a bare base URL and a full
// chat completions URL are accepted.
func (c *HTTPClient) endpointURL() string {
	url := strings.TrimRight(c.settings.APIURL, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		return url
	}
	return url + "/chat/completions"
}

// callAPI sends one prompt and returns the model's text reply.
func (c *HTTPClient) callAPI(ctx context.Context, prompt string, maxTokens int) (string, error) {
	request := chatRequest{
		Model: c.settings.ModelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.settings.Temperature,
		MaxTokens:   maxTokens,
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: unexpected response (status %d): %s", ErrAPICall, resp.StatusCode, truncate(string(body), 300))
	}
	if response.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPICall, response.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrAPICall, resp.StatusCode, truncate(string(body), 300))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrAPICall)
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// AnalyzeColumnMapping runs the single per-sheet call and parses the artifact.
func (c *HTTPClient) AnalyzeColumnMapping(ctx context.Context, sampleRows [][]string, fields []FieldSpec) (*ColumnMapping, error) {
	prompt := buildMappingPrompt(sampleRows, fields)

	reply, err := c.callAPI(ctx, prompt, c.settings.MaxTokens)
	if err != nil {
		return nil, err
	}

	mapping, err := parseMapping(reply)
	if err != nil {
		return nil, err
	}

	log.Printf("[AIClient] mapped %d columns (header row %d, confidence %.2f)",
		len(mapping.Mappings), mapping.HeaderRow, mapping.Confidence)
	return mapping, nil
}

// TestConnection sends a minimal ping and checks that anything comes back.
func (c *HTTPClient) TestConnection(ctx context.Context) error {
	reply, err := c.callAPI(ctx, "Reply with OK.", 10)
	if err != nil {
		return err
	}
	if reply == "" {
		return fmt.Errorf("%w: empty reply", ErrAPICall)
	}
	return nil
}

// Close releases idle transport connections.
func (c *HTTPClient) Close() error {
	c.base.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
