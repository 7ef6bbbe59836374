package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(url string) Settings {
	return Settings{
		APIURL:      url,
		ModelName:   "test-model",
		APIKey:      "test-key",
		Temperature: 0.1,
		MaxTokens:   500,
		Timeout:     5 * time.Minute,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
	}
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestAnalyzeColumnMapping(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		chatReply(t, w, "```json\n"+
			`{"header_row": 1, "column_mappings": {"0": "name", "1": "phone"}, "confidence": 0.92, "unmatched_columns": [2]}`+
			"\n```")
	}))
	defer srv.Close()

	c := NewHTTPClient(testSettings(srv.URL + "/v1")) // base URL form
	defer c.Close()

	mapping, err := c.AnalyzeColumnMapping(context.Background(),
		[][]string{{"姓名", "电话", "备注"}, {"张三", "13800138000", "x"}},
		[]FieldSpec{
			{Name: "name", Label: "姓名", Type: "text", Required: true},
			{Name: "phone", Label: "电话", Type: "phone"},
		})
	require.NoError(t, err)

	assert.Equal(t, 1, mapping.HeaderRow)
	assert.Equal(t, map[int]string{0: "name", 1: "phone"}, mapping.Mappings)
	assert.InDelta(t, 0.92, mapping.Confidence, 1e-9)
	assert.Equal(t, []int{2}, mapping.UnmatchedColumns)
	assert.Equal(t, 2, mapping.DataStartRow())

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "[row 1] 姓名 | 电话 | 备注")
}

func TestAnalyzeColumnMappingFullEndpointURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		chatReply(t, w, `{"header_row": 0, "column_mappings": {"0": "name"}}`)
	}))
	defer srv.Close()

	// Configured with the full path already appended.
	c := NewHTTPClient(testSettings(srv.URL + "/v1/chat/completions"))
	defer c.Close()

	mapping, err := c.AnalyzeColumnMapping(context.Background(),
		[][]string{{"a"}}, []FieldSpec{{Name: "name", Label: "Name", Type: "text"}})
	require.NoError(t, err)
	assert.Equal(t, 1, mapping.DataStartRow())
}

func TestAnalyzeColumnMappingProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key", "type": "auth_error"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(testSettings(srv.URL))
	defer c.Close()

	_, err := c.AnalyzeColumnMapping(context.Background(),
		[][]string{{"a"}}, []FieldSpec{{Name: "name", Label: "Name", Type: "text"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPICall)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestAnalyzeColumnMappingUnparseableReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "Sorry, I cannot help with that.")
	}))
	defer srv.Close()

	c := NewHTTPClient(testSettings(srv.URL))
	defer c.Close()

	_, err := c.AnalyzeColumnMapping(context.Background(),
		[][]string{{"a"}}, []FieldSpec{{Name: "name", Label: "Name", Type: "text"}})
	assert.ErrorIs(t, err, ErrMappingParse)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		chatReply(t, w, `{"header_row": 1, "column_mappings": {"0": "name"}, "confidence": 0.9}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(testSettings(srv.URL))
	defer c.Close()

	mapping, err := c.AnalyzeColumnMapping(context.Background(),
		[][]string{{"name"}}, []FieldSpec{{Name: "name", Label: "Name", Type: "text"}})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "name"}, mapping.Mappings)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 10, req.MaxTokens, "ping stays tiny")
		chatReply(t, w, "OK")
	}))
	defer srv.Close()

	c := NewHTTPClient(testSettings(srv.URL))
	defer c.Close()

	assert.NoError(t, c.TestConnection(context.Background()))
}

func TestSettingsDefaults(t *testing.T) {
	st := Settings{}.withDefaults()
	assert.Equal(t, 0.1, st.Temperature)
	assert.Equal(t, 2000, st.MaxTokens)
	assert.Equal(t, 120*time.Second, st.Timeout)
	assert.Equal(t, 3, st.MaxRetries)
	assert.Equal(t, time.Second, st.RetryDelay)

	// A timeout under the floor is raised to it.
	st = Settings{Timeout: 30 * time.Second}.withDefaults()
	assert.Equal(t, 120*time.Second, st.Timeout)
}

func TestNewSelectsProvider(t *testing.T) {
	c, err := New(context.Background(), testSettings("https://api.example.com/v1"))
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*HTTPClient)
	assert.True(t, ok, "http(s) endpoints use the OpenAI-compatible client")
}
