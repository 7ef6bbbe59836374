package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gridline/extractor/internal/aiclient"
	"github.com/gridline/extractor/internal/archive"
	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/schema"
	"github.com/gridline/extractor/internal/storage"
	"github.com/gridline/extractor/internal/worker"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// stubClient is a canned model client for API-level tests.
type stubClient struct {
	mapping *aiclient.ColumnMapping
}

func (c stubClient) AnalyzeColumnMapping(ctx context.Context, sampleRows [][]string, fields []aiclient.FieldSpec) (*aiclient.ColumnMapping, error) {
	return c.mapping, nil
}
func (c stubClient) TestConnection(ctx context.Context) error { return nil }
func (c stubClient) Close() error                             { return nil }

type apiRig struct {
	db      *storage.DB
	engine  *storage.Engine
	service *worker.Service
	handler http.Handler
	uploads string
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(config.DatabaseConfig{
		Driver:          storage.DriverSQLite,
		DSN:             filepath.Join(t.TempDir(), "api_test.db"),
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureCoreSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	engine := storage.NewEngine(db)
	archiver, err := archive.New(ctx, filepath.Join(t.TempDir(), "history"), config.ArchiveConfig{})
	if err != nil {
		t.Fatalf("archiver: %v", err)
	}
	events := progress.NewBroadcaster()
	snapshots := progress.NewStore(nil)

	aiDefaults := config.AIConfig{
		APIURL:            "http://localhost:9999/v1/chat/completions",
		ModelName:         "test-model",
		TimeoutSeconds:    30,
		MaxRetries:        1,
		RetryDelaySeconds: 1,
	}
	service := worker.NewService(db, engine, archiver, events, snapshots, aiDefaults)
	service.SetClientFactory(func(ctx context.Context, st aiclient.Settings) (aiclient.Client, error) {
		return stubClient{mapping: &aiclient.ColumnMapping{
			HeaderRow:  1,
			Mappings:   map[int]string{0: "name", 1: "phone", 2: "email"},
			Confidence: 0.9,
		}}, nil
	})

	uploads := filepath.Join(t.TempDir(), "uploads")
	handlers := NewHandlers(db, engine, service, events, snapshots, nil, uploads, aiDefaults)

	return &apiRig{
		db:      db,
		engine:  engine,
		service: service,
		handler: NewServer(handlers).Handler(),
		uploads: uploads,
	}
}

// do runs one JSON request through the router.
func (rig *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
}

func (rig *apiRig) createProject(t *testing.T, req schema.CreateProjectRequest) schema.Project {
	t.Helper()
	rec := rig.do(t, "POST", "/api/projects", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: %d %s", rec.Code, rec.Body.String())
	}
	var p schema.Project
	decode(t, rec, &p)
	return p
}

func (rig *apiRig) createField(t *testing.T, projectID int64, req schema.CreateFieldRequest) schema.Field {
	t.Helper()
	rec := rig.do(t, "POST", fmt.Sprintf("/api/projects/%d/fields", projectID), req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create field: %d %s", rec.Code, rec.Body.String())
	}
	var f schema.Field
	decode(t, rec, &f)
	return f
}

// uploadWorkbook stages an in-memory xlsx through the upload endpoint.
func (rig *apiRig) uploadWorkbook(t *testing.T, name string, rows [][]string) UploadedFile {
	t.Helper()

	f := excelize.NewFile()
	for r, row := range rows {
		for c, val := range row {
			if val == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue("Sheet1", cell, val); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialize workbook: %v", err)
	}
	f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(buf.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var out UploadedFile
	decode(t, rec, &out)
	return out
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	var status HealthStatus
	decode(t, rec, &status)
	if status.Status != "healthy" {
		t.Errorf("status = %q", status.Status)
	}
	if status.Checks["database"].Status != "up" {
		t.Errorf("database check: %+v", status.Checks["database"])
	}
	if status.Checks["redis"].Status != "not_configured" {
		t.Errorf("redis check: %+v", status.Checks["redis"])
	}
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestProjectLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	created := rig.createProject(t, schema.CreateProjectRequest{
		Name:        "customers",
		Description: "customer imports",
	})
	if created.ID == 0 || created.Name != "customers" {
		t.Fatalf("created project: %+v", created)
	}

	// Duplicate names conflict.
	rec := rig.do(t, "POST", "/api/projects", schema.CreateProjectRequest{Name: "customers"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create: %d %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	// Update flips dedup settings.
	enabled := true
	fields := []string{"phone"}
	strategy := storage.DedupSkip
	rec = rig.do(t, "PUT", fmt.Sprintf("/api/projects/%d", created.ID), schema.UpdateProjectRequest{
		DedupEnabled:  &enabled,
		DedupFields:   &fields,
		DedupStrategy: &strategy,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var updated schema.Project
	decode(t, rec, &updated)
	if !updated.DedupEnabled || updated.DedupStrategy != storage.DedupSkip {
		t.Errorf("updated project: %+v", updated)
	}

	rec = rig.do(t, "GET", "/api/projects", nil)
	var list struct {
		Projects []schema.Project `json:"projects"`
		Total    int              `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || len(list.Projects) != 1 {
		t.Errorf("list: %+v", list)
	}

	rec = rig.do(t, "DELETE", fmt.Sprintf("/api/projects/%d", created.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d", created.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}

	rec = rig.do(t, "GET", "/api/projects/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id: %d", rec.Code)
	}
}

// =============================================================================
// FIELDS
// =============================================================================

func TestFieldLifecycle(t *testing.T) {
	rig := newAPIRig(t)
	project := rig.createProject(t, schema.CreateProjectRequest{Name: "contacts"})

	// A missing name is derived from the label.
	field := rig.createField(t, project.ID, schema.CreateFieldRequest{
		Label: "电话", Type: "phone", Required: true,
	})
	if field.Name != "phone" {
		t.Errorf("derived name = %q, want phone", field.Name)
	}

	rig.createField(t, project.ID, schema.CreateFieldRequest{
		Name: "email", Label: "邮箱", Type: "email",
	})

	label := "手机号"
	rec := rig.do(t, "PUT", fmt.Sprintf("/api/fields/%d", field.ID), schema.UpdateFieldRequest{Label: &label})
	if rec.Code != http.StatusOK {
		t.Fatalf("update field: %d %s", rec.Code, rec.Body.String())
	}
	var renamed schema.Field
	decode(t, rec, &renamed)
	if renamed.Label != "手机号" {
		t.Errorf("label = %q", renamed.Label)
	}

	// Soft delete hides the field from the active list only.
	rec = rig.do(t, "DELETE", fmt.Sprintf("/api/fields/%d", field.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete field: %d %s", rec.Code, rec.Body.String())
	}

	var list struct {
		Fields []schema.Field `json:"fields"`
		Total  int            `json:"total"`
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/fields", project.ID), nil)
	decode(t, rec, &list)
	if list.Total != 1 {
		t.Errorf("active fields after delete: %d", list.Total)
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/fields?include_deleted=true", project.ID), nil)
	decode(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("all fields after delete: %d", list.Total)
	}

	rec = rig.do(t, "POST", fmt.Sprintf("/api/fields/%d/restore", field.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d %s", rec.Code, rec.Body.String())
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/fields", project.ID), nil)
	decode(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("active fields after restore: %d", list.Total)
	}
}

func TestSuggestFieldName(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "GET", "/api/fields/suggest-name?label=%E9%82%AE%E7%AE%B1", nil) // 邮箱
	if rec.Code != http.StatusOK {
		t.Fatalf("suggest: %d %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decode(t, rec, &out)
	if out["name"] != "email" {
		t.Errorf("suggested name = %q, want email", out["name"])
	}

	rec = rig.do(t, "GET", "/api/fields/suggest-name?label=%E6%89%8B%E6%9C%BA&field_type=phone", nil) // 手机
	decode(t, rec, &out)
	if out["name"] != "phone" || out["validation_pattern"] == "" {
		t.Errorf("typed suggestion = %+v", out)
	}

	rec = rig.do(t, "GET", "/api/fields/suggest-name", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing label: %d", rec.Code)
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func seedRecordProject(t *testing.T, rig *apiRig) schema.Project {
	t.Helper()
	ctx := context.Background()

	project := rig.createProject(t, schema.CreateProjectRequest{Name: "seeded"})
	name := rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "name", Label: "姓名", Type: "text"})
	phone := rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "phone", Label: "电话", Type: "phone"})

	// The records table is normally created at run start; seed it directly.
	if err := rig.engine.EnsureTable(ctx, project.ID, schema.FieldColumns([]schema.Field{name, phone})); err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	good := storage.RecordMeta{
		RawContent:  "name:张三; phone:13812345678",
		SourceFile:  "seed.xlsx",
		SourceSheet: "Sheet1",
		RowNumber:   2,
		BatchNumber: "batch_20240101_0001",
		Status:      storage.StatusSuccess,
	}
	if _, err := rig.engine.InsertRecord(ctx, project.ID,
		map[string]string{"name": "张三", "phone": "13812345678"}, good); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	bad := storage.RecordMeta{
		SourceFile:   "seed.xlsx",
		SourceSheet:  "Sheet1",
		RowNumber:    3,
		BatchNumber:  "batch_20240101_0001",
		Status:       storage.StatusError,
		ErrorMessage: "电话: format",
		RawContent:   "name:李四; phone:bogus",
	}
	if _, err := rig.engine.InsertRecord(ctx, project.ID, nil, bad); err != nil {
		t.Fatalf("seed error record: %v", err)
	}
	return project
}

func TestRecordEndpoints(t *testing.T) {
	rig := newAPIRig(t)
	project := seedRecordProject(t, rig)

	var page storage.RecordPage
	rec := rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/records", project.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &page)
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}

	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/records?status=error", project.ID), nil)
	decode(t, rec, &page)
	if page.Total != 1 || len(page.Records) != 1 {
		t.Fatalf("error filter: %+v", page)
	}
	recordID := int64(page.Records[0]["id"].(float64))

	// Update writes the new value and stamps updated_at.
	rec = rig.do(t, "PUT", fmt.Sprintf("/api/records/%d/%d", project.ID, recordID),
		map[string]string{"phone": "13900000000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update record: %d %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	decode(t, rec, &updated)
	if updated["phone"] != "13900000000" {
		t.Errorf("updated record: %+v", updated)
	}

	rec = rig.do(t, "PUT", fmt.Sprintf("/api/records/%d/99999", project.ID),
		map[string]string{"phone": "1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing record: %d", rec.Code)
	}

	rec = rig.do(t, "DELETE", fmt.Sprintf("/api/records/%d/%d", project.ID, recordID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete record: %d %s", rec.Code, rec.Body.String())
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/records", project.ID), nil)
	decode(t, rec, &page)
	if page.Total != 1 {
		t.Errorf("total after delete = %d, want 1", page.Total)
	}
}

func TestExportRecords(t *testing.T) {
	rig := newAPIRig(t)
	project := seedRecordProject(t, rig)

	rec := rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/export?format=csv", project.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("content disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "13812345678") {
		t.Errorf("export body missing data: %q", rec.Body.String())
	}

	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/export?format=pdf", project.ID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad format: %d", rec.Code)
	}
}

func TestProjectStatistics(t *testing.T) {
	rig := newAPIRig(t)
	project := seedRecordProject(t, rig)

	rec := rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/statistics", project.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: %d %s", rec.Code, rec.Body.String())
	}
	var stats storage.ProjectStats
	decode(t, rec, &stats)
	if stats.TotalRecords != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("statistics: %+v", stats)
	}
}

// =============================================================================
// AI CONFIGS
// =============================================================================

func TestAIConfigLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, "POST", "/api/ai-configs", schema.CreateAIConfigRequest{
		Name:      "primary",
		APIURL:    "http://model-a.internal/v1",
		ModelName: "model-a",
		IsDefault: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var first schema.AIConfig
	decode(t, rec, &first)
	if !first.IsDefault {
		t.Errorf("first config not default: %+v", first)
	}

	rec = rig.do(t, "POST", "/api/ai-configs", schema.CreateAIConfigRequest{
		Name:      "secondary",
		APIURL:    "http://model-b.internal/v1",
		ModelName: "model-b",
	})
	var second schema.AIConfig
	decode(t, rec, &second)

	// Promoting the second demotes the first.
	rec = rig.do(t, "POST", fmt.Sprintf("/api/ai-configs/%d/default", second.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set default: %d %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Configs []schema.AIConfig `json:"configs"`
		Total   int               `json:"total"`
	}
	rec = rig.do(t, "GET", "/api/ai-configs", nil)
	decode(t, rec, &list)
	defaults := 0
	for _, c := range list.Configs {
		if c.IsDefault {
			defaults++
			if c.ID != second.ID {
				t.Errorf("wrong default: %+v", c)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("%d defaults, want exactly 1", defaults)
	}

	temp := 0.7
	rec = rig.do(t, "PUT", fmt.Sprintf("/api/ai-configs/%d", first.ID),
		schema.UpdateAIConfigRequest{Temperature: &temp})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	rec = rig.do(t, "DELETE", fmt.Sprintf("/api/ai-configs/%d", first.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAIConfigConnectionTest(t *testing.T) {
	rig := newAPIRig(t)

	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"OK"},"finish_reason":"stop"}]}`))
	}))
	defer fake.Close()

	rec := rig.do(t, "POST", "/api/ai-configs/test", TestAIConfigRequest{
		APIURL:    fake.URL,
		ModelName: "pingable",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("test: %d %s", rec.Code, rec.Body.String())
	}
	var out TestAIConfigResponse
	decode(t, rec, &out)
	if !out.Success {
		t.Errorf("connection test failed: %+v", out)
	}

	rec = rig.do(t, "POST", "/api/ai-configs/test", TestAIConfigRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty test request: %d", rec.Code)
	}
}

// =============================================================================
// FILES
// =============================================================================

func TestUploadAndPreview(t *testing.T) {
	rig := newAPIRig(t)

	staged := rig.uploadWorkbook(t, "客户名单.xlsx", [][]string{
		{"姓名", "电话", "邮箱"},
		{"张三", "13812345678", "zhang@example.com"},
		{"李四", "13987654321", "li@example.com"},
	})
	if staged.Size == 0 || !strings.HasSuffix(staged.FileName, "_客户名单.xlsx") {
		t.Fatalf("staged: %+v", staged)
	}

	rec := rig.do(t, "GET", "/api/files/"+staged.FileName+"/preview?rows=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: %d %s", rec.Code, rec.Body.String())
	}
	var preview struct {
		FileName string         `json:"file_name"`
		Sheets   []SheetPreview `json:"sheets"`
	}
	decode(t, rec, &preview)
	if len(preview.Sheets) != 1 {
		t.Fatalf("sheets: %+v", preview.Sheets)
	}
	sh := preview.Sheets[0]
	if sh.Name != "Sheet1" || sh.RowCount != 3 || sh.ColumnCount != 3 {
		t.Errorf("sheet info: %+v", sh)
	}
	if len(sh.Preview) != 2 || sh.Preview[0][0] != "姓名" {
		t.Errorf("preview rows: %+v", sh.Preview)
	}
	if sh.HeaderGuess == nil || sh.HeaderGuess.Row != 1 {
		t.Errorf("header guess: %+v", sh.HeaderGuess)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	rig := newAPIRig(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	fw.Write([]byte("plain text"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("txt upload: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPreviewMissingFile(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, "GET", "/api/files/nope.xlsx/preview", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preview: %d", rec.Code)
	}
}

// =============================================================================
// PROCESSING
// =============================================================================

func TestProcessingValidation(t *testing.T) {
	rig := newAPIRig(t)
	project := rig.createProject(t, schema.CreateProjectRequest{Name: "contacts"})
	rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "name", Label: "姓名", Type: "text"})

	rec := rig.do(t, "POST", "/api/processing/start", worker.StartRequest{ProjectID: project.ID})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no files: %d %s", rec.Code, rec.Body.String())
	}

	staged := rig.uploadWorkbook(t, "x.xlsx", [][]string{{"姓名"}, {"a"}})
	rec = rig.do(t, "POST", "/api/processing/start", worker.StartRequest{
		ProjectID: 99999,
		FilePaths: []string{staged.Path},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project: %d %s", rec.Code, rec.Body.String())
	}

	for _, action := range []string{"pause", "resume", "cancel"} {
		rec = rig.do(t, "POST", "/api/processing/ghost/"+action, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s unknown task: %d", action, rec.Code)
		}
	}
	rec = rig.do(t, "GET", "/api/processing/ghost/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status unknown task: %d", rec.Code)
	}
	rec = rig.do(t, "GET", "/api/processing/ghost/events", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("events unknown task: %d", rec.Code)
	}
}

func TestProcessingFlow(t *testing.T) {
	rig := newAPIRig(t)
	project := rig.createProject(t, schema.CreateProjectRequest{Name: "contacts"})
	rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "name", Label: "姓名", Type: "text", Required: true})
	rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "phone", Label: "电话", Type: "phone", Required: true})
	rig.createField(t, project.ID, schema.CreateFieldRequest{Name: "email", Label: "邮箱", Type: "email"})

	staged := rig.uploadWorkbook(t, "contacts.xlsx", [][]string{
		{"姓名", "电话", "邮箱"},
		{"张三", "138-1234-5678", "Zhang@Example.com"},
		{"李四", "13987654321", "li@example.com"},
	})

	srv := httptest.NewServer(rig.handler)
	defer srv.Close()

	rec := rig.do(t, "POST", "/api/processing/start", worker.StartRequest{
		ProjectID: project.ID,
		FilePaths: []string{staged.Path},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	var task worker.Task
	decode(t, rec, &task)
	if task.ID == "" || task.Status != worker.StatusProcessing {
		t.Fatalf("task: %+v", task)
	}

	// Follow the live stream to the terminal event.
	events := readEventStream(t, srv.URL+"/api/processing/"+task.ID+"/events")
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	terminal := events[len(events)-1]
	if terminal.Event != progress.EventCompleted {
		t.Fatalf("last event: %+v", terminal)
	}
	if terminal.Success == nil || !*terminal.Success {
		t.Errorf("terminal event: %+v", terminal)
	}

	rec = rig.do(t, "GET", "/api/processing/"+task.ID+"/status", nil)
	var final worker.Task
	decode(t, rec, &final)
	if final.Status != worker.StatusCompleted || final.SuccessCount != 2 {
		t.Errorf("final status: %+v", final)
	}

	// A second subscription after completion still gets a terminal event.
	replay := readEventStream(t, srv.URL+"/api/processing/"+task.ID+"/events")
	if len(replay) != 1 || replay[0].Event != progress.EventCompleted {
		t.Errorf("replay events: %+v", replay)
	}

	// Normalized rows landed in the records table.
	var page storage.RecordPage
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/records?order_by=id&order=asc", project.ID), nil)
	decode(t, rec, &page)
	if page.Total != 2 {
		t.Fatalf("records: %+v", page)
	}
	if page.Records[0]["phone"] != "13812345678" || page.Records[0]["email"] != "zhang@example.com" {
		t.Errorf("normalized record: %+v", page.Records[0])
	}

	var batches struct {
		Batches []worker.Batch `json:"batches"`
		Total   int            `json:"total"`
	}
	rec = rig.do(t, "GET", fmt.Sprintf("/api/projects/%d/batches", project.ID), nil)
	decode(t, rec, &batches)
	if batches.Total != 1 || batches.Batches[0].RecordCount != 2 {
		t.Errorf("batches: %+v", batches)
	}

	var tasks PaginatedResponse
	rec = rig.do(t, "GET", fmt.Sprintf("/api/processing/tasks?project_id=%d", project.ID), nil)
	decode(t, rec, &tasks)
	if tasks.Pagination.Total != 1 {
		t.Errorf("task list: %+v", tasks)
	}
}

// readEventStream reads a complete SSE stream; it returns when the handler
// closes the response after the terminal event.
func readEventStream(t *testing.T, url string) []progress.Event {
	t.Helper()

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("stream content type: %q", ct)
	}

	var events []progress.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt progress.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("stream read: %v", err)
	}
	return events
}
