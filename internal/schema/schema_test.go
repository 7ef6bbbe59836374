package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline/extractor/internal/config"
	"github.com/gridline/extractor/internal/storage"
)

type testEnv struct {
	db       *storage.DB
	engine   *storage.Engine
	projects *ProjectService
	fields   *FieldService
	configs  *AIConfigService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.Open(config.DatabaseConfig{
		Driver:          storage.DriverSQLite,
		DSN:             filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureCoreSchema(context.Background()))

	engine := storage.NewEngine(db)
	return &testEnv{
		db:       db,
		engine:   engine,
		projects: NewProjectService(db, engine),
		fields:   NewFieldService(db, engine),
		configs:  NewAIConfigService(db),
	}
}

func (env *testEnv) createProject(t *testing.T, name string) *Project {
	t.Helper()
	p, err := env.projects.Create(context.Background(), CreateProjectRequest{Name: name})
	require.NoError(t, err)
	return p
}

func TestProjectCRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.projects.Create(ctx, CreateProjectRequest{
		Name:          "customers",
		Description:   "customer imports",
		DedupEnabled:  true,
		DedupFields:   []string{"phone"},
		DedupStrategy: storage.DedupMerge,
	})
	require.NoError(t, err)
	assert.Equal(t, "customers", p.Name)
	assert.True(t, p.DedupEnabled)
	assert.Equal(t, []string{"phone"}, p.DedupFields)
	assert.Equal(t, storage.DedupMerge, p.DedupStrategy)

	// Duplicate name is rejected.
	_, err = env.projects.Create(ctx, CreateProjectRequest{Name: "customers"})
	assert.ErrorIs(t, err, ErrProjectNameExists)

	byName, err := env.projects.GetByName(ctx, "customers")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, p.ID, byName.ID)

	missing, err := env.projects.Get(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	newName := "clients"
	enabled := false
	updated, err := env.projects.Update(ctx, p.ID, UpdateProjectRequest{
		Name:         &newName,
		DedupEnabled: &enabled,
	})
	require.NoError(t, err)
	assert.Equal(t, "clients", updated.Name)
	assert.False(t, updated.DedupEnabled)
	assert.Equal(t, []string{"phone"}, updated.DedupFields, "untouched fields survive")

	env.createProject(t, "second")
	list, err := env.projects.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestProjectDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "orders")

	_, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "phone", Type: "phone"})
	require.NoError(t, err)
	require.NoError(t, env.engine.EnsureTable(ctx, p.ID, []storage.FieldColumn{{Name: "phone", Type: "phone"}}))

	require.NoError(t, env.projects.Delete(ctx, p.ID))

	gone, err := env.projects.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	fields, err := env.fields.ListAll(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, fields)

	exists, err := env.db.TableExists(ctx, env.engine.TableName(p.ID))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, env.projects.Delete(ctx, p.ID), ErrProjectNotFound)
}

func TestFieldCreateAssignsOrderAndColumn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "leads")

	f1, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "name", Label: "姓名", Type: "text"})
	require.NoError(t, err)
	assert.Equal(t, 1, f1.DisplayOrder)

	// Materialize the table, then add another field; the column must appear.
	active, err := env.fields.ListActive(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, env.engine.EnsureTable(ctx, p.ID, FieldColumns(active)))

	f2, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "phone", Type: "phone", Required: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f2.DisplayOrder)

	cols, err := env.db.TableColumns(ctx, env.engine.TableName(p.ID))
	require.NoError(t, err)
	assert.Contains(t, cols, "phone")

	// Duplicate active name is rejected.
	_, err = env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "phone", Type: "text"})
	assert.ErrorIs(t, err, ErrFieldNameExists)
}

func TestFieldNameValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "leads")

	for _, name := range []string{"", "Name", "1name", "na-me", "na me"} {
		_, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: name, Type: "text"})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}

	_, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "batch_number", Type: "text"})
	assert.ErrorIs(t, err, ErrReservedName)

	_, err = env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "age", Type: "integer"})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestFieldSoftDeleteAndRestoreViaCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "leads")

	f, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "email", Label: "Email", Type: "email"})
	require.NoError(t, err)

	active, err := env.fields.ListActive(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, env.engine.EnsureTable(ctx, p.ID, FieldColumns(active)))

	// Park a value in the column so we can prove it survives.
	_, err = env.engine.InsertRecord(ctx, p.ID,
		map[string]string{"email": "a@b.com"},
		storage.RecordMeta{Status: storage.StatusSuccess})
	require.NoError(t, err)

	require.NoError(t, env.fields.Delete(ctx, f.ID))

	listed, err := env.fields.ListActive(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Re-creating the same name restores the original row in place.
	restored, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{
		Name: "email", Label: "Primary Email", Type: "email", Required: true,
	})
	require.NoError(t, err)
	assert.Equal(t, f.ID, restored.ID, "restore keeps the original id")
	assert.Equal(t, "Primary Email", restored.Label)
	assert.True(t, restored.Required)
	assert.False(t, restored.Deleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, f.DisplayOrder, restored.DisplayOrder)

	rec, err := env.engine.QueryRecords(ctx, p.ID, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rec.Records, 1)
	assert.Equal(t, "a@b.com", rec.Records[0]["email"], "column data survives delete/recreate")
}

func TestFieldRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "leads")

	f, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "city", Type: "text"})
	require.NoError(t, err)

	_, err = env.fields.Restore(ctx, f.ID)
	assert.ErrorIs(t, err, ErrFieldNotDeleted)

	require.NoError(t, env.fields.Delete(ctx, f.ID))

	restored, err := env.fields.Restore(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.Equal(t, "city", restored.Name)

	_, err = env.fields.Restore(ctx, 9999)
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestFieldRenameSyncsTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProject(t, "leads")

	f, err := env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "tel", Type: "phone"})
	require.NoError(t, err)
	_, err = env.fields.Create(ctx, p.ID, CreateFieldRequest{Name: "name", Type: "text"})
	require.NoError(t, err)

	active, err := env.fields.ListActive(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, env.engine.EnsureTable(ctx, p.ID, FieldColumns(active)))

	newName := "phone"
	updated, err := env.fields.Update(ctx, f.ID, UpdateFieldRequest{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "phone", updated.Name)

	cols, err := env.db.TableColumns(ctx, env.engine.TableName(p.ID))
	require.NoError(t, err)
	assert.Contains(t, cols, "phone")
	assert.NotContains(t, cols, "tel")
	assert.Contains(t, cols, "name", "unrelated columns survive the rebuild")
}

func TestAIConfigDefaultLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.configs.GetDefault(ctx)
	assert.ErrorIs(t, err, ErrNoDefaultConfig)

	first, err := env.configs.Create(ctx, CreateAIConfigRequest{
		Name: "primary", APIURL: "https://api.example.com/v1/chat/completions", ModelName: "qwen-max",
	})
	require.NoError(t, err)
	assert.True(t, first.IsDefault, "first config becomes default")
	assert.Equal(t, 0.1, first.Temperature)
	assert.Equal(t, 2000, first.MaxTokens)

	second, err := env.configs.Create(ctx, CreateAIConfigRequest{
		Name: "backup", APIURL: "https://backup.example.com", ModelName: "glm-4", Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	require.NoError(t, env.configs.SetDefault(ctx, second.ID))

	def, err := env.configs.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	first, err = env.configs.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, first.IsDefault, "previous default is cleared")

	list, err := env.configs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "default sorts first")

	require.NoError(t, env.configs.Delete(ctx, second.ID))
	_, err = env.configs.GetDefault(ctx)
	assert.ErrorIs(t, err, ErrNoDefaultConfig)

	assert.ErrorIs(t, env.configs.Delete(ctx, second.ID), ErrConfigNotFound)
}
