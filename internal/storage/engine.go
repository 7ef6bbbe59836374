package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// DYNAMIC RECORDS ENGINE
// =============================================================================
// Each project owns a physical table project_<id>_records whose data columns
// mirror the project's active field set. The engine issues all DDL for those
// tables, keeps a per-project column-name cache, and handles inserts, queries
// and deduplication against them.

var (
	// ErrNotInserted marks an insert discarded by a unique constraint.
	ErrNotInserted = errors.New("record not inserted")
	// ErrRecordNotFound marks operations on a missing record id.
	ErrRecordNotFound = errors.New("record not found")
)

// Record status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Dedup conflict strategies.
const (
	DedupSkip   = "skip"
	DedupUpdate = "update"
	DedupMerge  = "merge"
)

// metaColumns are fixed on every records table, in definition order.
var metaColumns = []string{
	"id", "raw_content", "source_file", "source_sheet", "row_number",
	"batch_number", "status", "error_message", "created_at", "updated_at",
}

var metaColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(metaColumns))
	for _, c := range metaColumns {
		m[c] = true
	}
	return m
}()

// IsReservedColumn reports whether name collides with a metadata column and
// therefore cannot be used as a field name.
func IsReservedColumn(name string) bool {
	return metaColumnSet[name]
}

// FieldColumn is one data column of a records table.
type FieldColumn struct {
	Name string
	Type string
}

// columnType derives the physical column type from a logical field type.
func columnType(fieldType string) string {
	if fieldType == "number" {
		return "INTEGER"
	}
	return "TEXT"
}

// RecordMeta is the provenance block stored alongside the field values.
type RecordMeta struct {
	RawContent   string
	SourceFile   string
	SourceSheet  string
	RowNumber    int
	BatchNumber  string
	Status       string
	ErrorMessage string
}

// DedupPolicy is a project's deduplication configuration.
type DedupPolicy struct {
	Enabled  bool
	Fields   []string
	Strategy string
}

// DupMatch reports an existing row that a candidate record collides with.
type DupMatch struct {
	ID       int64
	Strategy string
}

// Engine manages the per-project record tables over the shared pool.
type Engine struct {
	db *DB

	mu      sync.RWMutex
	columns map[int64][]string
}

func NewEngine(db *DB) *Engine {
	return &Engine{db: db, columns: make(map[int64][]string)}
}

// TableName returns the physical table for a project.
func (e *Engine) TableName(projectID int64) string {
	return fmt.Sprintf("project_%d_records", projectID)
}

// ===== COLUMN CACHE =====

// Columns returns the table's column names, cached per project. Inserts and
// updates filter their keys through this list so unknown columns are dropped
// instead of raising.
func (e *Engine) Columns(ctx context.Context, projectID int64) ([]string, error) {
	e.mu.RLock()
	cols, ok := e.columns[projectID]
	e.mu.RUnlock()
	if ok {
		return cols, nil
	}

	cols, err := e.db.TableColumns(ctx, e.TableName(projectID))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.columns[projectID] = cols
	e.mu.Unlock()
	return cols, nil
}

// InvalidateColumns drops the cached column list after any schema change.
func (e *Engine) InvalidateColumns(projectID int64) {
	e.mu.Lock()
	delete(e.columns, projectID)
	e.mu.Unlock()
}

func (e *Engine) columnSet(ctx context.Context, projectID int64) (map[string]bool, error) {
	cols, err := e.Columns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set, nil
}

// ===== TABLE LIFECYCLE =====

// EnsureTable creates the project's records table if it does not exist.
func (e *Engine) EnsureTable(ctx context.Context, projectID int64, fields []FieldColumn) error {
	exists, err := e.db.TableExists(ctx, e.TableName(projectID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return e.createTable(ctx, projectID, fields)
}

func (e *Engine) createTable(ctx context.Context, projectID int64, fields []FieldColumn) error {
	table := e.TableName(projectID)
	d := e.db.Dialect()

	var cols []string
	cols = append(cols, "id "+d.AutoIncrementPK())
	for _, f := range fields {
		cols = append(cols, QuoteIdent(f.Name)+" "+columnType(f.Type))
	}
	cols = append(cols,
		"raw_content TEXT NOT NULL DEFAULT ''",
		"source_file TEXT NOT NULL DEFAULT ''",
		"source_sheet TEXT NOT NULL DEFAULT ''",
		"row_number INTEGER NOT NULL DEFAULT 0",
		"batch_number TEXT NOT NULL DEFAULT ''",
		"status TEXT NOT NULL DEFAULT '"+StatusSuccess+"'",
		"error_message TEXT NOT NULL DEFAULT ''",
		"created_at "+d.TimestampType()+" NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"updated_at "+d.TimestampType()+" NOT NULL DEFAULT CURRENT_TIMESTAMP",
	)

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", QuoteIdent(table), strings.Join(cols, ",\n    "))
	if _, err := e.db.pool.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (batch_number)",
		QuoteIdent("idx_"+table+"_batch"), QuoteIdent(table))
	if _, err := e.db.pool.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create records index: %w", err)
	}

	e.InvalidateColumns(projectID)
	log.Printf("[Storage] created table %s with %d field columns", table, len(fields))
	return nil
}

// AddColumn appends a single data column. Existing rows get NULL.
func (e *Engine) AddColumn(ctx context.Context, projectID int64, field FieldColumn) error {
	table := e.TableName(projectID)
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		QuoteIdent(table), QuoteIdent(field.Name), columnType(field.Type))
	if _, err := e.db.pool.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s: %w", field.Name, err)
	}
	e.InvalidateColumns(projectID)
	return nil
}

// SyncTable reconciles the physical table with the active field set:
// missing table is created; new fields become ADD COLUMN; removed fields
// force a rebuild that preserves the intersection of old and new columns.
func (e *Engine) SyncTable(ctx context.Context, projectID int64, fields []FieldColumn) error {
	table := e.TableName(projectID)

	exists, err := e.db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return e.createTable(ctx, projectID, fields)
	}

	current, err := e.db.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	currentSet := make(map[string]bool, len(current))
	for _, c := range current {
		currentSet[c] = true
	}
	wantSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		wantSet[f.Name] = true
	}

	var toAdd []FieldColumn
	for _, f := range fields {
		if !currentSet[f.Name] {
			toAdd = append(toAdd, f)
		}
	}
	var toRemove []string
	for _, c := range current {
		if !metaColumnSet[c] && !wantSet[c] {
			toRemove = append(toRemove, c)
		}
	}

	if len(toRemove) == 0 {
		for _, f := range toAdd {
			if err := e.AddColumn(ctx, projectID, f); err != nil {
				return err
			}
		}
		return nil
	}

	return e.rebuildTable(ctx, projectID, fields, current)
}

// rebuildTable renames the table aside, creates a fresh one from the new
// field set and copies every column present in both. Row copy is best
// effort; individual failures are logged and skipped.
func (e *Engine) rebuildTable(ctx context.Context, projectID int64, fields []FieldColumn, oldColumns []string) error {
	table := e.TableName(projectID)
	tmp := table + "_migrate_tmp"

	if _, err := e.db.pool.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(tmp)); err != nil {
		return fmt.Errorf("drop stale migration table: %w", err)
	}
	if _, err := e.db.pool.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdent(table), QuoteIdent(tmp))); err != nil {
		return fmt.Errorf("rename for rebuild: %w", err)
	}
	e.InvalidateColumns(projectID)

	// The rename keeps the batch index attached under its old name; drop it
	// so createTable can recreate it on the fresh table.
	if _, err := e.db.pool.ExecContext(ctx,
		"DROP INDEX IF EXISTS "+QuoteIdent("idx_"+table+"_batch")); err != nil {
		return fmt.Errorf("drop stale index: %w", err)
	}

	if err := e.createTable(ctx, projectID, fields); err != nil {
		return err
	}

	newColumns, err := e.db.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	newSet := make(map[string]bool, len(newColumns))
	for _, c := range newColumns {
		newSet[c] = true
	}

	var shared []string
	for _, c := range oldColumns {
		if newSet[c] {
			shared = append(shared, c)
		}
	}

	copied, failed := 0, 0
	if len(shared) > 0 {
		quoted := make([]string, len(shared))
		for i, c := range shared {
			quoted[i] = QuoteIdent(c)
		}
		colList := strings.Join(quoted, ", ")

		// Materialize before inserting so no read cursor stays open across
		// the writes.
		oldRows, err := e.readAllRows(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, QuoteIdent(tmp)), len(shared))
		if err != nil {
			return fmt.Errorf("read rows for rebuild: %w", err)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(shared)), ", ")
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", QuoteIdent(table), colList, placeholders)

		for _, values := range oldRows {
			if _, err := e.db.Exec(ctx, insert, values...); err != nil {
				failed++
				continue
			}
			copied++
		}
	}

	if _, err := e.db.pool.ExecContext(ctx, "DROP TABLE "+QuoteIdent(tmp)); err != nil {
		return fmt.Errorf("drop migration table: %w", err)
	}

	if e.db.Dialect().IsPostgres() {
		// Copied ids bypass the sequence; move it past the max.
		fixup := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 1))",
			table, QuoteIdent(table))
		if _, err := e.db.pool.ExecContext(ctx, fixup); err != nil {
			return fmt.Errorf("reset id sequence: %w", err)
		}
	}

	e.InvalidateColumns(projectID)
	log.Printf("[Storage] rebuilt table %s: %d rows copied, %d skipped", table, copied, failed)
	return nil
}

// DropTable removes the project's records table entirely.
func (e *Engine) DropTable(ctx context.Context, projectID int64) error {
	table := e.TableName(projectID)
	if _, err := e.db.pool.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return fmt.Errorf("drop records table: %w", err)
	}
	e.InvalidateColumns(projectID)
	return nil
}

// ===== RECORD OPERATIONS =====

// InsertRecord writes the validated field values plus the metadata block.
// Keys not present as table columns are silently dropped. Returns
// ErrNotInserted when a unique constraint discards the row.
func (e *Engine) InsertRecord(ctx context.Context, projectID int64, values map[string]string, meta RecordMeta) (int64, error) {
	set, err := e.columnSet(ctx, projectID)
	if err != nil {
		return 0, err
	}

	names := filterColumns(values, set)

	var cols []string
	var args []any
	for _, name := range names {
		cols = append(cols, QuoteIdent(name))
		args = append(args, values[name])
	}
	for _, pair := range []struct {
		col string
		val any
	}{
		{"raw_content", meta.RawContent},
		{"source_file", meta.SourceFile},
		{"source_sheet", meta.SourceSheet},
		{"row_number", meta.RowNumber},
		{"batch_number", meta.BatchNumber},
		{"status", meta.Status},
		{"error_message", meta.ErrorMessage},
	} {
		cols = append(cols, pair.col)
		args = append(args, pair.val)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(e.TableName(projectID)), strings.Join(cols, ", "), placeholders)

	id, err := e.db.InsertID(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, ErrNotInserted
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// UpdateRecord overwrites the given field values on one record and stamps
// updated_at. Unknown keys are dropped; an empty update is a no-op.
func (e *Engine) UpdateRecord(ctx context.Context, projectID, recordID int64, values map[string]string) error {
	set, err := e.columnSet(ctx, projectID)
	if err != nil {
		return err
	}

	names := filterColumns(values, set)
	if len(names) == 0 {
		return nil
	}

	var parts []string
	var args []any
	for _, name := range names {
		parts = append(parts, QuoteIdent(name)+" = ?")
		args = append(args, values[name])
	}
	parts = append(parts, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, recordID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		QuoteIdent(e.TableName(projectID)), strings.Join(parts, ", "))

	res, err := e.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteRecord removes one record by id.
func (e *Engine) DeleteRecord(ctx context.Context, projectID, recordID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", QuoteIdent(e.TableName(projectID)))
	res, err := e.db.Exec(ctx, query, recordID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetRecord fetches one record by id, nil when absent.
func (e *Engine) GetRecord(ctx context.Context, projectID, recordID int64) (map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", QuoteIdent(e.TableName(projectID)))
	rows, err := e.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRowMap(rows)
}

// QueryOptions filters and paginates a record query.
type QueryOptions struct {
	Page        int
	PageSize    int
	BatchNumber string
	Status      string
	Search      string
	OrderBy     string
	Order       string
}

// RecordPage is one page of query results plus the unpaginated total.
type RecordPage struct {
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Records  []map[string]any `json:"records"`
}

// QueryRecords returns a filtered, ordered page of records.
func (e *Engine) QueryRecords(ctx context.Context, projectID int64, opts QueryOptions) (*RecordPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 20
	}
	if opts.PageSize > 1000 {
		opts.PageSize = 1000
	}

	set, err := e.columnSet(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if opts.BatchNumber != "" {
		where = append(where, "batch_number = ?")
		args = append(args, opts.BatchNumber)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Search != "" {
		where = append(where, "raw_content LIKE ?")
		args = append(args, "%"+opts.Search+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	table := QuoteIdent(e.TableName(projectID))

	var total int
	if err := e.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	orderBy := opts.OrderBy
	if orderBy == "" || !set[orderBy] {
		orderBy = "id"
	}
	dir := "ASC"
	if strings.EqualFold(opts.Order, "desc") {
		dir = "DESC"
	}

	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s %s LIMIT ? OFFSET ?",
		table, clause, QuoteIdent(orderBy), dir)
	pageArgs := append(append([]any{}, args...), opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := e.db.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]map[string]any, 0, opts.PageSize)
	for rows.Next() {
		rec, err := scanRowMap(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &RecordPage{Total: total, Page: opts.Page, PageSize: opts.PageSize, Records: records}, nil
}

// ===== DEDUPLICATION =====

// CheckDuplicate looks for an existing row agreeing with the candidate on
// every dedup field that has a value. Nil when dedup is off, no dedup field
// carries a value, or nothing matches.
func (e *Engine) CheckDuplicate(ctx context.Context, projectID int64, policy DedupPolicy, values map[string]string) (*DupMatch, error) {
	if !policy.Enabled || len(policy.Fields) == 0 {
		return nil, nil
	}

	set, err := e.columnSet(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	for _, f := range policy.Fields {
		v, ok := values[f]
		if !ok || strings.TrimSpace(v) == "" || !set[f] {
			continue
		}
		where = append(where, QuoteIdent(f)+" = ?")
		args = append(args, v)
	}
	if len(where) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s LIMIT 1",
		QuoteIdent(e.TableName(projectID)), strings.Join(where, " AND "))

	var id int64
	err = e.db.QueryRow(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	return &DupMatch{ID: id, Strategy: policy.Strategy}, nil
}

// ApplyDedup resolves a duplicate per the project strategy: skip leaves the
// existing row alone, update overwrites it with the new values, merge
// overwrites only values the new record actually carries.
func (e *Engine) ApplyDedup(ctx context.Context, projectID int64, match *DupMatch, values map[string]string) error {
	switch match.Strategy {
	case DedupUpdate:
		return e.UpdateRecord(ctx, projectID, match.ID, values)
	case DedupMerge:
		merged := make(map[string]string, len(values))
		for k, v := range values {
			if strings.TrimSpace(v) != "" {
				merged[k] = v
			}
		}
		if len(merged) == 0 {
			return nil
		}
		return e.UpdateRecord(ctx, projectID, match.ID, merged)
	default: // skip
		return nil
	}
}

// ===== STATISTICS =====

// ProjectStats summarizes a project's ingested data.
type ProjectStats struct {
	TotalRecords int64      `json:"total_records"`
	SuccessCount int64      `json:"success_count"`
	ErrorCount   int64      `json:"error_count"`
	BatchCount   int64      `json:"batch_count"`
	LastBatchAt  *time.Time `json:"last_batch_at,omitempty"`
}

// Statistics counts the project's records and batches. A missing records
// table yields zero counts rather than an error.
func (e *Engine) Statistics(ctx context.Context, projectID int64) (*ProjectStats, error) {
	stats := &ProjectStats{}

	exists, err := e.db.TableExists(ctx, e.TableName(projectID))
	if err != nil {
		return nil, err
	}
	if exists {
		table := QuoteIdent(e.TableName(projectID))
		query := fmt.Sprintf(`SELECT COUNT(*),
    COALESCE(SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END), 0)
    FROM %s`, StatusSuccess, StatusError, table)
		if err := e.db.QueryRow(ctx, query).Scan(&stats.TotalRecords, &stats.SuccessCount, &stats.ErrorCount); err != nil {
			return nil, fmt.Errorf("record statistics: %w", err)
		}
	}

	err = e.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM batches WHERE project_id = ?`, projectID).
		Scan(&stats.BatchCount)
	if err != nil {
		return nil, fmt.Errorf("batch statistics: %w", err)
	}

	// Selected directly rather than via MAX() so the driver still sees the
	// column's declared type and returns a time value.
	var last time.Time
	err = e.db.QueryRow(ctx,
		`SELECT created_at FROM batches WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, projectID).
		Scan(&last)
	if err == nil {
		stats.LastBatchAt = &last
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("batch statistics: %w", err)
	}

	return stats, nil
}

// ===== HELPERS =====

// readAllRows collects a query's rows into memory.
func (e *Engine) readAllRows(ctx context.Context, query string, width int) ([][]any, error) {
	rows, err := e.db.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

// filterColumns returns the value keys that are real data columns, sorted
// for deterministic SQL.
func filterColumns(values map[string]string, set map[string]bool) []string {
	var names []string
	for name := range values {
		if set[name] && !metaColumnSet[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// scanRowMap reads the current row into a column-keyed map. Byte slices
// become strings so the result marshals cleanly.
func scanRowMap(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	rec := make(map[string]any, len(cols))
	for i, col := range cols {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rec[col] = v
	}
	return rec, nil
}
