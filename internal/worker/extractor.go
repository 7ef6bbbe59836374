package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gridline/extractor/internal/aiclient"
	"github.com/gridline/extractor/internal/archive"
	"github.com/gridline/extractor/internal/datanorm"
	"github.com/gridline/extractor/internal/pkg/logger"
	"github.com/gridline/extractor/internal/progress"
	"github.com/gridline/extractor/internal/schema"
	"github.com/gridline/extractor/internal/sheet"
	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// EXTRACTION COORDINATOR
// =============================================================================
// An Extractor runs one task: a list of workbooks ingested into one project
// under one batch number. Each sheet is processed in two phases. Phase one
// makes a single model call over a sample of rows and yields the column
// mapping; phase two is a local loop that normalizes, validates, dedups and
// inserts every data row. No model call ever happens inside the row loop.
//
// Pause and cancel are cooperative flags checked at row boundaries, so a
// request takes effect after the in-flight row finishes, never mid-insert.

const (
	// mappingSampleRows is how many leading rows the model sees.
	mappingSampleRows = 10

	// pausePollInterval bounds how long a paused task keeps burning a
	// goroutine between flag checks.
	pausePollInterval = 100 * time.Millisecond
)

// ProcessingResult summarizes one finished run.
type ProcessingResult struct {
	TaskID         string `json:"task_id"`
	Success        bool   `json:"success"`
	BatchNumber    string `json:"batch_number"`
	TotalFiles     int    `json:"total_files"`
	ProcessedFiles int    `json:"processed_files"`
	TotalRows      int    `json:"total_rows"`
	ProcessedRows  int    `json:"processed_rows"`
	SuccessCount   int    `json:"success_count"`
	ErrorCount     int    `json:"error_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// sheetStats are the per-sheet totals reported on sheet_complete.
type sheetStats struct {
	totalRows int
	success   int
	errors    int
}

// Extractor coordinates one extraction task end to end.
type Extractor struct {
	project *schema.Project
	fields  []schema.Field
	rules   []datanorm.FieldRule
	specs   []aiclient.FieldSpec
	policy  storage.DedupPolicy

	ai        aiclient.Client
	engine    *storage.Engine
	tasks     *TaskStore
	batches   *BatchStore
	archiver  *archive.Archiver
	events    *progress.Broadcaster
	snapshots *progress.Store

	task      *Task
	startTime time.Time

	paused    atomic.Bool
	cancelled atomic.Bool
}

// NewExtractor builds the coordinator for one task. The task must carry at
// least its id and project id; counters start at zero.
func NewExtractor(
	task *Task,
	project *schema.Project,
	fields []schema.Field,
	ai aiclient.Client,
	engine *storage.Engine,
	tasks *TaskStore,
	batches *BatchStore,
	archiver *archive.Archiver,
	events *progress.Broadcaster,
	snapshots *progress.Store,
) *Extractor {
	specs := make([]aiclient.FieldSpec, len(fields))
	for i, f := range fields {
		specs[i] = aiclient.FieldSpec{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Hint:     f.ExtractionHint,
		}
	}
	return &Extractor{
		project:   project,
		fields:    fields,
		rules:     schema.FieldRules(fields),
		specs:     specs,
		policy:    project.DedupPolicy(),
		ai:        ai,
		engine:    engine,
		tasks:     tasks,
		batches:   batches,
		archiver:  archiver,
		events:    events,
		snapshots: snapshots,
		task:      task,
	}
}

// TaskID returns the id of the task this extractor runs.
func (e *Extractor) TaskID() string { return e.task.ID }

// Pause requests a cooperative pause. The row in flight completes first.
func (e *Extractor) Pause(ctx context.Context) error {
	e.paused.Store(true)
	log.Printf("[Extractor] task %s paused", e.task.ID)
	return e.tasks.UpdateStatus(ctx, e.task.ID, StatusPaused)
}

// Resume lifts a pause.
func (e *Extractor) Resume(ctx context.Context) error {
	e.paused.Store(false)
	log.Printf("[Extractor] task %s resumed", e.task.ID)
	return e.tasks.UpdateStatus(ctx, e.task.ID, StatusProcessing)
}

// Cancel requests a cooperative stop. Rows already ingested stay.
func (e *Extractor) Cancel(ctx context.Context) error {
	e.cancelled.Store(true)
	log.Printf("[Extractor] task %s cancelled", e.task.ID)
	return e.tasks.UpdateStatus(ctx, e.task.ID, StatusCancelled)
}

// ProcessFiles runs the task to completion. The returned error covers only
// setup failures (batch allocation, task persistence, table creation); row
// and file level problems are counted and reported through events instead.
func (e *Extractor) ProcessFiles(ctx context.Context, filePaths []string) (*ProcessingResult, error) {
	defer e.ai.Close()

	e.startTime = time.Now()
	e.task.TotalFiles = len(filePaths)
	e.task.Status = StatusProcessing

	batchNumber, err := e.batches.NextNumber(ctx, time.Now())
	if err != nil {
		return e.fail(ctx, err)
	}
	e.task.BatchNumber = batchNumber

	if err := e.persistTask(ctx); err != nil {
		return e.fail(ctx, err)
	}

	// Copy the inputs into the batch archive. A file that cannot be copied
	// is reported and skipped; the run goes on with the rest.
	archived := make([]string, 0, len(filePaths))
	for _, path := range filePaths {
		dest, err := e.archiver.ArchiveFile(ctx, batchNumber, path)
		if err != nil {
			e.emit(ctx, progress.Event{
				Event:       progress.EventError,
				CurrentFile: filepath.Base(path),
				Message:     fmt.Sprintf("failed to archive %s: %v", filepath.Base(path), err),
			})
			continue
		}
		archived = append(archived, dest)
	}

	batch := &Batch{BatchNumber: batchNumber, ProjectID: e.project.ID, FileCount: len(archived)}
	if err := e.batches.Create(ctx, batch); err != nil {
		return e.fail(ctx, err)
	}

	if err := e.engine.EnsureTable(ctx, e.project.ID, schema.FieldColumns(e.fields)); err != nil {
		return e.fail(ctx, err)
	}

	log.Printf("[Extractor] task %s: batch %s, %d file(s), project %d",
		e.task.ID, batchNumber, len(archived), e.project.ID)

	for _, path := range archived {
		if e.stopped(ctx) {
			break
		}
		if err := e.processFile(ctx, path); err != nil {
			e.task.ErrorCount++
			e.emit(ctx, progress.Event{
				Event:       progress.EventError,
				CurrentFile: filepath.Base(path),
				Message:     fmt.Sprintf("failed to process %s: %v", filepath.Base(path), err),
			})
		}
		e.task.ProcessedFiles++
		if err := e.tasks.UpdateCounters(ctx, e.task); err != nil {
			log.Printf("[Extractor] task %s: counter update failed: %v", e.task.ID, err)
		}
	}

	finalStatus := StatusCompleted
	if e.cancelled.Load() {
		finalStatus = StatusCancelled
	}
	e.task.Status = finalStatus
	if err := e.tasks.UpdateCounters(ctx, e.task); err != nil {
		log.Printf("[Extractor] task %s: final counter update failed: %v", e.task.ID, err)
	}
	if err := e.tasks.UpdateStatus(ctx, e.task.ID, finalStatus); err != nil {
		log.Printf("[Extractor] task %s: final status update failed: %v", e.task.ID, err)
	}
	if err := e.batches.UpdateRecordCount(ctx, batchNumber, e.task.SuccessCount); err != nil {
		log.Printf("[Extractor] task %s: batch record count update failed: %v", e.task.ID, err)
	}

	elapsed := time.Since(e.startTime)
	log.Printf("[Extractor] task %s %s: %d rows processed, %d success, %d errors in %.1fs",
		e.task.ID, finalStatus, e.task.ProcessedRows, e.task.SuccessCount,
		e.task.ErrorCount, elapsed.Seconds())

	return &ProcessingResult{
		TaskID:         e.task.ID,
		Success:        finalStatus == StatusCompleted,
		BatchNumber:    batchNumber,
		TotalFiles:     e.task.TotalFiles,
		ProcessedFiles: e.task.ProcessedFiles,
		TotalRows:      e.task.TotalRows,
		ProcessedRows:  e.task.ProcessedRows,
		SuccessCount:   e.task.SuccessCount,
		ErrorCount:     e.task.ErrorCount,
	}, nil
}

// persistTask creates the task row, or adopts one the caller already wrote.
func (e *Extractor) persistTask(ctx context.Context) error {
	existing, err := e.tasks.Get(ctx, e.task.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return e.tasks.Create(ctx, e.task)
	}
	if err := e.tasks.UpdateStatus(ctx, e.task.ID, StatusProcessing); err != nil {
		return err
	}
	return e.tasks.UpdateCounters(ctx, e.task)
}

// fail marks the task failed after a setup error and reports it.
func (e *Extractor) fail(ctx context.Context, err error) (*ProcessingResult, error) {
	log.Printf("[Extractor] task %s failed: %v", e.task.ID, err)
	if e.task.ID != "" {
		if dbErr := e.tasks.SetError(ctx, e.task.ID, err.Error()); dbErr != nil {
			log.Printf("[Extractor] task %s: error status update failed: %v", e.task.ID, dbErr)
		}
	}
	e.emit(ctx, progress.Event{Event: progress.EventError, Message: err.Error()})
	return &ProcessingResult{
		TaskID:       e.task.ID,
		Success:      false,
		BatchNumber:  e.task.BatchNumber,
		TotalFiles:   e.task.TotalFiles,
		ErrorMessage: err.Error(),
	}, err
}

// processFile walks every sheet of one workbook.
func (e *Extractor) processFile(ctx context.Context, path string) error {
	fileName := filepath.Base(path)
	e.emit(ctx, progress.Event{Event: progress.EventFileStart, CurrentFile: fileName})

	wb, err := sheet.Open(path)
	if err != nil {
		return err
	}
	defer wb.Close()

	var fileSuccess, fileErrors int
	for _, name := range wb.SheetNames() {
		if e.stopped(ctx) {
			break
		}
		stats := e.processSheet(ctx, wb, name, fileName)
		fileSuccess += stats.success
		fileErrors += stats.errors
	}

	e.emit(ctx, progress.Event{
		Event:       progress.EventFileComplete,
		CurrentFile: fileName,
		Message:     fmt.Sprintf("%s done: %d success, %d errors", fileName, fileSuccess, fileErrors),
	})
	return nil
}

// processSheet runs the two-phase pipeline on one sheet. Problems below the
// file level are absorbed here: they surface as events and error counts, and
// the stats of whatever was processed come back to the caller.
func (e *Extractor) processSheet(ctx context.Context, wb *sheet.Workbook, sheetName, fileName string) sheetStats {
	e.emit(ctx, progress.Event{
		Event:        progress.EventSheetStart,
		CurrentFile:  fileName,
		CurrentSheet: sheetName,
	})

	// Phase one: a single model call over the leading rows.
	sample, err := wb.PreviewRows(sheetName, mappingSampleRows)
	if err != nil {
		e.emit(ctx, progress.Event{
			Event:        progress.EventError,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      fmt.Sprintf("failed to read sheet %s: %v", sheetName, err),
		})
		return sheetStats{}
	}

	mapping, err := e.ai.AnalyzeColumnMapping(ctx, sample, e.specs)
	if err != nil {
		e.emit(ctx, progress.Event{
			Event:        progress.EventError,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      fmt.Sprintf("column mapping failed for sheet %s: %v", sheetName, err),
		})
		return sheetStats{}
	}

	headerRow := mapping.HeaderRow
	log.Printf("[Extractor] task %s: sheet %s mapped %d column(s), confidence %.2f (%s)",
		e.task.ID, sheetName, len(mapping.Mappings), mapping.Confidence,
		datanorm.ConfidenceTier(mapping.Confidence))
	e.emit(ctx, progress.Event{
		Event:            progress.EventColumnMapping,
		CurrentFile:      fileName,
		CurrentSheet:     sheetName,
		HeaderRow:        &headerRow,
		Mappings:         mapping.EventMappings(),
		Confidence:       mapping.Confidence,
		UnmatchedColumns: mapping.UnmatchedColumns,
	})

	if missing := datanorm.UncoveredRequired(e.rules, mapping.Mappings); len(missing) > 0 {
		e.emit(ctx, progress.Event{
			Event:        progress.EventWarning,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      "required fields not covered by mapping: " + strings.Join(e.fieldLabels(missing), ", "),
		})
	}

	if mapping.Empty() {
		e.emit(ctx, progress.Event{
			Event:        progress.EventSheetComplete,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      fmt.Sprintf("sheet %s has no usable column mapping, skipped", sheetName),
		})
		return sheetStats{}
	}

	// Phase two: the local row loop. Row totals exclude empty rows so the
	// denominator matches what the iterator will actually yield.
	startRow := mapping.DataStartRow()
	total, err := wb.DataRowCount(sheetName, startRow)
	if err != nil {
		e.emit(ctx, progress.Event{
			Event:        progress.EventError,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      fmt.Sprintf("failed to count rows of sheet %s: %v", sheetName, err),
		})
		return sheetStats{}
	}

	it, err := wb.IterateRows(sheetName, startRow, true)
	if err != nil {
		e.emit(ctx, progress.Event{
			Event:        progress.EventError,
			CurrentFile:  fileName,
			CurrentSheet: sheetName,
			Message:      fmt.Sprintf("failed to iterate sheet %s: %v", sheetName, err),
		})
		return sheetStats{}
	}

	stats := sheetStats{totalRows: total}
	runningTotal := e.task.TotalRows + total

	for it.Next() {
		if e.stopped(ctx) {
			break
		}
		if !e.waitWhilePaused(ctx) {
			break
		}

		rowNum, row := it.RowNumber(), it.Row()
		ok := e.processRow(ctx, row, rowNum, mapping, sheetName, fileName)

		e.task.ProcessedRows++
		if ok {
			e.task.SuccessCount++
			stats.success++
		} else {
			e.task.ErrorCount++
			stats.errors++
		}

		var speed float64
		if elapsed := time.Since(e.startTime).Seconds(); elapsed > 0 {
			speed = float64(e.task.ProcessedRows) / elapsed
		}
		e.emit(ctx, progress.Event{
			Event:         progress.EventRowProcessed,
			CurrentFile:   fileName,
			CurrentSheet:  sheetName,
			CurrentRow:    rowNum,
			TotalRows:     runningTotal,
			ProcessedRows: e.task.ProcessedRows,
			SuccessCount:  e.task.SuccessCount,
			ErrorCount:    e.task.ErrorCount,
			Speed:         speed,
		})
	}

	e.task.TotalRows += stats.totalRows
	e.emit(ctx, progress.Event{
		Event:        progress.EventSheetComplete,
		CurrentFile:  fileName,
		CurrentSheet: sheetName,
		Message: fmt.Sprintf("sheet %s done: %d success, %d errors",
			sheetName, stats.success, stats.errors),
	})
	if err := e.tasks.UpdateCounters(ctx, e.task); err != nil {
		log.Printf("[Extractor] task %s: counter update failed: %v", e.task.ID, err)
	}
	return stats
}

// processRow ingests a single data row. True means the row counts as a
// success, including dedup hits where the existing record absorbed it.
func (e *Extractor) processRow(ctx context.Context, row []string, rowNum int, mapping *aiclient.ColumnMapping, sheetName, fileName string) bool {
	record := make(map[string]string, len(mapping.Mappings))
	for col, field := range mapping.Mappings {
		if col >= 0 && col < len(row) {
			record[field] = row[col]
		} else {
			record[field] = ""
		}
	}

	normalized := datanorm.NormalizeRecord(e.rules, record)
	valid, problems := datanorm.ValidateRecord(e.rules, normalized)

	meta := storage.RecordMeta{
		RawContent:  formatRowContent(row, mapping.Mappings),
		SourceFile:  fileName,
		SourceSheet: sheetName,
		RowNumber:   rowNum,
		BatchNumber: e.task.BatchNumber,
	}

	if !valid {
		meta.Status = storage.StatusError
		meta.ErrorMessage = problems
		if _, err := e.engine.InsertRecord(ctx, e.project.ID, nil, meta); err != nil && !errors.Is(err, storage.ErrNotInserted) {
			logger.Warn("error record insert failed",
				"task_id", e.task.ID, "row", rowNum, "error", err.Error())
		}
		return false
	}

	meta.Status = storage.StatusSuccess

	match, err := e.engine.CheckDuplicate(ctx, e.project.ID, e.policy, normalized)
	if err != nil {
		e.saveRowError(ctx, row, rowNum, sheetName, fileName, fmt.Sprintf("duplicate check failed: %v", err))
		return false
	}
	if match != nil {
		if err := e.engine.ApplyDedup(ctx, e.project.ID, match, normalized); err != nil {
			e.saveRowError(ctx, row, rowNum, sheetName, fileName, fmt.Sprintf("dedup resolution failed: %v", err))
			return false
		}
		return true
	}

	if _, err := e.engine.InsertRecord(ctx, e.project.ID, normalized, meta); err != nil {
		// A unique constraint swallowing the insert is a silent skip, not
		// an error row.
		if errors.Is(err, storage.ErrNotInserted) {
			return true
		}
		e.saveRowError(ctx, row, rowNum, sheetName, fileName, fmt.Sprintf("insert failed: %v", err))
		return false
	}
	return true
}

// saveRowError persists an error record carrying the raw row so the data is
// not lost when a row blows up mid-pipeline.
func (e *Extractor) saveRowError(ctx context.Context, row []string, rowNum int, sheetName, fileName, message string) {
	meta := storage.RecordMeta{
		RawContent:   fmt.Sprintf("%v", row),
		SourceFile:   fileName,
		SourceSheet:  sheetName,
		RowNumber:    rowNum,
		BatchNumber:  e.task.BatchNumber,
		Status:       storage.StatusError,
		ErrorMessage: message,
	}
	if _, err := e.engine.InsertRecord(ctx, e.project.ID, nil, meta); err != nil && !errors.Is(err, storage.ErrNotInserted) {
		logger.Warn("error record insert failed",
			"task_id", e.task.ID, "row", rowNum, "error", err.Error())
	}
}

// stopped reports whether the task should stop at this boundary.
func (e *Extractor) stopped(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// waitWhilePaused idles while the pause flag is set, waking at
// pausePollInterval to re-check. False means the wait ended because the
// task was cancelled rather than resumed.
func (e *Extractor) waitWhilePaused(ctx context.Context) bool {
	for e.paused.Load() {
		if e.cancelled.Load() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pausePollInterval):
		}
	}
	return true
}

// emit broadcasts one event and keeps the latest-state snapshot current.
func (e *Extractor) emit(ctx context.Context, evt progress.Event) {
	evt.TaskID = e.task.ID
	e.events.Publish(evt)
	if e.snapshots != nil {
		e.snapshots.Save(ctx, evt)
	}
}

// fieldLabels swaps field names for their human labels where one is set.
// Warnings read better with the labels users defined the fields under.
func (e *Extractor) fieldLabels(names []string) []string {
	byName := make(map[string]string, len(e.fields))
	for _, f := range e.fields {
		if f.Label != "" {
			byName[f.Name] = f.Label
		}
	}
	out := make([]string, len(names))
	for i, n := range names {
		if label, ok := byName[n]; ok {
			out[i] = label
		} else {
			out[i] = n
		}
	}
	return out
}

// formatRowContent renders the mapped cells as "field:value; ..." in column
// order, for the raw_content audit column.
func formatRowContent(row []string, mappings map[int]string) string {
	cols := make([]int, 0, len(mappings))
	for col := range mappings {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	var pairs []string
	for _, col := range cols {
		if col < 0 || col >= len(row) {
			continue
		}
		if strings.TrimSpace(row[col]) == "" {
			continue
		}
		pairs = append(pairs, mappings[col]+":"+row[col])
	}
	if len(pairs) == 0 {
		return "(empty row)"
	}
	return strings.Join(pairs, "; ")
}
