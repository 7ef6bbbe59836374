package worker

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridline/extractor/internal/storage"
)

// =============================================================================
// IMPORT BATCHES
// =============================================================================
// Every extraction run is stamped with a batch number of the form
// batch_YYYYMMDD_NNNN. The sequence restarts at 0001 each day and is
// allocated by taking the highest existing same-day number plus one, so
// numbers stay dense even when runs fail before inserting anything.

// Batch groups the records of one extraction run.
type Batch struct {
	ID          int64     `json:"id"`
	BatchNumber string    `json:"batch_number"`
	ProjectID   int64     `json:"project_id"`
	FileCount   int       `json:"file_count"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// BatchStore persists batch rows.
type BatchStore struct {
	db *storage.DB
}

func NewBatchStore(db *storage.DB) *BatchStore {
	return &BatchStore{db: db}
}

// NextNumber allocates the next batch number for the given day.
func (s *BatchStore) NextNumber(ctx context.Context, day time.Time) (string, error) {
	prefix := "batch_" + day.Format("20060102") + "_"

	// Zero-padded sequences order lexically, so MAX finds the latest.
	var last sql.NullString
	err := s.db.QueryRow(ctx,
		`SELECT MAX(batch_number) FROM batches WHERE batch_number LIKE ?`,
		prefix+"%").Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to allocate batch number: %w", err)
	}

	seq := 1
	if last.Valid {
		parts := strings.Split(last.String, "_")
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// Create inserts the batch row and fills in its assigned id.
func (s *BatchStore) Create(ctx context.Context, b *Batch) error {
	id, err := s.db.InsertID(ctx, `
		INSERT INTO batches (batch_number, project_id, file_count, record_count)
		VALUES (?, ?, ?, ?)`,
		b.BatchNumber, b.ProjectID, b.FileCount, b.RecordCount)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", b.BatchNumber, err)
	}
	b.ID = id
	return nil
}

// Get returns the batch with the given number, or nil when none exists.
func (s *BatchStore) Get(ctx context.Context, batchNumber string) (*Batch, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, batch_number, project_id, file_count, record_count, created_at
		FROM batches WHERE batch_number = ?`, batchNumber)
	return scanBatch(row)
}

// ListByProject returns a project's batches, newest first.
func (s *BatchStore) ListByProject(ctx context.Context, projectID int64) ([]Batch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, batch_number, project_id, file_count, record_count, created_at
		FROM batches WHERE project_id = ?
		ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.BatchNumber, &b.ProjectID, &b.FileCount,
			&b.RecordCount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateRecordCount stamps the final record total onto the batch.
func (s *BatchStore) UpdateRecordCount(ctx context.Context, batchNumber string, count int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE batches SET record_count = ? WHERE batch_number = ?`,
		count, batchNumber)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", batchNumber, err)
	}
	return nil
}

func scanBatch(row *sql.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.BatchNumber, &b.ProjectID, &b.FileCount,
		&b.RecordCount, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	return &b, nil
}
