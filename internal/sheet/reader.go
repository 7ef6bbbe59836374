package sheet

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// =============================================================================
// SPREADSHEET READER
// =============================================================================
// Thin wrapper around excelize for reading tabular workbooks. Workbooks are
// loaded whole (no streaming); all cell values are coerced to strings.

var (
	ErrOpenFailed        = errors.New("failed to open workbook")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
)

// EmptyRowThreshold is the number of consecutive empty rows after which
// row iteration halts, regardless of any rows beyond them.
const EmptyRowThreshold = 10

// Info describes one sheet of an open workbook.
type Info struct {
	Name        string `json:"name"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

// Workbook is an open spreadsheet. Close must be called on every Workbook
// returned by Open or OpenReader.
type Workbook struct {
	f    *excelize.File
	path string
}

// SupportedExt reports whether the file extension is an accepted
// spreadsheet format (.xlsx or .xls).
func SupportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}

// Open opens a workbook from disk in read-only mode.
func Open(path string) (*Workbook, error) {
	if !SupportedExt(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return &Workbook{f: f, path: path}, nil
}

// OpenReader opens a workbook from a stream. The name is used only for
// extension checking and error messages.
func OpenReader(r io.Reader, name string) (*Workbook, error) {
	if !SupportedExt(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return &Workbook{f: f, path: name}, nil
}

// Close releases the underlying file resources.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// Path returns the path or name the workbook was opened with.
func (w *Workbook) Path() string {
	return w.path
}

// SheetNames returns the workbook's sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	return w.f.GetSheetList()
}

// Sheets returns name plus row/column counts for every sheet.
func (w *Workbook) Sheets() ([]Info, error) {
	var infos []Info
	for _, name := range w.f.GetSheetList() {
		rows, err := w.f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		cols := 0
		for _, row := range rows {
			if len(row) > cols {
				cols = len(row)
			}
		}
		infos = append(infos, Info{Name: name, RowCount: len(rows), ColumnCount: cols})
	}
	return infos, nil
}

// TotalRows returns the number of rows in the sheet.
func (w *Workbook) TotalRows(sheetName string) (int, error) {
	rows, err := w.sheetRows(sheetName)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// DataRowCount counts the non-empty rows from startRow (1-based) under the
// same termination rule as RowIterator: counting stops once EmptyRowThreshold
// consecutive empty rows are seen. The result is the row total a progress
// display should use.
func (w *Workbook) DataRowCount(sheetName string, startRow int) (int, error) {
	rows, err := w.sheetRows(sheetName)
	if err != nil {
		return 0, err
	}
	if startRow < 1 {
		startRow = 1
	}
	count, emptyRun := 0, 0
	for i := startRow - 1; i < len(rows); i++ {
		if IsEmptyRow(rows[i]) {
			emptyRun++
			if emptyRun >= EmptyRowThreshold {
				break
			}
			continue
		}
		emptyRun = 0
		count++
	}
	return count, nil
}

// Rows returns rows startRow..endRow inclusive (1-based). Rows past the end
// of the sheet are omitted rather than padded.
func (w *Workbook) Rows(sheetName string, startRow, endRow int) ([][]string, error) {
	rows, err := w.sheetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if startRow < 1 {
		startRow = 1
	}
	if startRow > len(rows) {
		return nil, nil
	}
	if endRow > len(rows) {
		endRow = len(rows)
	}
	out := make([][]string, 0, endRow-startRow+1)
	for i := startRow - 1; i < endRow; i++ {
		out = append(out, rows[i])
	}
	return out, nil
}

// Row returns the full row at rowNum (1-based). A row beyond the sheet end
// is returned as empty, not as an error.
func (w *Workbook) Row(sheetName string, rowNum int) ([]string, error) {
	rows, err := w.sheetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if rowNum < 1 || rowNum > len(rows) {
		return nil, nil
	}
	return rows[rowNum-1], nil
}

// RowColumns returns the selected column values (0-based indices) of one row,
// keyed by column index. Missing columns map to the empty string.
func (w *Workbook) RowColumns(sheetName string, rowNum int, cols []int) (map[int]string, error) {
	row, err := w.Row(sheetName, rowNum)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(cols))
	for _, c := range cols {
		if c >= 0 && c < len(row) {
			out[c] = row[c]
		} else {
			out[c] = ""
		}
	}
	return out, nil
}

// PreviewRows returns the first n rows of the sheet.
func (w *Workbook) PreviewRows(sheetName string, n int) ([][]string, error) {
	return w.Rows(sheetName, 1, n)
}

func (w *Workbook) sheetRows(sheetName string) ([][]string, error) {
	idx, err := w.f.GetSheetIndex(sheetName)
	if err != nil || idx == -1 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheetName)
	}
	rows, err := w.f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	return rows, nil
}

// IsEmptyRow reports whether every cell of the row stringifies to whitespace.
func IsEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// ROW ITERATION
// =============================================================================

// RowIterator walks data rows of a sheet from a start row, halting after
// EmptyRowThreshold consecutive empty rows. With skipEmpty set, empty rows
// below the threshold are omitted from the output but still counted.
//
//	it, err := wb.IterateRows("Sheet1", 2, true)
//	for it.Next() {
//	    n, row := it.RowNumber(), it.Row()
//	    ...
//	}
type RowIterator struct {
	rows      [][]string
	idx       int // 0-based index of the next row to inspect
	skipEmpty bool
	emptyRun  int
	cur       []string
	curNum    int
	done      bool
}

// IterateRows returns an iterator positioned at startRow (1-based).
func (w *Workbook) IterateRows(sheetName string, startRow int, skipEmpty bool) (*RowIterator, error) {
	rows, err := w.sheetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if startRow < 1 {
		startRow = 1
	}
	return &RowIterator{rows: rows, idx: startRow - 1, skipEmpty: skipEmpty}, nil
}

// Next advances to the next row, returning false when iteration ends.
func (it *RowIterator) Next() bool {
	for !it.done && it.idx < len(it.rows) {
		row := it.rows[it.idx]
		num := it.idx + 1
		it.idx++

		if IsEmptyRow(row) {
			it.emptyRun++
			if it.emptyRun >= EmptyRowThreshold {
				it.done = true
				return false
			}
			if it.skipEmpty {
				continue
			}
			it.cur, it.curNum = row, num
			return true
		}

		it.emptyRun = 0
		it.cur, it.curNum = row, num
		return true
	}
	it.done = true
	return false
}

// Row returns the current row's cells.
func (it *RowIterator) Row() []string { return it.cur }

// RowNumber returns the current row's 1-based sheet position.
func (it *RowIterator) RowNumber() int { return it.curNum }
