package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// =============================================================================
// RECORD EXPORT
// =============================================================================
// Serializes a project's records (optionally one batch) as CSV or XLSX.
// Column order follows the table definition; empty result sets produce an
// empty payload.

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const exportTimeLayout = "2006-01-02 15:04:05"

// Export serializes the project's records in the requested format.
func (e *Engine) Export(ctx context.Context, projectID int64, format, batchNumber string) ([]byte, error) {
	if format != FormatCSV && format != FormatXLSX {
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	header, data, err := e.exportRows(ctx, projectID, batchNumber)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	if format == FormatCSV {
		return writeCSV(header, data)
	}
	return writeXLSX(header, data)
}

func (e *Engine) exportRows(ctx context.Context, projectID int64, batchNumber string) ([]string, [][]string, error) {
	table := QuoteIdent(e.TableName(projectID))

	query := "SELECT * FROM " + table
	var args []any
	if batchNumber != "" {
		query += " WHERE batch_number = ?"
		args = append(args, batchNumber)
	}
	query += " ORDER BY id"

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data [][]string
	for rows.Next() {
		values := make([]any, len(header))
		ptrs := make([]any, len(header))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make([]string, len(header))
		for i, v := range values {
			row[i] = formatCell(v)
		}
		data = append(data, row)
	}
	return header, data, rows.Err()
}

// writeCSV renders UTF-8 CSV with a BOM so spreadsheet applications pick up
// the encoding.
func writeCSV(header []string, data [][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range data {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXLSX(header []string, data [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for c, name := range header {
		cell, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	for r, row := range data {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(exportTimeLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}
