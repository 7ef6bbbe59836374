package aiclient

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// PROMPT BUILD + ARTIFACT PARSE
// =============================================================================

// systemPrompt pins the model to the output contract.
const systemPrompt = "You are a data processing expert. Return results strictly in the requested format."

// sampleRowLimit caps the preview passed to the model.
const sampleRowLimit = 10

// buildMappingPrompt renders the per-sheet analysis prompt: the first rows
// of the sheet, the field definitions, and the exact JSON shape to return.
func buildMappingPrompt(sampleRows [][]string, fields []FieldSpec) string {
	var b strings.Builder

	b.WriteString("You are a spreadsheet analysis expert. Below are the first ")
	b.WriteString(strconv.Itoa(sampleRowLimit))
	b.WriteString(" rows of an Excel sheet:\n\n")
	b.WriteString(formatSampleRows(sampleRows))

	b.WriteString("\n\nFields the project extracts:\n")
	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(f.Label)
		b.WriteString(", type: ")
		b.WriteString(f.Type)
		b.WriteString(")")
		if f.Required {
			b.WriteString(" [required]")
		}
		if f.Hint != "" {
			b.WriteString(" - extraction hint: ")
			b.WriteString(f.Hint)
		}
		b.WriteString("\n")
	}

	b.WriteString(`
Determine:
1. Which row is the header? (1-` + strconv.Itoa(sampleRowLimit) + `, or 0 when there is no header)
2. Which field does each column correspond to? (column index -> field name)

Rules:
- Column indexes start at 0
- Map only columns that clearly match a field
- Put column indexes that match no field into unmatched_columns
- confidence is the overall mapping confidence (0 to 1)

Return JSON in exactly this shape:
{
  "header_row": 1,
  "column_mappings": {
    "0": "name",
    "2": "phone",
    "5": "email"
  },
  "confidence": 0.95,
  "unmatched_columns": [1, 3, 4]
}

Return only the JSON, nothing else.`)

	return b.String()
}

// formatSampleRows labels each row and joins its cells with " | ". Empty
// rows still appear so the model sees the real layout.
func formatSampleRows(rows [][]string) string {
	var lines []string
	for i, row := range rows {
		if i >= sampleRowLimit {
			break
		}
		var cells []string
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				cells = append(cells, cell)
			}
		}
		line := "(empty row)"
		if len(cells) > 0 {
			line = strings.Join(cells, " | ")
		}
		lines = append(lines, fmt.Sprintf("[row %d] %s", i+1, line))
	}
	return strings.Join(lines, "\n")
}

// parseMapping decodes the model's JSON artifact. Tolerant by design:
// markdown code fences are stripped, string-form integer keys are accepted,
// unparseable keys are skipped, and a missing confidence defaults to 0.5.
func parseMapping(text string) (*ColumnMapping, error) {
	clean := stripCodeFence(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingParse, err)
	}

	m := &ColumnMapping{
		Mappings:   make(map[int]string),
		Confidence: 0.5,
	}

	if v, ok := raw["header_row"]; ok {
		if n, ok := toInt(v); ok {
			m.HeaderRow = n
		}
	}
	if v, ok := raw["confidence"]; ok {
		if f, ok := toFloat(v); ok {
			m.Confidence = f
		}
	}
	if mappings, ok := raw["column_mappings"].(map[string]any); ok {
		for key, val := range mappings {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				continue
			}
			name, ok := val.(string)
			if !ok || name == "" {
				continue
			}
			m.Mappings[idx] = name
		}
	}
	if list, ok := raw["unmatched_columns"].([]any); ok {
		for _, v := range list {
			if n, ok := toInt(v); ok {
				m.UnmatchedColumns = append(m.UnmatchedColumns, n)
			}
		}
	}

	return m, nil
}

// stripCodeFence removes a wrapping markdown code block (``` or ```json).
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = text[idx+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
