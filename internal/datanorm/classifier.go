package datanorm

import (
	"fmt"
	"strings"
)

// =============================================================================
// HEADER ROW RECOGNITION
// =============================================================================
// Local fallback for when no model is available. Scans the first rows of a
// sheet and scores each candidate as a header row against the rows below it.
// The model-driven path supersedes this when configured.

// MinHeaderConfidence is the score below which a candidate is rejected.
const MinHeaderConfidence = 0.6

// HeaderGuess reports the outcome of a header scan.
type HeaderGuess struct {
	Row        int      `json:"row"` // 1-based sheet row, 0 when none found
	Labels     []string `json:"labels,omitempty"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method,omitempty"`
}

// GuessHeaderRow scans preview rows (row 1 first) and returns the most
// plausible header row. Rows after the candidate serve as sample data.
func GuessHeaderRow(preview [][]string) *HeaderGuess {
	best := &HeaderGuess{}

	for idx, row := range preview {
		if rowEmpty(row) {
			continue
		}
		confidence, method := scoreHeaderCandidate(row, preview[idx+1:])
		if confidence > best.Confidence {
			best.Row = idx + 1
			best.Labels = row
			best.Confidence = confidence
			best.Method = method
		}
	}

	if best.Confidence < MinHeaderConfidence {
		return &HeaderGuess{Confidence: best.Confidence, Method: best.Method}
	}
	return best
}

// scoreHeaderCandidate combines several strategies into one confidence value.
func scoreHeaderCandidate(candidate []string, sampleRows [][]string) (float64, string) {
	var scores []float64
	var methods []string

	// Strategy 1: cells matching known field labels
	knownScore := scoreKnownLabels(candidate)
	scores = append(scores, knownScore)
	methods = append(methods, fmt.Sprintf("known_labels:%.2f", knownScore))

	// Strategy 2: candidate differs in shape from the rows below it
	if len(sampleRows) > 0 {
		diffScore := scoreTypeDifference(candidate, sampleRows)
		scores = append(scores, diffScore)
		methods = append(methods, fmt.Sprintf("type_difference:%.2f", diffScore))
	}

	// Strategy 3: typed values (emails, phones) below but not in the candidate
	typedScore := scoreTypedValues(candidate, sampleRows)
	scores = append(scores, typedScore)
	methods = append(methods, fmt.Sprintf("typed_values:%.2f", typedScore))

	// Strategy 4: headers are rarely numeric
	numericScore := scoreNumericShape(candidate)
	scores = append(scores, numericScore)
	methods = append(methods, fmt.Sprintf("numeric:%.2f", numericScore))

	// Weighted average, known labels weighted highest
	weights := []float64{0.4, 0.3, 0.2, 0.1}
	var total float64
	for i, score := range scores {
		if i < len(weights) {
			total += score * weights[i]
		}
	}

	return total, strings.Join(methods, ", ")
}

// scoreKnownLabels checks how many cells match known field labels or names.
func scoreKnownLabels(cells []string) float64 {
	if len(cells) == 0 {
		return 0
	}

	matched := 0
	for _, cell := range cells {
		if isKnownLabel(cell) {
			matched++
		}
	}

	return float64(matched) / float64(len(cells))
}

func isKnownLabel(cell string) bool {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return false
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	for _, m := range labelNames {
		if normalized == m.Name || strings.Contains(trimmed, m.Label) {
			return true
		}
	}
	return false
}

// scoreTypeDifference checks whether the candidate row has a different shape
// than the data rows below it.
func scoreTypeDifference(candidate []string, dataRows [][]string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	if len(dataRows) == 0 {
		return 0.5 // neutral without data to compare
	}

	differentColumns := 0
	for colIdx, cell := range candidate {
		isNumeric := strings.TrimSpace(cell) != "" && MatchesType(TypeNumber, cell)
		isEmail := strings.Contains(cell, "@")

		numericCount := 0
		emailCount := 0
		for _, row := range dataRows {
			if colIdx < len(row) {
				if strings.TrimSpace(row[colIdx]) != "" && MatchesType(TypeNumber, row[colIdx]) {
					numericCount++
				}
				if strings.Contains(row[colIdx], "@") {
					emailCount++
				}
			}
		}

		// A column differs when the data below it is mostly numeric or mostly
		// emails while the candidate cell is neither.
		numericBelow := numericCount > 0 && numericCount*2 >= len(dataRows)
		emailBelow := emailCount > 0 && emailCount*2 >= len(dataRows)
		if (!isNumeric && numericBelow) || (!isEmail && emailBelow) {
			differentColumns++
		}
	}

	return float64(differentColumns) / float64(len(candidate))
}

// scoreTypedValues checks for emails or phone numbers appearing in the data
// rows but not in the candidate row.
func scoreTypedValues(candidate []string, dataRows [][]string) float64 {
	candidateTyped := rowHasTypedValue(candidate)

	dataTyped := false
	for _, row := range dataRows {
		if rowHasTypedValue(row) {
			dataTyped = true
			break
		}
	}

	// Typed values in both means the candidate is probably data too
	if candidateTyped && dataTyped {
		return 0.0
	}
	if !candidateTyped && dataTyped {
		return 1.0
	}
	return 0.5
}

func rowHasTypedValue(row []string) bool {
	for _, cell := range row {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" {
			continue
		}
		if typePatterns[TypeEmail].MatchString(trimmed) || typePatterns[TypePhone].MatchString(trimmed) {
			return true
		}
	}
	return false
}

// scoreNumericShape penalizes candidates that are mostly numbers.
func scoreNumericShape(candidate []string) float64 {
	if len(candidate) == 0 {
		return 0
	}

	numericCount := 0
	for _, cell := range candidate {
		if strings.TrimSpace(cell) != "" && MatchesType(TypeNumber, cell) {
			numericCount++
		}
	}

	if float64(numericCount)/float64(len(candidate)) > 0.5 {
		return 0.0 // probably a data row
	}
	return 0.7
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
