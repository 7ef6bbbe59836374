package datanorm

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// TYPED VALUE RULES
// =============================================================================
// Field values extracted from spreadsheets are free-form strings. Each logical
// field type carries a format pattern (matched against the whole trimmed
// value) and a canonicalization step applied before validation.

// Logical field types. Anything else is treated as text.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeEmail  = "email"
	TypePhone  = "phone"
	TypeDate   = "date"
	TypeURL    = "url"
)

var fieldTypes = map[string]bool{
	TypeText:   true,
	TypeNumber: true,
	TypeEmail:  true,
	TypePhone:  true,
	TypeDate:   true,
	TypeURL:    true,
}

// ValidFieldType reports whether t is one of the supported logical types.
func ValidFieldType(t string) bool {
	return fieldTypes[t]
}

// typePatterns are the fixed format rules per type. Text has none.
var typePatterns = map[string]*regexp.Regexp{
	TypePhone:  regexp.MustCompile(`^1[3-9]\d{9}$`),
	TypeEmail:  regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`),
	TypeURL:    regexp.MustCompile(`^https?://`),
	TypeDate:   regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`),
	TypeNumber: regexp.MustCompile(`^-?\d+(\.\d+)?$`),
}

var (
	nonDigitRe  = regexp.MustCompile(`\D`)
	plainDateRe = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// MatchesType reports whether the value satisfies the type's format pattern.
// Types without a pattern always match.
func MatchesType(fieldType, value string) bool {
	re, ok := typePatterns[fieldType]
	if !ok {
		return true
	}
	return re.MatchString(strings.TrimSpace(value))
}

// TypePattern returns the source of the type's format pattern, empty for
// free-form types.
func TypePattern(fieldType string) string {
	re, ok := typePatterns[fieldType]
	if !ok {
		return ""
	}
	return re.String()
}

// NormalizeValue canonicalizes a raw cell value for the given field type.
func NormalizeValue(fieldType, raw string) string {
	switch fieldType {
	case TypePhone:
		return normalizePhone(raw)
	case TypeEmail:
		return normalizeEmail(raw)
	case TypeDate:
		return normalizeDate(raw)
	case TypeNumber:
		return normalizeNumber(raw)
	default:
		return strings.TrimSpace(raw)
	}
}

// normalizePhone strips every non-digit character. Mainland numbers entered
// with the 86 country prefix (13 digits) have the prefix dropped.
func normalizePhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) == 13 && strings.HasPrefix(digits, "86") {
		digits = digits[2:]
	}
	return digits
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeDate rewrites slash separators to dashes and zero-pads variable
// width month/day. Values in any other shape pass through untouched.
func normalizeDate(raw string) string {
	v := strings.ReplaceAll(strings.TrimSpace(raw), "/", "-")
	m := plainDateRe.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return m[1] + "-" + pad2(month) + "-" + pad2(day)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// normalizeNumber removes thousands separators and renders integral values
// without a fractional part. Unparseable values pass through for the format
// check to reject.
func normalizeNumber(raw string) string {
	v := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
