package datanorm

import (
	"regexp"
	"strings"
)

// FieldRule describes one project field for validation purposes.
type FieldRule struct {
	Name     string // logical snake_case name, also the record key
	Label    string // human label used in error messages
	Type     string // one of the Type* constants
	Required bool
	Pattern  string // optional custom regexp, applied after the type pattern
}

func (r FieldRule) displayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Name
}

// ValidateValue checks a single value against a rule. The returned reason is
// empty when the value is acceptable. Check order: required, blank short
// circuit, type pattern, custom pattern. A custom pattern that fails to
// compile is ignored rather than treated as a validation failure.
func ValidateValue(rule FieldRule, value string) string {
	v := strings.TrimSpace(value)

	if v == "" {
		if rule.Required {
			return "required"
		}
		return ""
	}

	if !MatchesType(rule.Type, v) {
		return "format"
	}

	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err == nil && !re.MatchString(v) {
			return "custom"
		}
	}

	return ""
}

// NormalizeRecord canonicalizes every mapped value in place of the raw one,
// per its field's type. Keys without a matching rule are left untouched.
func NormalizeRecord(rules []FieldRule, record map[string]string) map[string]string {
	types := make(map[string]string, len(rules))
	for _, r := range rules {
		types[r.Name] = r.Type
	}

	out := make(map[string]string, len(record))
	for k, v := range record {
		if t, ok := types[k]; ok {
			out[k] = NormalizeValue(t, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// ValidateRecord applies every rule to the record. All failures are
// aggregated into one "label: reason" list joined with "; ".
func ValidateRecord(rules []FieldRule, record map[string]string) (bool, string) {
	var problems []string
	for _, rule := range rules {
		if reason := ValidateValue(rule, record[rule.Name]); reason != "" {
			problems = append(problems, rule.displayName()+": "+reason)
		}
	}
	if len(problems) == 0 {
		return true, ""
	}
	return false, strings.Join(problems, "; ")
}
