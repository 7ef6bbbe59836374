package datanorm

import (
	"testing"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name      string
		fieldType string
		raw       string
		expected  string
	}{
		{"phone with country code", TypePhone, "+86 138 1234 5678", "13812345678"},
		{"phone plain", TypePhone, "13912345678", "13912345678"},
		{"phone with separators", TypePhone, "139-1234-5678", "13912345678"},
		{"email lowercased and trimmed", TypeEmail, " Alice@Example.COM ", "alice@example.com"},
		{"date slashes and padding", TypeDate, "2024/1/5", "2024-01-05"},
		{"date already canonical", TypeDate, "2024-12-31", "2024-12-31"},
		{"date other shape untouched", TypeDate, "Jan 5 2024", "Jan 5 2024"},
		{"number thousands separator", TypeNumber, "1,234.50", "1234.5"},
		{"number integral float", TypeNumber, "42.0", "42"},
		{"number negative", TypeNumber, "-7", "-7"},
		{"number unparseable passes through", TypeNumber, "12abc", "12abc"},
		{"text trimmed", TypeText, "  hello  ", "hello"},
		{"url trimmed only", TypeURL, " https://example.com ", "https://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeValue(tt.fieldType, tt.raw)
			if got != tt.expected {
				t.Errorf("NormalizeValue(%q, %q) = %q, want %q", tt.fieldType, tt.raw, got, tt.expected)
			}
		})
	}
}

func TestMatchesType(t *testing.T) {
	tests := []struct {
		name      string
		fieldType string
		value     string
		expected  bool
	}{
		{"valid phone", TypePhone, "13812345678", true},
		{"phone bad second digit", TypePhone, "12812345678", false},
		{"phone too short", TypePhone, "1381234567", false},
		{"valid email", TypeEmail, "a.b@example.co", true},
		{"invalid email", TypeEmail, "nope", false},
		{"valid url", TypeURL, "https://x.dev/path", true},
		{"non http url", TypeURL, "ftp://x.dev", false},
		{"valid date with slashes", TypeDate, "2024/1/5", true},
		{"date wrong order", TypeDate, "05-01-2024", false},
		{"valid number", TypeNumber, "-12.5", true},
		{"number with comma", TypeNumber, "1,234", false},
		{"text always matches", TypeText, "anything", true},
		{"unknown type always matches", "blob", "anything", true},
		{"value trimmed before match", TypeEmail, "  a@b.co  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesType(tt.fieldType, tt.value)
			if got != tt.expected {
				t.Errorf("MatchesType(%q, %q) = %v, want %v", tt.fieldType, tt.value, got, tt.expected)
			}
		})
	}
}

func TestValidFieldType(t *testing.T) {
	for _, ft := range []string{TypeText, TypeNumber, TypeEmail, TypePhone, TypeDate, TypeURL} {
		if !ValidFieldType(ft) {
			t.Errorf("ValidFieldType(%q) = false, want true", ft)
		}
	}
	for _, ft := range []string{"blob", "", "TEXT"} {
		if ValidFieldType(ft) {
			t.Errorf("ValidFieldType(%q) = true, want false", ft)
		}
	}
}
