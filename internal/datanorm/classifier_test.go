package datanorm

import (
	"testing"
)

func TestGuessHeaderRow(t *testing.T) {
	tests := []struct {
		name        string
		preview     [][]string
		expectedRow int
	}{
		{
			name: "header on first row",
			preview: [][]string{
				{"姓名", "手机号", "邮箱"},
				{"张三", "13812345678", "zhang@example.com"},
				{"李四", "13998765432", "li@example.com"},
			},
			expectedRow: 1,
		},
		{
			name: "english header on first row",
			preview: [][]string{
				{"Name", "Phone", "Email"},
				{"Alice", "13812345678", "alice@example.com"},
				{"Bob", "13998765432", "bob@example.com"},
			},
			expectedRow: 1,
		},
		{
			name: "title row above header",
			preview: [][]string{
				{"2024年客户名单", "", ""},
				{"姓名", "电话", "邮箱"},
				{"王五", "13712345678", "wang@example.com"},
				{"赵六", "13612345678", "zhao@example.com"},
			},
			expectedRow: 2,
		},
		{
			name: "numeric data without header",
			preview: [][]string{
				{"1", "2", "3"},
				{"4", "5", "6"},
			},
			expectedRow: 0,
		},
		{
			name:        "empty preview",
			preview:     [][]string{},
			expectedRow: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guess := GuessHeaderRow(tt.preview)
			if guess.Row != tt.expectedRow {
				t.Errorf("GuessHeaderRow row = %d (confidence %.2f, %s), want %d",
					guess.Row, guess.Confidence, guess.Method, tt.expectedRow)
			}
			if guess.Row > 0 && guess.Confidence < MinHeaderConfidence {
				t.Errorf("accepted guess below threshold: %.2f", guess.Confidence)
			}
		})
	}
}

func TestScoreKnownLabels(t *testing.T) {
	if got := scoreKnownLabels([]string{"姓名", "电话", "unrelated"}); got < 0.6 || got > 0.7 {
		t.Errorf("scoreKnownLabels = %v, want 2/3", got)
	}
	if got := scoreKnownLabels(nil); got != 0 {
		t.Errorf("scoreKnownLabels(nil) = %v, want 0", got)
	}
}
