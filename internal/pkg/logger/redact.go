package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone masks a phone number for safe logging, keeping the first three
// and last two digits: "13812345678" → "138******78". Anything too short to
// mask meaningfully is fully masked.
func RedactPhone(phone string) string {
	digits := strings.TrimSpace(phone)
	if len(digits) < 7 {
		return "***"
	}
	return digits[:3] + strings.Repeat("*", len(digits)-5) + digits[len(digits)-2:]
}
