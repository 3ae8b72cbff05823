package security

import (
	"strings"
	"testing"
)

const testBotToken = "1234567890:AAH0abcdefghijklmnopqrstuvwxyzABCDE"

func TestRedactor_Redact(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.SetLiterals("gw-bearer-42", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bare token", "token=" + testBotToken, "token=" + RedactPlaceholder},
		{
			"api url",
			"GET https://api.telegram.org/bot" + testBotToken + "/getUpdates",
			"GET https://api.telegram.org/bot" + RedactPlaceholder + "/getUpdates",
		},
		{"bearer literal", "Authorization: Bearer gw-bearer-42", "Authorization: Bearer " + RedactPlaceholder},
		{"chat and user ids", "chat -1001234567890 user 123456789 at 12:30", "chat -1001234567890 user 123456789 at 12:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactor_SetLiteralsReplaces(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.SetLiterals("old-secret")
	r.SetLiterals("new-secret")

	got := r.Redact("old-secret new-secret")
	if got != "old-secret "+RedactPlaceholder {
		t.Errorf("Redact = %q", got)
	}
	if strings.Count(got, RedactPlaceholder) != 1 {
		t.Errorf("expected exactly one placeholder in %q", got)
	}
}
