package scrub

import (
	"strings"
	"testing"

	typira "github.com/Paranoid-AF/typira"
)

func TestScrub(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"email", "contact me at a@b.com", "contact me at [EMAIL]"},
		{"email with plus", "send to jane.doe+news@mail.example.org today", "send to [EMAIL] today"},
		{"card with spaces", "4111 1111 1111 1111", "[CREDIT_CARD]"},
		{"card with hyphens", "card 4111-1111-1111-1111 exp", "card [CREDIT_CARD] exp"},
		{"card contiguous", "5500000000000004", "[CREDIT_CARD]"},
		{"card 13 digits", "4222222222222", "[CREDIT_CARD]"},
		{"pin", "my pin is 4321", "my pin is [SENSITIVE_CODE]"},
		{"otp six digits", "code: 123456.", "code: [SENSITIVE_CODE]."},
		{"three digits kept", "room 101", "room 101"},
		{"seven digits kept", "ref 1234567", "ref 1234567"},
		{"digits inside word kept", "abc1234def", "abc1234def"},
		{"no pii", "see you tomorrow", "see you tomorrow"},
		{"empty string", "", ""},
		{"mixed", "mail a@b.co pin 9876", "mail [EMAIL] pin [SENSITIVE_CODE]"},
		{"digits in email", "john1234@x.io", "[EMAIL]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scrub(tt.input)
			if got != tt.want {
				t.Errorf("Scrub(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubIdempotent(t *testing.T) {
	inputs := []string{
		"contact me at a@b.com",
		"4111 1111 1111 1111",
		"my pin is 4321",
		"1111 2222 3333 4444 5555",
		"5555 1234567890123",
		"12345678901234567890",
		"a@b.com 4111111111111111 1234 x@y.z 99999",
		"[EMAIL] [CREDIT_CARD] [SENSITIVE_CODE]",
		"call 555-1234 or 555-9876 at 10:30",
		"",
	}
	for _, in := range inputs {
		once := Scrub(in)
		twice := Scrub(once)
		if once != twice {
			t.Errorf("Scrub not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestScrubLongRunCardThenCode(t *testing.T) {
	got := Scrub("1111 2222 3333 4444 5555")
	if got != "[CREDIT_CARD] [SENSITIVE_CODE]" {
		t.Errorf("got %q", got)
	}
}

func TestScrubNeverLeaksRawValues(t *testing.T) {
	in := "email a@b.com card 4111 1111 1111 1111 pin 4321"
	got := Scrub(in)
	for _, raw := range []string{"a@b.com", "4111", "4321"} {
		if strings.Contains(got, raw) {
			t.Errorf("Scrub(%q) = %q still contains %q", in, got, raw)
		}
	}
}

func TestScrubContext(t *testing.T) {
	tc := typira.TypingContext{
		FullText:         "my pin is 4321 and mail a@b.com",
		IncrementalDelta: "a@b.com",
		AppContext:       "com.example.mail",
	}
	got := ScrubContext(tc)
	if got.FullText != "my pin is [SENSITIVE_CODE] and mail [EMAIL]" {
		t.Errorf("FullText = %q", got.FullText)
	}
	if got.IncrementalDelta != "[EMAIL]" {
		t.Errorf("IncrementalDelta = %q", got.IncrementalDelta)
	}
	if got.AppContext != tc.AppContext {
		t.Errorf("AppContext changed to %q", got.AppContext)
	}
	if tc.FullText != "my pin is 4321 and mail a@b.com" {
		t.Error("ScrubContext mutated its argument")
	}
}
