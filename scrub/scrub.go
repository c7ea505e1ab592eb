// Package scrub removes personally identifying substrings from typed text
// before it is sent over the network.
package scrub

import (
	"regexp"

	typira "github.com/Paranoid-AF/typira"
)

// Replacement tokens. None of them can be matched by a later pass.
const (
	EmailToken      = "[EMAIL]"
	CreditCardToken = "[CREDIT_CARD]"
	CodeToken       = "[SENSITIVE_CODE]"
)

var (
	reEmail      = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	reCreditCard = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	reCode       = regexp.MustCompile(`\b\d{4,6}\b`)
)

// passes run in order: card numbers before codes, or a card would be
// shredded into several codes.
var passes = []struct {
	re    *regexp.Regexp
	token string
}{
	{reEmail, EmailToken},
	{reCreditCard, CreditCardToken},
	{reCode, CodeToken},
}

// Scrub replaces email addresses, card numbers and 4-6 digit codes in text.
// It is pure and idempotent.
func Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, p := range passes {
		text = p.re.ReplaceAllLiteralString(text, p.token)
	}
	return text
}

// ScrubContext returns a copy of tc with both text fields scrubbed.
func ScrubContext(tc typira.TypingContext) typira.TypingContext {
	tc.FullText = Scrub(tc.FullText)
	tc.IncrementalDelta = Scrub(tc.IncrementalDelta)
	return tc
}
