// Package suggest produces inline completions for the text before the cursor
// and talks to the backend's HTTP endpoints.
package suggest

import "github.com/Paranoid-AF/typira"

// Cache holds the single live inline suggestion.
type Cache struct {
	text string
}

// Set replaces the live suggestion. An empty text clears it.
func (c *Cache) Set(text string) { c.text = text }

// Clear drops the live suggestion.
func (c *Cache) Clear() { c.text = "" }

// Text returns the live suggestion, or "" when there is none.
func (c *Cache) Text() string { return c.text }

// Accept consumes the suggestion. The returned edit replaces the typed
// characters before the cursor with the suggestion and a trailing space.
// It reports false when there is nothing to accept.
func (c *Cache) Accept(typed int) (typira.Edit, bool) {
	if c.text == "" {
		return typira.Edit{}, false
	}
	if typed < 0 {
		typed = 0
	}
	e := typira.Edit{Delete: typed, Insert: c.text + " "}
	c.text = ""
	return e, true
}
