package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/Paranoid-AF/typira"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// record is one UI event in the TOML log.
type record struct {
	Timestamp  time.Time    `toml:"timestamp"`
	Event      string       `toml:"event"`
	Status     string       `toml:"status,omitempty"`
	Suggestion string       `toml:"suggestion,omitempty"`
	Delete     int          `toml:"delete,omitzero"`
	Insert     string       `toml:"insert,omitempty"`
	View       string       `toml:"view,omitempty"`
	Before     string       `toml:"before"`
	After      string       `toml:"after"`
	Actions    []chipRecord `toml:"actions,omitempty"`
}

type chipRecord struct {
	Key     string `toml:"key"`
	ID      string `toml:"id"`
	Label   string `toml:"label"`
	Type    string `toml:"type,omitempty"`
	Payload string `toml:"payload,omitempty"`
}

// writeRecord appends r to w as one [[event]] table.
func writeRecord(w io.Writer, r record) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(&buf).Encode(struct {
		Event []record `toml:"event"`
	}{[]record{r}}); err != nil {
		return err
	}
	buf.WriteString("\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// builtinChips are always offered after the agent's chips.
var builtinChips = []struct{ key, id, label string }{
	{"h", "hub", "Typira"},
	{"p", "paste", "Remember clipboard"},
	{"m", "mic", "Dictate"},
	{"w", "rewrite", "Rewrite"},
}

// screen renders session effects on the tty and logs them to out.
// Methods other than Redraw and Chip run on the session loop.
type screen struct {
	tty io.Writer
	out io.Writer
	doc *Document
	now func() time.Time

	mu         sync.Mutex
	status     typira.Status
	suggestion string
	chips      []typira.SmartAction
	secure     bool

	draw sync.Mutex
}

func newScreen(tty, out io.Writer, doc *Document) *screen {
	return &screen{tty: tty, out: out, doc: doc, now: time.Now}
}

func (s *screen) SetStatus(st typira.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.log(record{Event: typira.EventStatus, Status: st.String()})
	s.Redraw()
}

func (s *screen) SetActions(actions []typira.SmartAction) {
	s.mu.Lock()
	s.chips = actions
	s.mu.Unlock()
	r := record{Event: typira.EventActions}
	for i, a := range actions {
		r.Actions = append(r.Actions, chipRecord{
			Key:     fmt.Sprint(i + 1),
			ID:      a.ID,
			Label:   a.Label,
			Type:    string(a.Type),
			Payload: a.PayloadString(),
		})
	}
	s.log(r)
	s.Redraw()
}

func (s *screen) SetSuggestion(text string) {
	s.mu.Lock()
	s.suggestion = text
	s.mu.Unlock()
	s.log(record{Event: typira.EventSuggestion, Suggestion: text})
	s.Redraw()
}

func (s *screen) ApplyEdit(e typira.Edit) {
	s.doc.Apply(e.Delete, e.Insert)
	s.log(record{Event: typira.EventEdit, Delete: e.Delete, Insert: e.Insert})
	s.Redraw()
}

func (s *screen) ShowView(view string) {
	s.log(record{Event: typira.EventView, View: view})
	s.Redraw()
}

func (s *screen) InsertText(text string) {
	s.doc.Insert(text)
	s.log(record{Event: typira.EventInsert, Insert: text})
	s.Redraw()
}

// SetSecure marks the field as secure in the header.
func (s *screen) SetSecure(secure bool) {
	s.mu.Lock()
	s.secure = secure
	s.mu.Unlock()
	s.Redraw()
}

// Chip resolves a Ctrl-G selector to an action id.
func (s *screen) Chip(sel string) (string, bool) {
	for _, b := range builtinChips {
		if b.key == sel {
			return b.id, true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if _, err := fmt.Sscan(sel, &n); err != nil || n < 1 || n > len(s.chips) {
		return "", false
	}
	return s.chips[n-1].ID, true
}

func (s *screen) log(r record) {
	r.Timestamp = s.now()
	r.Before = s.doc.Before()
	r.After = s.doc.After()
	writeRecord(s.out, r)
}

// Redraw paints the strip, the chip row and the field.
func (s *screen) Redraw() {
	s.mu.Lock()
	status, suggestion, chips, secure := s.status, s.suggestion, s.chips, s.secure
	s.mu.Unlock()
	before, after := s.doc.Before(), s.doc.After()

	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")
	mode := "field"
	if secure {
		mode = "secure field"
	}
	fmt.Fprintf(&b, "typira repl (%s)  ^N new field  ^P secure  Tab accept  ^G<key> chip  ^D quit\r\n", mode)
	fmt.Fprintf(&b, "%s\r\n", status)
	for i, a := range chips {
		fmt.Fprintf(&b, "[%d %s] ", i+1, a.Label)
	}
	for _, c := range builtinChips {
		fmt.Fprintf(&b, "[%s %s] ", c.key, c.label)
	}
	b.WriteString("\r\n\r\n")

	shown := before
	if secure {
		shown = strings.Repeat("•", len([]rune(before)))
	}
	b.WriteString(strings.ReplaceAll(shown, "\n", "\r\n"))
	// Save the cursor, print the grey suggestion and the tail, restore.
	b.WriteString("\x1b7")
	if suggestion != "" {
		fmt.Fprintf(&b, "\x1b[90m %s\x1b[0m", suggestion)
	}
	if secure {
		after = strings.Repeat("•", len([]rune(after)))
	}
	b.WriteString(strings.ReplaceAll(after, "\n", "\r\n"))
	b.WriteString("\x1b8")

	s.draw.Lock()
	defer s.draw.Unlock()
	io.WriteString(s.tty, b.String())
}
