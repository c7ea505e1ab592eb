package main

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/keyboard"
)

type recordingSession struct {
	calls  []string
	fields []typira.Field
}

func (s *recordingSession) Focus(f typira.Field, _ keyboard.Document) {
	s.calls = append(s.calls, "focus")
	s.fields = append(s.fields, f)
}
func (s *recordingSession) Typed(text string) { s.calls = append(s.calls, "typed "+text) }
func (s *recordingSession) Backspace() { s.calls = append(s.calls, "backspace") }
func (s *recordingSession) DocumentChanged() { s.calls = append(s.calls, "document") }
func (s *recordingSession) Tap(id string) { s.calls = append(s.calls, "tap "+id) }
func (s *recordingSession) AcceptSuggestion() { s.calls = append(s.calls, "accept") }

func TestLoopDrivesSession(t *testing.T) {
	doc := &Document{}
	scr := newScreen(io.Discard, io.Discard, doc)
	sess := &recordingSession{}

	// Backspace on an empty field and Right at the end are not reported.
	keys := NewKeyReader(strings.NewReader("\x7fhi\x7f\x1b[D\x1b[C\x1b[C\t\x10\x07m\x0e\x04ignored"))
	if err := loop(keys, sess, doc, scr, "notes"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"focus", "typed h", "typed i", "backspace", "document", "document",
		"accept", "focus", "tap mic", "focus",
	}
	if diff := cmp.Diff(want, sess.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	wantFields := []typira.Field{{App: "notes"}, {App: "notes", Secure: true}, {App: "notes"}}
	if diff := cmp.Diff(wantFields, sess.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if doc.Before() != "" {
		t.Errorf("field not reset by Ctrl-N: %q", doc.Before())
	}
}
