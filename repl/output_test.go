package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Paranoid-AF/typira"
)

func TestCrlfWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &crlfWriter{w: &buf}
	n, err := w.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v; want 4, nil", n, err)
	}
	if got := buf.String(); got != "a\r\nb\r\n" {
		t.Errorf("wrote %q, want %q", got, "a\r\nb\r\n")
	}
}

func TestScreenLogsTOML(t *testing.T) {
	var out bytes.Buffer
	doc := &Document{}
	doc.Insert("see you at")
	scr := newScreen(io.Discard, &out, doc)
	scr.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	scr.SetActions([]typira.SmartAction{
		{ID: "cal", Label: "Add event", Type: typira.ActionCalendarEvent, Payload: json.RawMessage(`{"title":"Sync"}`)},
	})
	scr.SetStatus(typira.Status{Kind: typira.StatusThought, Text: "checking \"dates\""})
	scr.ApplyEdit(typira.Edit{Delete: 2, Insert: "at noon "})

	var log struct {
		Event []record `toml:"event"`
	}
	if _, err := toml.Decode(out.String(), &log); err != nil {
		t.Fatalf("decode log: %v\n%s", err, out.String())
	}
	if len(log.Event) != 3 {
		t.Fatalf("got %d records, want 3", len(log.Event))
	}
	if a := log.Event[0].Actions; len(a) != 1 || a[0].Key != "1" || a[0].Payload != `{"title":"Sync"}` {
		t.Errorf("actions record = %+v", a)
	}
	if got := log.Event[1].Status; got != "💭 checking \"dates\"" {
		t.Errorf("status = %q", got)
	}
	if e := log.Event[2]; e.Delete != 2 || e.Before != "see you at noon " {
		t.Errorf("edit record = %+v", e)
	}
	if !strings.Contains(out.String(), "[[event]]") {
		t.Error("records are not [[event]] tables")
	}
}

func TestScreenChip(t *testing.T) {
	scr := newScreen(io.Discard, io.Discard, &Document{})
	scr.SetActions([]typira.SmartAction{{ID: "a"}, {ID: "b"}})

	tests := []struct {
		sel  string
		want string
		ok   bool
	}{
		{"1", "a", true},
		{"2", "b", true},
		{"3", "", false},
		{"0", "", false},
		{"h", "hub", true},
		{"p", "paste", true},
		{"w", "rewrite", true},
		{"x", "", false},
	}
	for _, tt := range tests {
		got, ok := scr.Chip(tt.sel)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Chip(%q) = %q, %v; want %q, %v", tt.sel, got, ok, tt.want, tt.ok)
		}
	}
}
