package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/actions"
	"github.com/Paranoid-AF/typira/agent"
	"github.com/Paranoid-AF/typira/keyboard"
	"github.com/Paranoid-AF/typira/store"
)

// stubChannel records what a session sends to the agent.
type stubChannel struct {
	mu       sync.Mutex
	opts     agent.Options
	h        agent.Handlers
	analyzed []typira.TypingContext
	closed   bool
}

func (c *stubChannel) Connected() bool { return true }
func (c *stubChannel) Connect() {}

func (c *stubChannel) Analyze(tc typira.TypingContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyzed = append(c.analyzed, tc)
	return nil
}

func (c *stubChannel) PerformAction(typira.PerformAction) error { return nil }

func (c *stubChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stubBackend never suggests anything.
type stubBackend struct{}

func (stubBackend) Suggest(context.Context, string, string) (string, error) { return "", nil }
func (stubBackend) Rewrite(_ context.Context, text, _, _ string) (string, error) {
	return "Rewritten.", nil
}
func (stubBackend) Remember(context.Context, string) error { return nil }
func (stubBackend) Transcribe(context.Context, string) (string, error) { return "", nil }

var testSocketCounter atomic.Int64

type testServer struct {
	*Server
	mu       sync.Mutex
	channels []*stubChannel
}

func (ts *testServer) channel(t *testing.T, i int) *stubChannel {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ts.mu.Lock()
		if len(ts.channels) > i {
			c := ts.channels[i]
			ts.mu.Unlock()
			return c
		}
		ts.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("session %d never dialed the agent", i)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	// Use /tmp directly to avoid macOS 104-char Unix socket path limit
	n := testSocketCounter.Add(1)
	sockPath := fmt.Sprintf("/tmp/typira-t%d.sock", n)
	srv, err := NewServerWithOptions(sockPath, keyboard.Options{
		Config:      typira.DefaultConfig(),
		Backend:     stubBackend{},
		Memories:    &store.MemoryList{},
		Credentials: store.StaticCredentials(""),
		Calendar:    actions.NewICSCalendar(t.TempDir()+"/calendar.ics", false),
		Openers:     []actions.Opener{actions.OpenerFunc(func(context.Context, string) error { return nil })},
		Dial: func(o agent.Options, h agent.Handlers) (keyboard.Channel, error) {
			c := &stubChannel{opts: o, h: h}
			ts.mu.Lock()
			ts.channels = append(ts.channels, c)
			ts.mu.Unlock()
			return c, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts.Server = srv
	t.Cleanup(func() { srv.Close() })
	go srv.Serve()
	return ts
}

type client struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dial(t *testing.T, sockPath string) *client {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *client) send(ev typira.ClientEvent) {
	c.t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		c.t.Fatal(err)
	}
	c.sendRaw(string(data))
}

func (c *client) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatal(err)
	}
}

// next reads server events until one of type typ arrives.
func (c *client) next(typ string) typira.ServerEvent {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for c.scanner.Scan() {
		var ev typira.ServerEvent
		if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
			c.t.Fatalf("bad server event %q: %v", c.scanner.Text(), err)
		}
		if ev.Type == typ {
			return ev
		}
	}
	c.t.Fatalf("no %q event from server: %v", typ, c.scanner.Err())
	return typira.ServerEvent{}
}

func TestFocusClearsStrip(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv.sockPath)

	c.send(typira.ClientEvent{Type: typira.EventFocus, Field: &typira.Field{App: "mail"}, Before: "Hi ", After: "there"})
	if ev := c.next(typira.EventSuggestion); ev.Suggestion != "" {
		t.Errorf("suggestion = %q, want empty", ev.Suggestion)
	}
	if ev := c.next(typira.EventActions); len(ev.Actions) != 0 {
		t.Errorf("actions = %v, want none", ev.Actions)
	}
	if ev := c.next(typira.EventStatus); ev.Status == nil || ev.Status.Kind != typira.StatusIdle {
		t.Errorf("status = %+v, want idle", ev.Status)
	}

	ch := srv.channel(t, 0)
	deadline := time.Now().Add(2 * time.Second)
	for {
		ch.mu.Lock()
		n := len(ch.analyzed)
		ch.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("analyzed %d contexts, want 1", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if got := ch.analyzed[0].FullText; got != "Hi there" {
		t.Errorf("full text = %q, want %q", got, "Hi there")
	}
}

func TestAgentEventsReachFrontEnd(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv.sockPath)
	c.send(typira.ClientEvent{Type: typira.EventFocus, Field: &typira.Field{App: "chat"}})
	c.next(typira.EventStatus)

	ch := srv.channel(t, 0)
	chips := []typira.SmartAction{{ID: "p1", Label: "Reply", Type: typira.ActionPromptTrigger, Payload: json.RawMessage(`"reply"`)}}
	ch.opts.Executor.Post(func() {
		ch.h.OnSuggestion(typira.SuggestionReady{Thought: "they asked a question", Actions: chips})
	})

	ev := c.next(typira.EventActions)
	if diff := cmp.Diff(chips, ev.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	ev = c.next(typira.EventStatus)
	if got := ev.Status.String(); got != "💡 they asked a question" {
		t.Errorf("status = %q", got)
	}
}

func TestInvalidEvents(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"malformed json", `{"type":`},
		{"unknown type", `{"type":"scroll"}`},
		{"focus without field", `{"type":"focus"}`},
		{"tap without id", `{"type":"tap","before":"x"}`},
		{"typed without text", `{"type":"typed"}`},
	}
	srv := newTestServer(t)
	c := dial(t, srv.sockPath)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.sendRaw(tt.line)
			ev := c.next(typira.EventError)
			if ev.Error == nil || ev.Error.Code != "invalid_event" {
				t.Errorf("error = %+v, want invalid_event", ev.Error)
			}
		})
	}
}

func TestRewriteChipAndTone(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv.sockPath)

	c.send(typira.ClientEvent{Type: typira.EventTap, ActionID: keyboard.ChipRewrite})
	if ev := c.next(typira.EventView); ev.View != keyboard.ViewAgent {
		t.Errorf("view = %q, want %q", ev.View, keyboard.ViewAgent)
	}

	c.send(typira.ClientEvent{Type: typira.EventRewrite, Before: "pls fix", Tone: "friendly"})
	ev := c.next(typira.EventEdit)
	if diff := cmp.Diff(&typira.Edit{Delete: 7, Insert: "Rewritten."}, ev.Edit); diff != "" {
		t.Errorf("edit mismatch (-want +got):\n%s", diff)
	}
}

func TestDisconnectClosesSession(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv.sockPath)
	c.send(typira.ClientEvent{Type: typira.EventBackspace})
	ch := srv.channel(t, 0)
	c.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !ch.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerCloseClosesSessions(t *testing.T) {
	srv := newTestServer(t)
	var chans []*stubChannel
	for i := range 3 {
		c := dial(t, srv.sockPath)
		c.send(typira.ClientEvent{Type: typira.EventBackspace})
		chans = append(chans, srv.channel(t, i))
	}
	// Let every connection register before shutting down.
	time.Sleep(50 * time.Millisecond)
	srv.Close()
	for i, ch := range chans {
		if !ch.isClosed() {
			t.Errorf("session %d still open after Close", i)
		}
	}
	if _, err := net.Dial("unix", srv.sockPath); err == nil {
		t.Error("socket still accepting after Close")
	}
}
