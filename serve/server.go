package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/keyboard"
	"github.com/Paranoid-AF/typira/store"
)

const (
	maxEventSize = 1 << 20
	writeTimeout = 5 * time.Second
)

// sessionEntry tracks a live front end connection.
type sessionEntry struct {
	conn    net.Conn
	session *keyboard.Session
}

// Server listens on a Unix domain socket for keyboard front ends.
type Server struct {
	listener net.Listener
	sockPath string
	base     keyboard.Options
	memories *store.SQLiteMemories

	mu       sync.Mutex
	nextID   int
	sessions map[int]sessionEntry
	closed   bool
}

// NewServer creates a server whose sessions share the configured memory
// database.
func NewServer(sockPath string, cfg *typira.Config) (*Server, error) {
	mem, err := store.OpenSQLiteMemories(typira.MemoryPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open memories: %w", err)
	}
	srv, err := NewServerWithOptions(sockPath, keyboard.Options{
		Config:   cfg,
		Memories: mem,
		Version:  Version,
	})
	if err != nil {
		mem.Close()
		return nil, err
	}
	srv.memories = mem
	return srv, nil
}

// NewServerWithOptions creates a server that builds every session from base.
// UI and Document are filled in per connection.
func NewServerWithOptions(sockPath string, base keyboard.Options) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		base:     base,
		sessions: make(map[int]sessionEntry),
	}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes every session and removes the socket file.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	live := make([]sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		live = append(live, e)
	}
	s.mu.Unlock()

	s.listener.Close()
	for _, e := range live {
		e.conn.Close()
	}
	for _, e := range live {
		e.session.Close()
	}
	if s.memories != nil {
		s.memories.Close()
	}
	os.Remove(s.sockPath)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	ui := &connUI{conn: conn}
	doc := &connDoc{}
	opts := s.base
	opts.UI = ui
	opts.Document = doc
	sess, err := keyboard.New(opts)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		ui.sendError("session_error", err.Error())
		return
	}
	defer sess.Close()

	id, ok := s.track(conn, sess)
	if !ok {
		return
	}
	defer s.untrack(id)
	slog.Debug("front end connected", "session", id)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		var ev typira.ClientEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			slog.Warn("invalid event", "session", id, "error", err)
			ui.sendError("invalid_event", "malformed JSON: "+err.Error())
			continue
		}
		slog.Debug("event", "session", id, "type", ev.Type, "before", len(ev.Before), "after", len(ev.After))
		if err := apply(sess, doc, &ev); err != nil {
			ui.sendError("invalid_event", err.Error())
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("connection read failed", "session", id, "error", err)
	}
	slog.Debug("front end disconnected", "session", id)
}

func (s *Server) track(conn net.Conn, sess *keyboard.Session) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.nextID++
	s.sessions[s.nextID] = sessionEntry{conn: conn, session: sess}
	return s.nextID, true
}

func (s *Server) untrack(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// apply updates the document snapshot and forwards ev to the session.
func apply(sess *keyboard.Session, doc *connDoc, ev *typira.ClientEvent) error {
	switch ev.Type {
	case typira.EventFocus:
		if ev.Field == nil {
			return errors.New("focus requires a field")
		}
		doc.set(ev.Before, ev.After)
		sess.Focus(*ev.Field, nil)
	case typira.EventTyped:
		if ev.Text == "" {
			return errors.New("typed requires text")
		}
		doc.set(ev.Before, ev.After)
		sess.Typed(ev.Text)
	case typira.EventBackspace:
		doc.set(ev.Before, ev.After)
		sess.Backspace()
	case typira.EventDocument:
		doc.set(ev.Before, ev.After)
		sess.DocumentChanged()
	case typira.EventTap:
		if ev.ActionID == "" {
			return errors.New("tap requires action_id")
		}
		doc.set(ev.Before, ev.After)
		sess.Tap(ev.ActionID)
	case typira.EventAccept:
		doc.set(ev.Before, ev.After)
		sess.AcceptSuggestion()
	case typira.EventRemember:
		sess.Remember(ev.Text)
	case typira.EventRewrite:
		doc.set(ev.Before, ev.After)
		sess.Rewrite(ev.Tone)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// connDoc is the latest document snapshot reported by the front end.
type connDoc struct {
	mu            sync.Mutex
	before, after string
}

func (d *connDoc) set(before, after string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.before, d.after = before, after
}

func (d *connDoc) Before() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.before
}

func (d *connDoc) After() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.after
}

// connUI pushes session effects to the front end as JSON lines.
type connUI struct {
	mu   sync.Mutex
	conn net.Conn
}

func (u *connUI) SetStatus(st typira.Status) {
	u.send(typira.ServerEvent{Type: typira.EventStatus, Status: &st})
}

func (u *connUI) SetActions(actions []typira.SmartAction) {
	u.send(typira.ServerEvent{Type: typira.EventActions, Actions: actions})
}

func (u *connUI) SetSuggestion(text string) {
	u.send(typira.ServerEvent{Type: typira.EventSuggestion, Suggestion: text})
}

func (u *connUI) ApplyEdit(e typira.Edit) {
	u.send(typira.ServerEvent{Type: typira.EventEdit, Edit: &e})
}

func (u *connUI) ShowView(view string) {
	u.send(typira.ServerEvent{Type: typira.EventView, View: view})
}

func (u *connUI) InsertText(text string) {
	u.send(typira.ServerEvent{Type: typira.EventInsert, Text: text})
}

func (u *connUI) sendError(code, msg string) {
	u.send(typira.ServerEvent{Type: typira.EventError, Error: &typira.Error{Code: code, Message: msg}})
}

func (u *connUI) send(ev typira.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := u.conn.Write(append(data, '\n')); err != nil {
		slog.Debug("failed to write event", "type", ev.Type, "error", err)
	}
}
