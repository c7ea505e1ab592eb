// Package history accumulates keystrokes into a bounded context buffer and
// decides when to sync them to the agent.
//
// A Manager is not safe for concurrent use. Every method must be called on the
// executor given to NewManager; timer callbacks are posted back onto it.
package history

import (
	"log/slog"
	"time"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/loop"
	"github.com/Paranoid-AF/typira/scrub"
)

const (
	DefaultDebounce          = 2000 * time.Millisecond
	DefaultOverflowThreshold = 300
	DefaultBufferLimit       = 1000
)

// Config holds Manager tuning.
type Config struct {
	// Debounce is the quiet period after the latest keystroke before a sync.
	Debounce time.Duration
	// OverflowThreshold flushes immediately once the buffer grows past it.
	OverflowThreshold int
	// BufferLimit caps the buffer length.
	BufferLimit int
}

// Sender delivers snapshots to the agent.
type Sender interface {
	Connected() bool
	Connect()
	Analyze(tc typira.TypingContext) error
}

// Document exposes the text of the focused field.
type Document interface {
	Text() string
}

// Manager owns the context buffer and the debounce timer.
type Manager struct {
	cfg    Config
	clock  loop.Clock
	exec   loop.Executor
	sender Sender
	doc    Document

	buf   *Buffer
	field typira.Field
	timer loop.Timer
	// gen invalidates timer callbacks that were already posted when the
	// timer was cancelled.
	gen    uint64
	closed bool
}

// NewManager creates a manager. Zero Config fields take the defaults.
func NewManager(cfg Config, clock loop.Clock, exec loop.Executor, sender Sender, doc Document) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.OverflowThreshold <= 0 {
		cfg.OverflowThreshold = DefaultOverflowThreshold
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = DefaultBufferLimit
	}
	if clock == nil {
		clock = loop.RealClock
	}
	return &Manager{
		cfg:    cfg,
		clock:  clock,
		exec:   exec,
		sender: sender,
		doc:    doc,
		buf:    NewBuffer(cfg.BufferLimit),
	}
}

// Field returns the currently focused field.
func (m *Manager) Field() typira.Field { return m.field }

// Pending returns the number of buffered characters.
func (m *Manager) Pending() int { return m.buf.Len() }

// Typed records committed text. Backspace and delete characters are not
// recorded, and nothing is recorded while the field is sensitive.
func (m *Manager) Typed(text string) {
	if m.closed || text == "" || text == "\b" || text == "\x7f" {
		return
	}
	if m.field.Sensitive() {
		return
	}
	m.buf.Append(text)

	if m.buf.Len() > m.cfg.OverflowThreshold {
		m.cancelTimer()
		m.Flush()
		return
	}
	m.armTimer()
}

// Reset cancels the pending sync and clears the buffer.
func (m *Manager) Reset() {
	m.cancelTimer()
	m.buf.Reset()
}

// Flush sends the buffered delta with the full document text. It returns
// the snapshot handed to the sender, or nil when nothing was sent.
func (m *Manager) Flush() *typira.TypingContext {
	m.cancelTimer()
	if m.buf.Len() == 0 {
		return nil
	}
	if !m.sender.Connected() {
		m.sender.Connect()
	}
	if !m.sender.Connected() {
		n := m.buf.Len()
		m.buf.Reset()
		slog.Debug("sync dropped, agent not connected", "chars", n)
		return nil
	}

	delta := m.buf.Take()
	full := ""
	if m.doc != nil {
		full = m.doc.Text()
	}
	if full == "" {
		full = delta
	}
	tc := scrub.ScrubContext(typira.TypingContext{
		FullText:         full,
		IncrementalDelta: delta,
		IsFullContext:    true,
		AppContext:       m.field.AppContext(),
	})
	if err := m.sender.Analyze(tc); err != nil {
		slog.Warn("sync failed", "error", err, "chars", runeLen(delta))
		return nil
	}
	slog.Debug("synced", "delta_chars", runeLen(delta), "text_chars", runeLen(full))
	return &tc
}

// Focus switches to a new field. The pending sync is cancelled, the buffer
// cleared, and the new field's content sent once as full context.
func (m *Manager) Focus(field typira.Field, fullText string) {
	m.Reset()
	m.field = field
	m.SendFullContext(fullText, field)
}

// SendFullContext sends fullText immediately without touching the buffer.
func (m *Manager) SendFullContext(fullText string, field typira.Field) *typira.TypingContext {
	if m.closed || field.Sensitive() || fullText == "" {
		return nil
	}
	if !m.sender.Connected() {
		m.sender.Connect()
		if !m.sender.Connected() {
			slog.Debug("full context dropped, agent not connected", "chars", runeLen(fullText))
			return nil
		}
	}
	tc := scrub.ScrubContext(typira.TypingContext{
		FullText:      fullText,
		IsFullContext: true,
		AppContext:    field.AppContext(),
	})
	if err := m.sender.Analyze(tc); err != nil {
		slog.Warn("full context send failed", "error", err)
		return nil
	}
	return &tc
}

// Close cancels the pending sync. Later calls are ignored.
func (m *Manager) Close() {
	m.Reset()
	m.closed = true
}

func (m *Manager) armTimer() {
	m.cancelTimer()
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.cfg.Debounce, func() {
		m.exec.Post(func() {
			if gen != m.gen || m.closed {
				return
			}
			m.timer = nil
			m.Flush()
		})
	})
}

func (m *Manager) cancelTimer() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
