// Package keyboard wires the typing-context components into one Session per
// keyboard. All keyboard-visible state lives on the session's loop; the
// exported methods may be called from any goroutine.
package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/actions"
	"github.com/Paranoid-AF/typira/agent"
	"github.com/Paranoid-AF/typira/history"
	"github.com/Paranoid-AF/typira/loop"
	"github.com/Paranoid-AF/typira/scrub"
	"github.com/Paranoid-AF/typira/store"
	"github.com/Paranoid-AF/typira/suggest"
)

const (
	revealDelay    = 600 * time.Millisecond
	minMemoryChars = 3

	// HomeURI is opened by the "hub" chip.
	HomeURI = "typira://home"
	// ViewAgent is the agent hub view opened by the "rewrite" chip.
	ViewAgent = "agent"
)

// Built-in chip ids.
const (
	ChipHub     = "hub"
	ChipPaste   = "paste"
	ChipMic     = "mic"
	ChipRewrite = "rewrite"
)

// UI receives the session's visible effects. Methods are called on the
// session loop, one at a time.
type UI interface {
	SetStatus(s typira.Status)
	// SetActions replaces the chip row; nil clears it.
	SetActions(actions []typira.SmartAction)
	// SetSuggestion shows the inline completion; "" hides it.
	SetSuggestion(text string)
	ApplyEdit(e typira.Edit)
	ShowView(view string)
	InsertText(text string)
}

// Document gives access to the focused field around the cursor.
type Document interface {
	Before() string
	After() string
}

// Channel is the agent connection used by a Session.
type Channel interface {
	Connected() bool
	Connect()
	Analyze(tc typira.TypingContext) error
	PerformAction(pa typira.PerformAction) error
	Close()
}

// Backend is the HTTP side of the agent backend.
type Backend interface {
	Suggest(ctx context.Context, text, memories string) (string, error)
	Rewrite(ctx context.Context, text, memories, tone string) (string, error)
	Remember(ctx context.Context, text string) error
	Transcribe(ctx context.Context, path string) (string, error)
}

// Recorder captures dictation audio for the "mic" chip.
type Recorder interface {
	Start() error
	// Stop ends the recording and returns the path of the audio file.
	Stop() (string, error)
}

// DialFunc creates the agent channel.
type DialFunc func(opts agent.Options, h agent.Handlers) (Channel, error)

// Options configures a Session. Only UI and Document are required.
type Options struct {
	Config      *typira.Config
	UI          UI
	Document    Document
	Backend     Backend
	Memories    store.MemoryStore
	Credentials store.CredentialStore
	Calendar    actions.Calendar
	Openers     []actions.Opener
	Recorder    Recorder
	// Clipboard reads the system clipboard for the "paste" chip.
	Clipboard   func() (string, error)
	Clock       loop.Clock
	Dial        DialFunc
	Version     string
}

// Session is one keyboard attached to the agent.
type Session struct {
	loop      *loop.Loop
	ui        UI
	clock     loop.Clock
	backend   Backend
	memories  store.MemoryStore
	recorder  Recorder
	clipboard func() (string, error)
	openers   []actions.Opener

	channel    Channel
	history    *history.Manager
	registry   *actions.Registry
	dispatcher *actions.Dispatcher
	cache      suggest.Cache
	trigger    *suggest.Trigger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	docMu sync.Mutex
	doc   Document

	// Loop-owned state.
	view        snapshot
	lastSynced  string
	revealTimer loop.Timer
	revealGen   uint64
	recording   bool
	closed      bool
}

func dialAgent(opts agent.Options, h agent.Handlers) (Channel, error) {
	return agent.New(opts, h)
}

// New builds a session and starts connecting the agent channel.
func New(opts Options) (*Session, error) {
	if opts.UI == nil {
		return nil, errors.New("keyboard: UI is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = typira.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = loop.RealClock
	}
	if opts.Backend == nil {
		opts.Backend = suggest.NewClient(typira.ResolveBackendURL(cfg),
			typira.Seconds(cfg.Backend.TimeoutSeconds), opts.Version)
	}
	if opts.Memories == nil {
		opts.Memories = &store.MemoryList{}
	}
	if opts.Credentials == nil {
		opts.Credentials = store.CredentialsFromConfig(cfg)
	}
	if opts.Calendar == nil {
		opts.Calendar = actions.NewICSCalendar(typira.CalendarPath(cfg), typira.CalendarEnabled(cfg))
	}
	if opts.Openers == nil {
		opts.Openers = actions.DefaultOpeners()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.ReadAll
	}
	if opts.Dial == nil {
		opts.Dial = dialAgent
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		loop:      loop.New(),
		ui:        opts.UI,
		clock:     opts.Clock,
		backend:   opts.Backend,
		memories:  opts.Memories,
		recorder:  opts.Recorder,
		clipboard: opts.Clipboard,
		openers:   opts.Openers,
		registry:  &actions.Registry{},
		ctx:       ctx,
		cancel:    cancel,
		doc:       opts.Document,
	}

	ch, err := opts.Dial(agent.Options{
		URL:               typira.ResolveAgentURL(cfg),
		Namespace:         cfg.Agent.Namespace,
		Credentials:       opts.Credentials,
		Executor:          s.loop,
		Clock:             opts.Clock,
		Reconnect:         typira.ReconnectEnabled(cfg),
		ReconnectDelay:    typira.Milliseconds(cfg.Agent.ReconnectDelayMS),
		MaxReconnectDelay: typira.Milliseconds(cfg.Agent.MaxReconnectDelayMS),
		EmbedToken:        typira.EmbedTokenEnabled(cfg),
		ResponseTimeout:   typira.Seconds(cfg.Agent.ResponseTimeoutSeconds),
	}, agent.Handlers{
		OnThought:    s.onThought,
		OnSuggestion: s.onSuggestionReady,
		OnTimeout:    s.onTimeout,
	})
	if err != nil {
		cancel()
		s.loop.Close()
		return nil, fmt.Errorf("agent channel: %w", err)
	}
	s.channel = ch

	s.history = history.NewManager(history.Config{
		Debounce:          typira.Milliseconds(cfg.Sync.DebounceMS),
		OverflowThreshold: cfg.Sync.OverflowChars,
		BufferLimit:       cfg.Sync.BufferLimit,
	}, opts.Clock, s.loop, ch, docText{s})

	s.trigger = suggest.NewTrigger(suggest.TriggerConfig{
		BoundaryDelay:  typira.Milliseconds(cfg.Suggest.BoundaryDelayMS),
		MidwordDelay:   typira.Milliseconds(cfg.Suggest.MidwordDelayMS),
		MinChars:       cfg.Suggest.MinChars,
		CacheTTL:       typira.Seconds(cfg.Suggest.CacheTTLSeconds),
		RequestTimeout: typira.Seconds(cfg.Backend.TimeoutSeconds),
	}, opts.Clock, s.loop, opts.Backend, opts.Memories, suggest.TriggerHandlers{
		OnSuggestion: s.onInlineSuggestion,
		OnIdle:       func() { s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle}) },
	})

	s.dispatcher = actions.NewDispatcher(s.registry, actions.Config{
		Openers:  opts.Openers,
		Calendar: opts.Calendar,
		Prompter: ch,
		Status:   s.postStatus,
	})
	s.registerBuiltins()
	return s, nil
}

// snapshot is the document around the cursor as of one event.
type snapshot struct {
	before, after string
}

// docText adapts the session's event-ordered view for history.Manager.
type docText struct{ s *Session }

func (d docText) Text() string { return d.s.text() }

// capture reads the document on the calling goroutine, so the loop sees
// the text each event was reported with rather than whatever the document
// holds by the time the event runs.
func (s *Session) capture() snapshot {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	if s.doc == nil {
		return snapshot{}
	}
	return snapshot{before: s.doc.Before(), after: s.doc.After()}
}

func (s *Session) text() string { return s.view.before + s.view.after }

func (s *Session) before() string { return s.view.before }

// post runs fn on the loop unless the session has been torn down.
func (s *Session) post(fn func()) {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		fn()
	})
}

func (s *Session) postStatus(st typira.Status) {
	s.post(func() { s.ui.SetStatus(st) })
}

// Focus switches to a new input field. doc replaces the session document;
// nil keeps the current one.
func (s *Session) Focus(field typira.Field, doc Document) {
	if doc != nil {
		s.docMu.Lock()
		s.doc = doc
		s.docMu.Unlock()
	}
	snap := s.capture()
	s.post(func() {
		s.view = snap
		s.stopReveal()
		s.trigger.Cancel()
		s.cache.Clear()
		s.registry.Replace(nil)
		s.ui.SetSuggestion("")
		s.ui.SetActions(nil)
		s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})

		full := s.text()
		s.lastSynced = full
		s.history.Focus(field, full)
		slog.Debug("focus", "app", field.AppContext(), "sensitive", field.Sensitive(), "chars", utf8.RuneCountInString(full))
	})
}

// Typed records committed text, already applied to the document.
func (s *Session) Typed(text string) {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		s.history.Typed(text)
		s.lastSynced = s.text()
		if !s.history.Field().Sensitive() {
			s.trigger.TextChanged(s.before(), text)
		}
	})
}

// Backspace records a deletion, already applied to the document.
func (s *Session) Backspace() {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		s.lastSynced = s.text()
		if !s.history.Field().Sensitive() {
			s.trigger.TextChanged(s.before(), "\b")
		}
	})
}

// DocumentChanged reports a change not caused by typing, such as a cursor
// move that revealed more of the document. Once the document settles its
// full text is synced again.
func (s *Session) DocumentChanged() {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		if s.history.Field().Sensitive() {
			return
		}
		s.trigger.TextChanged(s.before(), "")
		full := s.text()
		if full == "" || full == s.lastSynced {
			return
		}
		s.stopReveal()
		gen := s.revealGen
		s.revealTimer = s.clock.AfterFunc(revealDelay, func() {
			s.post(func() {
				if gen != s.revealGen {
					return
				}
				s.revealTimer = nil
				final := s.text()
				if final == "" || final == s.lastSynced {
					return
				}
				slog.Debug("context reveal", "chars", utf8.RuneCountInString(final))
				s.history.SendFullContext(final, s.history.Field())
				s.lastSynced = final
			})
		})
	})
}

// Tap executes the chip with the given id.
func (s *Session) Tap(id string) {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		full := s.text()
		s.goAsync(func(ctx context.Context) {
			err := s.dispatcher.Dispatch(ctx, id, full)
			switch {
			case err == nil, errors.Is(err, actions.ErrUnknownAction):
			case errors.Is(err, agent.ErrNotConnected), errors.Is(err, agent.ErrQueueFull):
				slog.Warn("action not sent", "id", id, "error", err)
				s.postStatus(typira.Status{Kind: typira.StatusIdle})
			default:
				slog.Warn("action failed", "id", id, "error", err)
			}
		})
	})
}

// AcceptSuggestion replaces the text before the cursor with the live
// suggestion.
func (s *Session) AcceptSuggestion() {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		e, ok := s.cache.Accept(utf8.RuneCountInString(s.before()))
		if !ok {
			return
		}
		s.trigger.Cancel()
		s.ui.ApplyEdit(e)
		s.ui.SetSuggestion("")
		s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
	})
}

// Remember stores a snippet locally and syncs it to the backend.
func (s *Session) Remember(text string) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minMemoryChars {
		return
	}
	s.post(func() {
		s.goAsync(func(ctx context.Context) {
			if err := s.memories.Remember(ctx, text); err != nil {
				slog.Warn("failed to store memory", "error", err)
			}
			if err := s.backend.Remember(ctx, scrub.Scrub(text)); err != nil {
				slog.Warn("failed to sync memory", "error", err)
			}
		})
	})
}

// Rewrite rewrites the text before the cursor in the given tone.
func (s *Session) Rewrite(tone string) {
	snap := s.capture()
	s.post(func() {
		s.view = snap
		before := s.before()
		if strings.TrimSpace(before) == "" {
			return
		}
		s.ui.SetStatus(typira.Status{Kind: typira.StatusInfo, Text: "Rewriting..."})
		s.goAsync(func(ctx context.Context) {
			m, err := s.memories.Memories(ctx)
			if err != nil {
				slog.Warn("failed to read memories", "error", err)
			}
			out, err := s.backend.Rewrite(ctx, scrub.Scrub(before), store.JoinMemories(m), tone)
			s.post(func() {
				if err != nil || out == "" {
					if err != nil && !errors.Is(err, context.Canceled) {
						slog.Warn("rewrite failed", "error", err)
					}
					s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
					return
				}
				// The document moved on while the request was running.
				if s.before() != before {
					s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
					return
				}
				s.ui.ApplyEdit(typira.Edit{Delete: utf8.RuneCountInString(before), Insert: out})
				s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
			})
		})
	})
}

// Close tears down timers, in-flight work and the agent channel.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.loop.Do(func() {
			s.closed = true
			s.stopReveal()
			s.history.Close()
			s.trigger.Close()
		})
		s.channel.Close()
		s.wg.Wait()
		s.loop.Close()
	})
}

// goAsync runs fn off the loop. Results must be posted back.
func (s *Session) goAsync(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Session) stopReveal() {
	s.revealGen++
	if s.revealTimer != nil {
		s.revealTimer.Stop()
		s.revealTimer = nil
	}
}

func (s *Session) onThought(text string) {
	if s.closed {
		return
	}
	s.ui.SetStatus(typira.Status{Kind: typira.StatusThought, Text: text})
}

func (s *Session) onSuggestionReady(ev typira.SuggestionReady) {
	if s.closed {
		return
	}
	s.registry.Replace(ev.Actions)
	s.ui.SetActions(s.registry.All())
	if ev.Thought != "" {
		s.ui.SetStatus(typira.Status{Kind: typira.StatusSuggestion, Text: ev.Thought})
	}
	if ev.Result != "" {
		s.cache.Set(ev.Result)
		s.ui.SetSuggestion(ev.Result)
	}
}

func (s *Session) onTimeout() {
	if s.closed {
		return
	}
	s.ui.SetStatus(typira.Status{Kind: typira.StatusIdle})
}

func (s *Session) onInlineSuggestion(text string) {
	if s.closed {
		return
	}
	s.cache.Set(text)
	s.ui.SetSuggestion(text)
	s.ui.SetStatus(typira.Status{Kind: typira.StatusSuggestion, Text: text})
}
