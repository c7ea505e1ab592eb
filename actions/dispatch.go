package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/scrub"
)

// ErrUnknownAction means the tapped id matched neither the current batch
// nor a built-in.
var ErrUnknownAction = errors.New("actions: unknown action")

// Status messages shown while executing actions.
const (
	MsgCalendarDenied  = "🚫 Calendar Access Denied"
	MsgEventCreated    = "✅ Event Created!"
	MsgEventFailed     = "❌ Failed to create event"
	defaultEventTitle  = "New Event"
	defaultActionLabel = "Action"
	defaultEventLength = time.Hour
)

// Prompter sends a tapped prompt trigger back to the agent.
type Prompter interface {
	PerformAction(pa typira.PerformAction) error
}

// Builtin handles a fixed chip such as "hub" or "paste".
type Builtin func(ctx context.Context) error

// Config holds the collaborators of a Dispatcher.
type Config struct {
	// Openers are tried in order for deep links. Nil means DefaultOpeners.
	Openers []Opener
	// Calendar receives calendar_event actions. Nil denies them.
	Calendar Calendar
	Prompter Prompter
	// Status receives progress messages. It is called on the dispatching
	// goroutine.
	Status func(typira.Status)
}

// Dispatcher executes tapped actions.
type Dispatcher struct {
	registry *Registry
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	builtins map[string]Builtin
}

// NewDispatcher returns a dispatcher resolving ids against reg.
func NewDispatcher(reg *Registry, cfg Config) *Dispatcher {
	if cfg.Openers == nil {
		cfg.Openers = DefaultOpeners()
	}
	return &Dispatcher{
		registry: reg,
		cfg:      cfg,
		now:      time.Now,
		builtins: make(map[string]Builtin),
	}
}

// Register installs a built-in for id, replacing any previous one.
func (d *Dispatcher) Register(id string, fn Builtin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builtins[id] = fn
}

// Dispatch executes the action with the given id. fullContext is the
// document text, sent with prompt triggers after scrubbing. Dispatch blocks
// until the action completed.
func (d *Dispatcher) Dispatch(ctx context.Context, id, fullContext string) error {
	a, ok := d.registry.Resolve(id)
	if !ok {
		d.mu.RLock()
		fn := d.builtins[id]
		d.mu.RUnlock()
		if fn == nil {
			slog.Debug("tapped unknown action", "id", id)
			return ErrUnknownAction
		}
		return fn(ctx)
	}

	label := a.Label
	if label == "" {
		label = defaultActionLabel
	}
	d.info("Executing " + label + "...")
	slog.Debug("dispatching action", "id", a.ID, "type", a.Type)

	switch a.Type {
	case typira.ActionDeepLink:
		return d.openLink(ctx, a, label)
	case typira.ActionCalendarEvent:
		return d.createEvent(ctx, a)
	case typira.ActionPromptTrigger:
		return d.promptTrigger(a, label, fullContext)
	}
	return fmt.Errorf("action %q: unsupported type %q", a.ID, a.Type)
}

func (d *Dispatcher) openLink(ctx context.Context, a typira.SmartAction, label string) error {
	uri := a.PayloadString()
	if err := Open(ctx, d.cfg.Openers, uri); err != nil {
		d.info("Could not open: " + label)
		return fmt.Errorf("open %q: %w", a.ID, err)
	}
	return nil
}

func (d *Dispatcher) createEvent(ctx context.Context, a typira.SmartAction) error {
	p, err := a.Calendar()
	if err != nil {
		d.info(MsgEventFailed)
		return err
	}
	ev := d.eventFromPayload(p)

	granted := false
	if d.cfg.Calendar != nil {
		granted, err = d.cfg.Calendar.Authorize(ctx)
		if err != nil {
			slog.Warn("calendar authorization failed", "error", err)
			granted = false
		}
	}
	if !granted {
		d.info(MsgCalendarDenied)
		return nil
	}
	if err := d.cfg.Calendar.Create(ctx, ev); err != nil {
		d.info(MsgEventFailed)
		return fmt.Errorf("create event: %w", err)
	}
	d.info(MsgEventCreated)
	return nil
}

// eventFromPayload applies the defaults: start now, one hour long.
func (d *Dispatcher) eventFromPayload(p typira.CalendarPayload) Event {
	ev := Event{Title: p.Title, Description: p.Description}
	if ev.Title == "" {
		ev.Title = defaultEventTitle
	}
	start, ok := parseTime(p.Start)
	if !ok {
		start = d.now()
	}
	end, ok := parseTime(p.End)
	if !ok {
		end = start.Add(defaultEventLength)
	}
	ev.Start, ev.End = start, end
	return ev
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (d *Dispatcher) promptTrigger(a typira.SmartAction, label, fullContext string) error {
	if d.cfg.Prompter == nil {
		return errors.New("no prompter configured")
	}
	err := d.cfg.Prompter.PerformAction(typira.PerformAction{
		ActionID: a.ID,
		Type:     a.Type,
		Payload:  a.Payload,
		Context:  scrub.Scrub(fullContext),
	})
	if err != nil {
		return fmt.Errorf("perform %q: %w", a.ID, err)
	}
	d.info("Typira is working on: " + label + "...")
	return nil
}

func (d *Dispatcher) info(text string) {
	if d.cfg.Status != nil {
		d.cfg.Status(typira.Status{Kind: typira.StatusInfo, Text: text})
	}
}
