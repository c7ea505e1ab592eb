package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Event is a calendar entry to create.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar creates events on the user's calendar.
type Calendar interface {
	// Authorize asks for write access. It reports false on denial.
	Authorize(ctx context.Context) (bool, error)
	Create(ctx context.Context, ev Event) error
}

// ICSCalendar appends events to an iCalendar file.
type ICSCalendar struct {
	Path    string
	Enabled bool

	mu  sync.Mutex
	now func() time.Time
}

// NewICSCalendar returns a calendar backed by the file at path.
func NewICSCalendar(path string, enabled bool) *ICSCalendar {
	return &ICSCalendar{Path: path, Enabled: enabled, now: time.Now}
}

func (c *ICSCalendar) Authorize(context.Context) (bool, error) {
	return c.Enabled, nil
}

func (c *ICSCalendar) Create(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load()
	if err != nil {
		return err
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	vev := cal.AddEvent(uuid.NewString() + "@typira")
	vev.SetDtStampTime(now())
	vev.SetCreatedTime(now())
	vev.SetStartAt(ev.Start)
	vev.SetEndAt(ev.End)
	vev.SetSummary(ev.Title)
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("create calendar dir: %w", err)
	}
	if err := atomic.WriteFile(c.Path, strings.NewReader(cal.Serialize())); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

// events returns the events stored in the file.
func (c *ICSCalendar) events() ([]*ics.VEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cal, err := c.load()
	if err != nil {
		return nil, err
	}
	return cal.Events(), nil
}

func (c *ICSCalendar) load() (*ics.Calendar, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			cal := ics.NewCalendar()
			cal.SetMethod(ics.MethodPublish)
			cal.SetProductId("-//typira//keyboard//EN")
			return cal, nil
		}
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()
	cal, err := ics.ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", c.Path, err)
	}
	return cal, nil
}
