package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Paranoid-AF/typira/loop"
	"github.com/Paranoid-AF/typira/loop/looptest"
	"github.com/Paranoid-AF/typira/store"
)

type call struct {
	text, memories string
	ctx            context.Context
}

type fakeSuggester struct {
	mu    sync.Mutex
	calls []call
	reply func(ctx context.Context, text string) (string, error)
}

func (f *fakeSuggester) Suggest(ctx context.Context, text, memories string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{text: text, memories: memories, ctx: ctx})
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "suggested: " + text, nil
	}
	return reply(ctx, text)
}

func (f *fakeSuggester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type triggerHarness struct {
	l           *loop.Loop
	clock       *looptest.FakeClock
	s           *fakeSuggester
	tr          *Trigger
	suggestions chan string
	idles       chan struct{}
}

func newTriggerHarness(t *testing.T, memories store.MemoryStore) *triggerHarness {
	t.Helper()
	h := &triggerHarness{
		l:           loop.New(),
		clock:       looptest.NewFakeClock(time.Unix(0, 0)),
		s:           &fakeSuggester{},
		suggestions: make(chan string, 8),
		idles:       make(chan struct{}, 8),
	}
	h.tr = NewTrigger(TriggerConfig{}, h.clock, h.l, h.s, memories, TriggerHandlers{
		OnSuggestion: func(text string) { h.suggestions <- text },
		OnIdle:       func() { h.idles <- struct{}{} },
	})
	t.Cleanup(func() {
		h.l.Do(h.tr.Close)
		h.l.Close()
	})
	return h
}

func (h *triggerHarness) changed(before, key string) {
	h.l.Do(func() { h.tr.TextChanged(before, key) })
}

// advance moves the clock and lets the loop run the posted callbacks.
func (h *triggerHarness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.l.Do(func() {})
}

func (h *triggerHarness) suggestion(t *testing.T) string {
	t.Helper()
	select {
	case s := <-h.suggestions:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no suggestion delivered")
		return ""
	}
}

func TestIsBoundary(t *testing.T) {
	tests := map[string]bool{
		" ": true, ".": true, ",": true, "?": true, "$": true, "+": true,
		"a": false, "Z": false, "7": false, "": false, "é": false,
	}
	for key, want := range tests {
		if got := IsBoundary(key); got != want {
			t.Errorf("IsBoundary(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestTriggerDelays(t *testing.T) {
	tests := []struct {
		key   string
		delay time.Duration
	}{
		{" ", DefaultBoundaryDelay},
		{".", DefaultBoundaryDelay},
		{"o", DefaultMidwordDelay},
	}
	for _, tt := range tests {
		h := newTriggerHarness(t, nil)
		h.changed("hello"+tt.key, tt.key)
		h.advance(tt.delay - time.Millisecond)
		if n := h.s.count(); n != 0 {
			t.Errorf("key %q: requested after %v", tt.key, tt.delay-time.Millisecond)
		}
		h.advance(time.Millisecond)
		if got := h.suggestion(t); got != "suggested: hello"+tt.key {
			t.Errorf("key %q: suggestion = %q", tt.key, got)
		}
	}
}

func TestTriggerMinChars(t *testing.T) {
	h := newTriggerHarness(t, nil)
	h.changed("  ab  ", " ")
	if h.clock.Pending() != 0 {
		t.Errorf("armed a timer for short text")
	}
	h.changed("abc", "c")
	if h.clock.Pending() != 1 {
		t.Errorf("expected a timer for 3 chars")
	}
	// Shrinking below the minimum cancels the pending request.
	h.changed("ab", "\b")
	h.advance(5 * time.Second)
	if n := h.s.count(); n != 0 {
		t.Errorf("suggester called %d times", n)
	}
}

func TestTriggerDebounces(t *testing.T) {
	h := newTriggerHarness(t, nil)
	h.changed("hel", "l")
	h.advance(time.Second)
	h.changed("hell", "l")
	h.advance(time.Second)
	h.changed("hello", "o")
	h.advance(DefaultMidwordDelay)

	if got := h.suggestion(t); got != "suggested: hello" {
		t.Errorf("suggestion = %q", got)
	}
	if n := h.s.count(); n != 1 {
		t.Errorf("suggester called %d times, want 1", n)
	}
}

func TestTriggerSupersedesInFlight(t *testing.T) {
	h := newTriggerHarness(t, nil)
	firstCanceled := make(chan struct{})
	h.s.reply = func(ctx context.Context, text string) (string, error) {
		if text == "first request" {
			<-ctx.Done()
			close(firstCanceled)
			return "stale", ctx.Err()
		}
		return "fresh", nil
	}

	h.changed("first request", " ")
	h.advance(DefaultBoundaryDelay)
	waitCalls(t, h.s, 1)

	h.changed("second request", " ")
	h.advance(DefaultBoundaryDelay)

	select {
	case <-firstCanceled:
	case <-time.After(5 * time.Second):
		t.Fatal("first request was not cancelled")
	}
	if got := h.suggestion(t); got != "fresh" {
		t.Errorf("suggestion = %q, want fresh", got)
	}
	h.l.Do(func() {})
	select {
	case extra := <-h.suggestions:
		t.Errorf("superseded result delivered: %q", extra)
	case <-h.idles:
		t.Error("cancelled request reverted to idle")
	default:
	}
}

func TestTriggerCachesResponses(t *testing.T) {
	h := newTriggerHarness(t, nil)
	for i := 0; i < 2; i++ {
		h.changed("same text", " ")
		h.advance(DefaultBoundaryDelay)
		if got := h.suggestion(t); got != "suggested: same text" {
			t.Errorf("suggestion = %q", got)
		}
	}
	if n := h.s.count(); n != 1 {
		t.Errorf("suggester called %d times, want 1", n)
	}
}

func TestTriggerErrorGoesIdle(t *testing.T) {
	h := newTriggerHarness(t, nil)
	h.s.reply = func(context.Context, string) (string, error) { return "", errors.New("boom") }
	h.changed("hello", " ")
	h.advance(DefaultBoundaryDelay)
	select {
	case <-h.idles:
	case <-time.After(5 * time.Second):
		t.Fatal("error did not revert to idle")
	}
}

func TestTriggerEmptyResultGoesIdle(t *testing.T) {
	h := newTriggerHarness(t, nil)
	h.s.reply = func(context.Context, string) (string, error) { return "", nil }
	h.changed("hello", " ")
	h.advance(DefaultBoundaryDelay)
	select {
	case <-h.idles:
	case <-time.After(5 * time.Second):
		t.Fatal("empty result did not revert to idle")
	}
}

func TestTriggerScrubsAndSendsMemories(t *testing.T) {
	mem := &store.MemoryList{}
	mem.Remember(context.Background(), "I live in Oslo")
	mem.Remember(context.Background(), "My dog is Rex")
	h := newTriggerHarness(t, mem)

	h.changed("mail me at sam@example.com ", " ")
	h.advance(DefaultBoundaryDelay)
	h.suggestion(t)

	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	got := h.s.calls[0]
	if got.text != "mail me at [EMAIL] " {
		t.Errorf("text = %q", got.text)
	}
	if got.memories != "I live in Oslo. My dog is Rex" {
		t.Errorf("memories = %q", got.memories)
	}
}

func TestTriggerCancelAndClose(t *testing.T) {
	h := newTriggerHarness(t, nil)
	h.changed("hello", " ")
	h.l.Do(h.tr.Cancel)
	h.advance(5 * time.Second)
	if n := h.s.count(); n != 0 {
		t.Errorf("suggester called %d times after Cancel", n)
	}

	h.l.Do(h.tr.Close)
	h.changed("hello again", " ")
	if h.clock.Pending() != 0 {
		t.Error("closed trigger armed a timer")
	}
}

func waitCalls(t *testing.T, s *fakeSuggester, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("suggester reached %d calls, want %d", s.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
