package suggest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Paranoid-AF/typira/loop"
	"github.com/Paranoid-AF/typira/scrub"
	"github.com/Paranoid-AF/typira/store"
)

const (
	DefaultBoundaryDelay = 600 * time.Millisecond
	DefaultMidwordDelay  = 1500 * time.Millisecond
	DefaultMinChars      = 3
	defaultCacheTTL      = 5 * time.Minute
)

// Suggester fetches a completion for text given the user's memories.
type Suggester interface {
	Suggest(ctx context.Context, text, memories string) (string, error)
}

// TriggerConfig holds Trigger tuning. Zero fields take the defaults.
type TriggerConfig struct {
	// BoundaryDelay is the wait after a space or punctuation key.
	BoundaryDelay time.Duration
	// MidwordDelay is the wait after any other key.
	MidwordDelay time.Duration
	// MinChars is the minimum trimmed length before the cursor.
	MinChars int
	// CacheTTL bounds how long identical requests are answered locally.
	CacheTTL time.Duration
	// RequestTimeout bounds one /suggest call.
	RequestTimeout time.Duration
}

// TriggerHandlers receive results on the trigger's executor.
type TriggerHandlers struct {
	// OnSuggestion receives a non-empty completion.
	OnSuggestion func(text string)
	// OnIdle fires when a request failed or returned nothing.
	OnIdle func()
}

// Trigger debounces text changes into /suggest requests. Only the newest
// request may deliver a result. Like history.Manager, every method must be
// called on the executor.
type Trigger struct {
	cfg      TriggerConfig
	clock    loop.Clock
	exec     loop.Executor
	client   Suggester
	memories store.MemoryStore
	h        TriggerHandlers
	cache    *ttlcache.Cache[string, string]

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	timer  loop.Timer
	gen    uint64
	reqID  uint64
	cancel context.CancelFunc
	closed bool
}

// NewTrigger creates a trigger. memories may be nil.
func NewTrigger(cfg TriggerConfig, clock loop.Clock, exec loop.Executor, client Suggester, memories store.MemoryStore, h TriggerHandlers) *Trigger {
	if cfg.BoundaryDelay <= 0 {
		cfg.BoundaryDelay = DefaultBoundaryDelay
	}
	if cfg.MidwordDelay <= 0 {
		cfg.MidwordDelay = DefaultMidwordDelay
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if clock == nil {
		clock = loop.RealClock
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
		ttlcache.WithCapacity[string, string](256),
	)
	go cache.Start()

	base, stop := context.WithCancel(context.Background())
	return &Trigger{
		cfg:      cfg,
		clock:    clock,
		exec:     exec,
		client:   client,
		memories: memories,
		h:        h,
		cache:    cache,
		base:     base,
		stop:     stop,
	}
}

// IsBoundary reports whether key ends a word.
func IsBoundary(key string) bool {
	r, _ := utf8.DecodeLastRuneInString(key)
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// TextChanged reschedules the request for the text before the cursor.
// lastKey is the text of the keystroke that caused the change, empty for
// edits that were not typed.
func (t *Trigger) TextChanged(before, lastKey string) {
	if t.closed {
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(before)) < t.cfg.MinChars {
		t.Cancel()
		return
	}
	delay := t.cfg.MidwordDelay
	if IsBoundary(lastKey) {
		delay = t.cfg.BoundaryDelay
	}

	t.stopTimer()
	gen := t.gen
	t.timer = t.clock.AfterFunc(delay, func() {
		t.exec.Post(func() {
			if gen != t.gen || t.closed {
				return
			}
			t.timer = nil
			t.fire(before)
		})
	})
}

// Cancel drops the pending timer and the in-flight request.
func (t *Trigger) Cancel() {
	t.stopTimer()
	t.cancelRequest()
}

// Close cancels all work and waits for in-flight requests to return.
func (t *Trigger) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.Cancel()
	t.stop()
	t.wg.Wait()
	t.cache.Stop()
}

func (t *Trigger) fire(text string) {
	t.cancelRequest()

	text = scrub.Scrub(text)
	if item := t.cache.Get(text); item != nil {
		slog.Debug("suggestion cache hit", "chars", len(text))
		t.deliver(item.Value())
		return
	}

	t.reqID++
	id := t.reqID
	ctx, cancel := context.WithTimeout(t.base, t.cfg.RequestTimeout)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		memories := ""
		if t.memories != nil {
			m, err := t.memories.Memories(ctx)
			if err != nil {
				slog.Warn("failed to read memories", "error", err)
			}
			memories = store.JoinMemories(m)
		}
		start := time.Now()
		result, err := t.client.Suggest(ctx, text, memories)
		elapsed := time.Since(start)

		t.exec.Post(func() {
			if id != t.reqID || t.closed {
				return
			}
			t.cancel = nil
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				slog.Debug("suggest failed", "error", err, "elapsed", elapsed)
				t.idle()
				return
			}
			slog.Debug("suggest", "chars", len(result), "elapsed", elapsed)
			t.cache.Set(text, result, ttlcache.DefaultTTL)
			t.deliver(result)
		})
	}()
}

func (t *Trigger) deliver(result string) {
	if result == "" {
		t.idle()
		return
	}
	if t.h.OnSuggestion != nil {
		t.h.OnSuggestion(result)
	}
}

func (t *Trigger) idle() {
	if t.h.OnIdle != nil {
		t.h.OnIdle()
	}
}

func (t *Trigger) stopTimer() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Trigger) cancelRequest() {
	t.reqID++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
