// Package agent maintains the persistent duplex channel to the typira agent
// backend: a Socket.IO v5 client over the Engine.IO v4 websocket transport.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/typira"
	"github.com/Paranoid-AF/typira/loop"
	"github.com/Paranoid-AF/typira/store"
)

var (
	// ErrNotConnected is returned by sends while the channel is down.
	ErrNotConnected = errors.New("agent: not connected")
	// ErrQueueFull is returned when the outbox cannot take another message.
	ErrQueueFull = errors.New("agent: send queue full")
	// ErrRejected wraps a CONNECT_ERROR from the server.
	ErrRejected = errors.New("agent: connection rejected")

	errServerClosed = errors.New("agent: server closed the session")
)

// Event names.
const (
	EventAnalyze         = "analyze"
	EventPerformAction   = "perform_action"
	EventThoughtUpdate   = "thought_update"
	EventSuggestionReady = "suggestion_ready"
	EventConResponse     = "con_response"
)

const (
	defaultQueueSize       = 64
	defaultDialTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultResponseTimeout = 30 * time.Second
	defaultReconnectDelay  = time.Second
	defaultMaxReconnect    = 30 * time.Second
)

// State is the connection state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Options configures a Channel.
type Options struct {
	// URL is the backend origin (http, https, ws or wss).
	URL string
	// Namespace is the Socket.IO namespace; empty means "/".
	Namespace string
	// Credentials supplies the auth token, read once in New.
	Credentials store.CredentialStore
	// Executor runs handlers. Nil runs them on the reader goroutine.
	Executor loop.Executor
	// Clock drives the response watchdog. Nil means the wall clock.
	Clock  loop.Clock
	Dialer *websocket.Dialer
	// Reconnect retries with exponential backoff after a drop. When false
	// the channel waits for Connect.
	Reconnect         bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// EmbedToken copies the token into every outgoing payload.
	EmbedToken bool
	// ResponseTimeout bounds the wait for a reply after a send. Negative disables.
	ResponseTimeout time.Duration
	WriteTimeout    time.Duration
	DialTimeout     time.Duration
	QueueSize       int
}

// Handlers receive inbound events. Nil handlers are skipped.
type Handlers struct {
	OnThought    func(text string)
	OnSuggestion func(s typira.SuggestionReady)
	OnState      func(s State)
	// OnTimeout fires when no reply arrived within the response timeout.
	OnTimeout func()
}

// Channel is the agent connection. Sends are non-blocking and safe from any
// goroutine.
type Channel struct {
	opts     Options
	h        Handlers
	token    string
	endpoint string

	state  atomic.Int32
	closed atomic.Bool
	outbox chan []byte
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	watchdog loop.Timer
	watchGen uint64
}

// Endpoint maps a backend origin to its Socket.IO websocket URL.
func Endpoint(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse agent url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("agent url %q: unsupported scheme %q", origin, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("agent url %q: missing host", origin)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New creates a channel and starts connecting in the background.
func New(opts Options, h Handlers) (*Channel, error) {
	endpoint, err := Endpoint(opts.URL)
	if err != nil {
		return nil, err
	}
	opts.Namespace = normalizeNamespace(opts.Namespace)
	if opts.Clock == nil {
		opts.Clock = loop.RealClock
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(defaultMaxReconnect, opts.ReconnectDelay)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		}
	}

	c := &Channel{
		opts:     opts,
		h:        h,
		endpoint: endpoint,
		outbox:   make(chan []byte, opts.QueueSize),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.token = readToken(opts.Credentials)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c, nil
}

func readToken(creds store.CredentialStore) string {
	if creds == nil {
		return ""
	}
	token, err := creds.Token()
	if err != nil {
		if !errors.Is(err, store.ErrNoToken) {
			slog.Warn("failed to read auth token", "error", err)
		}
		return ""
	}
	if store.TokenExpired(token) {
		slog.Warn("auth token has expired; the agent may reject the connection")
	}
	return token
}

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Connected reports whether the channel is connected.
func (c *Channel) Connected() bool { return c.State() == StateConnected }

// Connect asks a disconnected channel to try again now.
func (c *Channel) Connect() {
	if c.closed.Load() || c.State() != StateDisconnected {
		return
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Analyze emits an "analyze" event carrying tc.
func (c *Channel) Analyze(tc typira.TypingContext) error {
	if c.opts.EmbedToken {
		tc.AuthToken = c.token
	}
	return c.emit(EventAnalyze, tc)
}

// PerformAction emits a "perform_action" event.
func (c *Channel) PerformAction(pa typira.PerformAction) error {
	if c.opts.EmbedToken {
		pa.Token = c.token
	}
	return c.emit(EventPerformAction, pa)
}

// Close disconnects and waits for the channel goroutines to exit.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
		<-c.done
		c.mu.Lock()
		c.stopWatchdogLocked()
		c.mu.Unlock()
	})
}

func (c *Channel) emit(name string, data any) error {
	if c.closed.Load() || !c.Connected() {
		return ErrNotConnected
	}
	msg, err := encodeEvent(c.opts.Namespace, name, data)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- msg:
	default:
		return ErrQueueFull
	}
	c.armWatchdog()
	slog.Debug("agent emit", "event", name, "bytes", len(msg))
	return nil
}

func (c *Channel) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	slog.Debug("agent state", "state", s.String())
	if c.h.OnState != nil {
		c.post(func() { c.h.OnState(s) })
	}
}

func (c *Channel) post(fn func()) {
	if c.closed.Load() {
		return
	}
	if c.opts.Executor == nil {
		fn()
		return
	}
	c.opts.Executor.Post(fn)
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectDelay
	b.MaxInterval = c.opts.MaxReconnectDelay

	for {
		connected, err := c.session(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		if err != nil {
			slog.Warn("agent channel down", "error", err, "reconnect", c.opts.Reconnect)
		}

		var (
			wait  <-chan time.Time
			timer *time.Timer
		)
		if c.opts.Reconnect {
			d := b.NextBackOff()
			slog.Debug("agent reconnect scheduled", "delay", d)
			timer = time.NewTimer(d)
			wait = timer.C
		}
		select {
		case <-ctx.Done():
		case <-c.kick:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// session runs one connection until it drops. connected reports whether the
// handshake completed.
func (c *Channel) session(ctx context.Context) (connected bool, err error) {
	c.setState(StateConnecting)

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.endpoint, header)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial agent: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	open, err := c.handshake(conn)
	if !stop() {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}

	c.drainOutbox()
	c.setState(StateConnected)
	slog.Info("agent connected", "sid", open.SID, "namespace", c.opts.Namespace)

	g, gctx := errgroup.WithContext(ctx)
	pong := make(chan struct{}, 1)
	g.Go(func() error { return c.readLoop(conn, open, pong) })
	g.Go(func() error { return c.writeLoop(gctx, conn, pong) })
	return true, g.Wait()
}

func (c *Channel) handshake(conn *websocket.Conn) (openPacket, error) {
	var open openPacket
	deadline := time.Now().Add(c.opts.DialTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return open, fmt.Errorf("read open packet: %w", err)
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return open, fmt.Errorf("expected engine.io open packet, got %d bytes", len(msg))
	}
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return open, fmt.Errorf("decode open packet: %w", err)
	}

	connect, err := encodeConnect(c.opts.Namespace, c.token)
	if err != nil {
		return open, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, connect); err != nil {
		return open, fmt.Errorf("send connect: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return open, fmt.Errorf("await connect: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return open, fmt.Errorf("send pong: %w", err)
			}
		case eioClose:
			return open, errServerClosed
		case eioMessage:
			p, err := decodeSocketIO(msg[1:])
			if err != nil || p.Namespace != c.opts.Namespace {
				continue
			}
			switch p.Type {
			case sioConnect:
				_ = conn.SetReadDeadline(time.Time{})
				_ = conn.SetWriteDeadline(time.Time{})
				return open, nil
			case sioConnectError:
				return open, fmt.Errorf("%w: %s", ErrRejected, decodeConnectError(p.Data))
			}
		}
	}
}

func (c *Channel) drainOutbox() {
	for {
		select {
		case <-c.outbox:
		default:
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, open openPacket, pong chan<- struct{}) error {
	idle := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			select {
			case pong <- struct{}{}:
			default:
			}
		case eioClose:
			return errServerClosed
		case eioMessage:
			if err := c.handlePacket(msg[1:]); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) handlePacket(b []byte) error {
	p, err := decodeSocketIO(b)
	if err != nil {
		slog.Debug("dropping malformed socket.io packet", "error", err)
		return nil
	}
	if p.Namespace != c.opts.Namespace {
		return nil
	}
	switch p.Type {
	case sioDisconnect:
		return errServerClosed
	case sioConnectError:
		return fmt.Errorf("%w: %s", ErrRejected, decodeConnectError(p.Data))
	case sioEvent:
		name, data, err := decodeEvent(p.Data)
		if err != nil {
			slog.Debug("dropping malformed event", "error", err)
			return nil
		}
		c.dispatch(name, data)
	}
	return nil
}

func (c *Channel) dispatch(name string, data json.RawMessage) {
	switch name {
	case EventThoughtUpdate:
		var ev struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("dropping malformed event", "event", name, "error", err)
			return
		}
		if ev.Text == nil || *ev.Text == "" {
			slog.Debug("dropping event without text", "event", name)
			return
		}
		text := *ev.Text
		c.rearmWatchdog()
		if c.h.OnThought != nil {
			c.post(func() { c.h.OnThought(text) })
		}
	case EventSuggestionReady:
		var ev struct {
			Thought *string              `json:"thought"`
			Actions []typira.SmartAction `json:"actions"`
			Result  string               `json:"result"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("dropping malformed event", "event", name, "error", err)
			return
		}
		if ev.Thought == nil {
			slog.Debug("dropping event without thought", "event", name)
			return
		}
		ready := typira.SuggestionReady{Thought: *ev.Thought, Actions: ev.Actions, Result: ev.Result}
		c.disarmWatchdog()
		if c.h.OnSuggestion != nil {
			c.post(func() { c.h.OnSuggestion(ready) })
		}
	case EventConResponse:
		slog.Debug("agent acknowledged connection", "bytes", len(data))
	default:
		slog.Debug("ignoring agent event", "event", name)
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn, pong <-chan struct{}) error {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			c.goodbye(conn)
			return nil
		case <-pong:
			if err := c.write(conn, []byte{eioPong}); err != nil {
				return err
			}
		case msg := <-c.outbox:
			if err := c.write(conn, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// goodbye sends a Socket.IO disconnect and a websocket close frame. Errors
// are ignored; the connection is going away either way.
func (c *Channel) goodbye(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, encodeDisconnect(c.opts.Namespace))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (c *Channel) armWatchdog() {
	if c.opts.ResponseTimeout < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armWatchdogLocked()
}

// rearmWatchdog restarts a running watchdog; a disarmed one stays disarmed.
func (c *Channel) rearmWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		c.armWatchdogLocked()
	}
}

func (c *Channel) disarmWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopWatchdogLocked()
}

func (c *Channel) armWatchdogLocked() {
	c.stopWatchdogLocked()
	gen := c.watchGen
	timeout := c.opts.ResponseTimeout
	c.watchdog = c.opts.Clock.AfterFunc(timeout, func() {
		c.mu.Lock()
		stale := gen != c.watchGen
		if !stale {
			c.watchdog = nil
		}
		c.mu.Unlock()
		if stale {
			return
		}
		slog.Debug("agent response timed out", "timeout", timeout)
		if c.h.OnTimeout != nil {
			c.post(c.h.OnTimeout)
		}
	})
}

func (c *Channel) stopWatchdogLocked() {
	c.watchGen++
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}
