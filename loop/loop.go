// Package loop provides the single serialized execution context that owns
// all keyboard-visible state. Timers and network goroutines never touch that
// state directly; they post closures onto a Loop.
package loop

import (
	"sync"
	"time"
)

// Executor runs posted functions on its execution context.
type Executor interface {
	Post(fn func())
}

// Clock creates timers. It exists so schedulers can be driven by a fake clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable pending callback.
type Timer interface {
	Stop() bool
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// Loop executes posted functions one at a time, in posting order, on a
// dedicated goroutine. The queue is unbounded so posting never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	closeMu sync.Once
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. Functions posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()
}

// Do posts fn and waits for it to run. It returns false if the loop closed
// before fn ran. Do must not be called from the loop itself.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-l.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Close stops the loop after the currently running function returns and
// waits for the loop goroutine to exit. Pending functions are discarded.
// Close must not be called from the loop itself.
func (l *Loop) Close() {
	l.closeMu.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		close(l.wake)
		l.mu.Unlock()
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}
	}
}
