// Package sched provides the event loop that runs timers, deferred work and
// message delivery outside of any request's call stack.
package sched

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/ntvfs"
)

// Loop runs posted callbacks one at a time on a single goroutine.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}

	msgMu    sync.RWMutex
	handlers map[msgKey][]*handler
	nextReg  uint64
}

var _ ntvfs.Scheduler = (*Loop)(nil)
var _ ntvfs.Messenger = (*Loop)(nil)

// New starts a loop.
func New() *Loop {
	l := &Loop{
		done:     make(chan struct{}),
		handlers: make(map[msgKey][]*handler),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[SCHED] PANIC RECOVERED in callback: %v\nStack:\n%s", r, debug.Stack())
		}
	}()
	fn()
}

// Post queues fn. Callbacks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Debugf("[SCHED] Post after close dropped")
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Sync blocks until every callback queued before the call has run.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() { close(ch) })
	l.cond.Signal()
	l.mu.Unlock()
	select {
	case <-ch:
	case <-l.done:
	}
}

// Close stops accepting work, runs what is queued and waits for the loop to
// exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type timer struct {
	state atomic.Int32
	t     *time.Timer
}

// Stop cancels the timer. Once it returns true the callback never runs.
func (t *timer) Stop() bool {
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.t.Stop()
	return true
}

// After runs fn on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) ntvfs.Timer {
	tm := &timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return tm
}
