package pvfs

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// WaitReason says why a suspended request is being resumed.
type WaitReason uint8

const (
	// WaitEvent means the condition the request waits for may have changed.
	WaitEvent WaitReason = iota
	WaitTimeout
	WaitCancel
)

func (r WaitReason) String() string {
	switch r {
	case WaitEvent:
		return "event"
	case WaitTimeout:
		return "timeout"
	case WaitCancel:
		return "cancel"
	}
	return "unknown"
}

// waitRecord is a suspended request. It is resumed exactly once, by a
// message carrying its token, by its timer or by cancellation. Every field
// is guarded by the connection mutex.
type waitRecord struct {
	c     *Conn
	token uint64
	req   *ntvfs.Request
	kind  string

	timer      ntvfs.Timer
	unregister func()
	replay     func() (any, error)
	// onCancel undoes partial work before a cancelled request completes.
	onCancel func()

	// set for pending byte-range locks
	file  *File
	lock  *ntvfs.LockRange
	fired bool
}

func (c *Conn) newWait(req *ntvfs.Request, kind string) *waitRecord {
	c.nextToken++
	return &waitRecord{c: c, token: c.nextToken, req: req, kind: kind}
}

func (w *waitRecord) waiter() ntvfs.Waiter {
	return ntvfs.Waiter{Server: w.c.id, Token: w.token}
}

// canPark reports whether req may be suspended until deadline. A zero
// deadline never expires.
func canPark(req *ntvfs.Request, deadline time.Time) bool {
	if !req.CanSuspend() {
		return false
	}
	return deadline.IsZero() || time.Now().Before(deadline)
}

// arm records w and suspends its request. replay runs the operation again
// when w fires; its result completes the request unless it parks again.
// unregister withdraws w from whatever it waits on.
func (c *Conn) arm(w *waitRecord, deadline time.Time, unregister func(), replay func() (any, error)) error {
	w.unregister = unregister
	w.replay = replay
	c.waits[w.token] = w
	if !deadline.IsZero() {
		w.timer = c.fs.sched.After(time.Until(deadline), func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.fire(WaitTimeout)
		})
	}
	w.req.MarkAsync()
	c.fs.metrics.RecordRetry(w.kind)
	c.fs.trackWaits(1)
	log.Debugf("[PVFS] Suspended %s request token=%d until %s", w.kind, w.token, deadline.Format(time.RFC3339Nano))
	return ntvfs.ErrPending
}

// fire resumes the request. c.mu must be held.
func (w *waitRecord) fire(reason WaitReason) {
	if w.fired {
		return
	}
	w.fired = true
	c := w.c
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(c.waits, w.token)
	c.fs.trackWaits(-1)
	if w.unregister != nil {
		w.unregister()
	}
	log.Debugf("[PVFS] Resuming %s request token=%d on %s", w.kind, w.token, reason)

	if reason == WaitCancel {
		if w.onCancel != nil {
			w.onCancel()
		}
		w.req.Complete(nil, common.NewError(common.StatusCancelled, "%s request cancelled", w.kind))
		return
	}
	end := w.req.BeginReplay()
	res, err := w.replay()
	end()
	if errors.Is(err, ntvfs.ErrPending) && w.req.IsAsync() {
		return
	}
	w.req.Complete(res, err)
}

// Cancel aborts a suspended request, which completes with StatusCancelled.
func (c *Conn) Cancel(req *ntvfs.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.waits {
		if w.req == req {
			w.fire(WaitCancel)
			return nil
		}
	}
	if c.cancelNotify(req) {
		return nil
	}
	return common.NewError(common.StatusInvalidParameter, "no suspended request to cancel")
}

// onRetry handles MsgPendingRetry and MsgBRLRetry.
func (c *Conn) onRetry(payload any) {
	token, ok := payload.(uint64)
	if !ok {
		log.Warnf("[PVFS] Unexpected retry payload %T", payload)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w := c.waits[token]; w != nil {
		w.fire(WaitEvent)
	}
}

// cancelWaits cancels every suspended request match selects.
func (c *Conn) cancelWaits(match func(w *waitRecord) bool) {
	var hit []*waitRecord
	for _, w := range c.waits {
		if match(w) {
			hit = append(hit, w)
		}
	}
	for _, w := range hit {
		w.fire(WaitCancel)
	}
}
