package pvfs

import (
	"time"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Lock applies a batch of byte-range unlocks and locks to an open file.
// Unlocks run first. Locks are taken in order; a lock that cannot be
// granted may wait up to args.Timeout, and a batch that fails releases
// every lock it already took.
func (c *Conn) Lock(req *ntvfs.Request, fileID uint64, args *ntvfs.LockArgs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return err
	}
	h := f.h
	if h.isDir || h.brl == nil {
		return common.NewError(common.StatusInvalidDeviceRequest, "%s cannot be locked", f.Name())
	}
	if args.Cancel {
		return c.cancelLocks(f, args.Locks)
	}

	c.breakLevel2(f)

	for _, u := range args.Unlocks {
		if err := h.brl.Unlock(u.SMBPid, u.Offset, u.Length); err != nil {
			return err
		}
	}
	return c.lockFrom(req, f, args, 0)
}

// lockFrom takes args.Locks[k:]. Locks before k were granted by an earlier
// attempt of the same request.
func (c *Conn) lockFrom(req *ntvfs.Request, f *File, args *ntvfs.LockArgs, k int) error {
	h := f.h
	typ := ntvfs.LockWrite
	if args.Shared {
		typ = ntvfs.LockRead
	}
	for i := k; i < len(args.Locks); i++ {
		l := &args.Locks[i]

		var w *waitRecord
		var waiter *ntvfs.Waiter
		t := typ
		if args.Timeout != 0 && req.CanSuspend() {
			w = c.newWait(req, "lock")
			wr := w.waiter()
			waiter = &wr
			t = typ.Pending()
		}
		err := h.brl.Lock(l.SMBPid, l.Offset, l.Length, t, waiter)
		if err == nil {
			continue
		}
		if w != nil && (common.IsStatus(err, common.StatusLockNotGranted) || common.IsStatus(err, common.StatusFileLockConflict)) {
			var deadline time.Time
			if args.Timeout > 0 {
				deadline = req.Start.Add(args.Timeout)
			}
			if canPark(req, deadline) {
				w.file = f
				w.lock = l
				idx := i
				wr := *waiter
				w.onCancel = func() { c.unlockRanges(f, args.Locks[:idx]) }
				return c.arm(w, deadline,
					func() { c.removePending(f, wr) },
					func() (any, error) { return nil, c.lockFrom(req, f, args, idx) })
			}
			c.removePending(f, *waiter)
		}
		c.unlockRanges(f, args.Locks[:i])
		log.Debugf("[PVFS] Lock %d of %d on %s failed, batch rolled back: %v", i+1, len(args.Locks), f.Name(), err)
		return err
	}
	return nil
}

// unlockRanges releases the given locks, ignoring ranges that are already
// gone.
func (c *Conn) unlockRanges(f *File, ranges []ntvfs.LockRange) {
	for j := len(ranges) - 1; j >= 0; j-- {
		r := ranges[j]
		if err := f.h.brl.Unlock(r.SMBPid, r.Offset, r.Length); err != nil {
			log.Tracef("[PVFS] Rollback unlock %d+%d on %s: %v", r.Offset, r.Length, f.Name(), err)
		}
	}
}

func (c *Conn) removePending(f *File, w ntvfs.Waiter) {
	if err := f.h.brl.RemovePending(w); err != nil {
		log.Tracef("[PVFS] Remove pending lock token=%d on %s: %v", w.Token, f.Name(), err)
	}
}

// cancelLocks cancels pending lock requests of f waiting on one of ranges.
func (c *Conn) cancelLocks(f *File, ranges []ntvfs.LockRange) error {
	hit := false
	c.cancelWaits(func(w *waitRecord) bool {
		if w.file != f || w.lock == nil {
			return false
		}
		for _, r := range ranges {
			if *w.lock == r {
				hit = true
				return true
			}
		}
		return false
	})
	if !hit {
		return common.NewError(common.StatusInvalidParameter, "no pending lock to cancel on %s", f.Name())
	}
	return nil
}
