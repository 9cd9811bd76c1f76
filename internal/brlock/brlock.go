// Package brlock implements byte-range locks shared by every opener of a
// stream. Locks of one stream live in a btree ordered by start offset.
package brlock

import (
	"sync"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// conflictFloor is the offset from which a refused lock always reports a
// lock conflict, unless the top bit of the offset is set.
const conflictFloor = 0xEF000000

type lock struct {
	owner  ntvfs.HandleID
	smbpid uint32
	start  uint64
	size   uint64
	typ    ntvfs.LockType
	waiter ntvfs.Waiter
	seq    uint64
}

func lockLess(a, b *lock) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	return a.seq < b.seq
}

// beyond reports whether v lies at or past the end of l.
func (l *lock) beyond(v uint64) bool {
	if l.size == 0 {
		return v >= l.start
	}
	end := l.start + l.size
	if end == 0 {
		// range runs to the end of the 64 bit space
		return false
	}
	return v >= end
}

func overlap(a, b *lock) bool {
	if a.size != 0 && a.start == b.start && a.size == b.size {
		return true
	}
	if b.beyond(a.start) || a.beyond(b.start) {
		return false
	}
	return true
}

func sameContext(a, b *lock) bool {
	return a.owner == b.owner && a.smbpid == b.smbpid
}

func conflict(held, req *lock) bool {
	if held.typ.IsPending() || req.typ.IsPending() {
		return false
	}
	if held.typ == ntvfs.LockRead && req.typ == ntvfs.LockRead {
		return false
	}
	if sameContext(held, req) && req.typ == ntvfs.LockRead {
		return false
	}
	return overlap(held, req)
}

// conflictIO decides whether held prevents IO described by req.
func conflictIO(held, req *lock) bool {
	if held.typ.IsPending() || req.typ.IsPending() {
		return false
	}
	if held.typ == ntvfs.LockRead && req.typ == ntvfs.LockRead {
		return false
	}
	if sameContext(held, req) && (req.typ == ntvfs.LockRead || held.typ == ntvfs.LockWrite) {
		return false
	}
	return overlap(held, req)
}

type stream struct {
	tree *btree.BTreeG[*lock]
	refs int
}

// Manager owns the lock trees of all streams.
type Manager struct {
	msg ntvfs.Messenger

	mu      sync.Mutex
	streams map[ntvfs.BRLKey]*stream
	seq     uint64
}

var _ ntvfs.BRLManager = (*Manager)(nil)

// New returns a manager notifying pending waiters through msg.
func New(msg ntvfs.Messenger) *Manager {
	return &Manager{msg: msg, streams: make(map[ntvfs.BRLKey]*stream)}
}

// Open returns owner's handle on key's locks.
func (m *Manager) Open(key ntvfs.BRLKey, owner ntvfs.HandleID) ntvfs.BRLHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streams[key]
	if s == nil {
		s = &stream{tree: btree.NewG[*lock](16, lockLess)}
		m.streams[key] = s
	}
	s.refs++
	return &Handle{m: m, key: key, s: s, owner: owner}
}

// Handle is one opener's handle. It is safe for concurrent use.
type Handle struct {
	m     *Manager
	key   ntvfs.BRLKey
	s     *stream
	owner ntvfs.HandleID

	closed   bool
	lastFail *lock
}

var _ ntvfs.BRLHandle = (*Handle)(nil)

func checkRange(start, size uint64) error {
	if size > 1 && start+size-1 < start {
		return common.NewError(common.StatusInvalidLockRange, "lock range %d+%d wraps", start, size)
	}
	return nil
}

// failed picks the status for a refused lock. Repeating the last refused
// offset escalates to a conflict.
func (h *Handle) failed(l *lock) error {
	if l.start >= conflictFloor && l.start>>63 == 0 {
		return common.NewError(common.StatusFileLockConflict, "lock at %d refused", l.start)
	}
	if h.lastFail != nil && h.lastFail.owner == l.owner && h.lastFail.start == l.start {
		return common.NewError(common.StatusFileLockConflict, "lock at %d refused again", l.start)
	}
	cp := *l
	h.lastFail = &cp
	return common.NewError(common.StatusLockNotGranted, "lock %d+%d not granted", l.start, l.size)
}

// findConflict walks locks that may overlap l. m.mu must be held.
func (h *Handle) findConflict(l *lock, fn func(held, req *lock) bool) *lock {
	var hit *lock
	h.s.tree.Ascend(func(held *lock) bool {
		if l.beyond(held.start) && !(held.start == l.start) {
			return false
		}
		if fn(held, l) {
			hit = held
			return false
		}
		return true
	})
	return hit
}

// Lock takes a range. A pending type first tries the real lock. When that
// fails the pending entry is recorded and LockNotGranted returned so the
// caller can wait for a MsgBRLRetry to w.
func (h *Handle) Lock(smbpid uint32, start, size uint64, typ ntvfs.LockType, w *ntvfs.Waiter) error {
	if err := checkRange(start, size); err != nil {
		return err
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return common.WithStatus(common.ErrClosed, common.StatusInvalidHandle)
	}

	if typ.IsPending() {
		saved := h.lastFail
		err := h.lockLocked(smbpid, start, size, typ.Granted(), nil)
		h.lastFail = saved
		if err == nil {
			return nil
		}
		if w == nil {
			return err
		}
	}
	return h.lockLocked(smbpid, start, size, typ, w)
}

func (h *Handle) lockLocked(smbpid uint32, start, size uint64, typ ntvfs.LockType, w *ntvfs.Waiter) error {
	h.m.seq++
	l := &lock{owner: h.owner, smbpid: smbpid, start: start, size: size, typ: typ, seq: h.m.seq}
	if w != nil {
		l.waiter = *w
	}
	if held := h.findConflict(l, conflict); held != nil {
		log.Tracef("[BRL] %s %s %d+%d conflicts with %s", h.key, typ, start, size, held.owner)
		return h.failed(l)
	}
	h.s.tree.ReplaceOrInsert(l)
	if typ.IsPending() {
		return common.NewError(common.StatusLockNotGranted, "lock %d+%d pending", start, size)
	}
	return nil
}

// Unlock removes the granted lock matching exactly and notifies waiters
// whose ranges intersect it.
func (h *Handle) Unlock(smbpid uint32, start, size uint64) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	var found *lock
	h.s.tree.Ascend(func(l *lock) bool {
		if l.start > start {
			return false
		}
		if l.start == start && l.size == size && l.owner == h.owner && l.smbpid == smbpid && !l.typ.IsPending() {
			found = l
			return false
		}
		return true
	})
	if found == nil {
		return common.NewError(common.StatusRangeNotLocked, "range %d+%d not locked", start, size)
	}
	h.s.tree.Delete(found)
	h.notify(found)
	return nil
}

// notify wakes the pending locks that intersect removed. Among pending read
// locks sharing a range only the first is woken. m.mu must be held.
func (h *Handle) notify(removed *lock) {
	var lastRead *lock
	h.s.tree.Ascend(func(l *lock) bool {
		if !l.typ.IsPending() || (removed != nil && !overlap(l, removed)) {
			return true
		}
		if lastRead != nil && overlap(l, lastRead) {
			return true
		}
		if l.typ == ntvfs.LockPendingRead {
			lastRead = l
		}
		h.send(l.waiter)
		return true
	})
}

func (h *Handle) send(w ntvfs.Waiter) {
	if h.m.msg == nil {
		return
	}
	if err := h.m.msg.Send(w.Server, ntvfs.MsgBRLRetry, w.Token); err != nil {
		log.Debugf("[BRL] Retry delivery to %s/%d failed: %v", w.Server, w.Token, err)
	}
}

// RemovePending forgets the pending entry registered for w.
func (h *Handle) RemovePending(w ntvfs.Waiter) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	var found *lock
	h.s.tree.Ascend(func(l *lock) bool {
		if l.typ.IsPending() && l.owner == h.owner && l.waiter == w {
			found = l
			return false
		}
		return true
	})
	if found == nil {
		return common.NewError(common.StatusRangeNotLocked, "no pending lock for %d", w.Token)
	}
	h.s.tree.Delete(found)
	return nil
}

// Locktest reports whether IO of typ on the range is allowed.
func (h *Handle) Locktest(smbpid uint32, start, size uint64, typ ntvfs.LockType) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if h.s.tree.Len() == 0 {
		return nil
	}
	l := &lock{owner: h.owner, smbpid: smbpid, start: start, size: size, typ: typ}
	if held := h.findConflict(l, conflictIO); held != nil {
		return common.NewError(common.StatusFileLockConflict, "range %d+%d locked by %s", start, size, held.owner)
	}
	return nil
}

// Count returns the number of granted locks on the stream.
func (h *Handle) Count() int {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	n := 0
	h.s.tree.Ascend(func(l *lock) bool {
		if !l.typ.IsPending() {
			n++
		}
		return true
	})
	return n
}

// Close drops every lock of the handle, pending ones included, and tells the
// remaining waiters to retry.
func (h *Handle) Close() error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var mine []*lock
	h.s.tree.Ascend(func(l *lock) bool {
		if l.owner == h.owner {
			mine = append(mine, l)
		}
		return true
	})
	granted := 0
	for _, l := range mine {
		h.s.tree.Delete(l)
		if !l.typ.IsPending() {
			granted++
		}
	}
	if granted > 0 {
		h.notify(nil)
	}

	h.s.refs--
	if h.s.refs == 0 && h.s.tree.Len() == 0 {
		delete(h.m.streams, h.key)
	}
	return nil
}
