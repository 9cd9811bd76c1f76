// Package odb is an in-process Open Database. It records every open of a
// file, decides whether a new open is compatible with them and drives the
// oplock break protocol between openers.
package odb

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Config tunes the database.
type Config struct {
	// Oplocks allows oplock grants. When false every open gets none.
	Oplocks bool
}

// DB is safe for concurrent use.
type DB struct {
	cfg Config
	msg ntvfs.Messenger

	mu    sync.Mutex
	files map[ntvfs.ODBKey]*fileRecord
	locks map[ntvfs.ODBKey]*keyLock
}

var _ ntvfs.OpenDB = (*DB)(nil)

type fileRecord struct {
	path          string
	deleteOnClose bool
	writeTime     time.Time
	opens         []openEntry
	pending       []ntvfs.Waiter
}

type openEntry struct {
	ntvfs.OpenEntry
	oplock ntvfs.OplockLevel
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// New returns an empty database sending breaks and retries through msg.
func New(msg ntvfs.Messenger, cfg Config) *DB {
	return &DB{
		cfg:   cfg,
		msg:   msg,
		files: make(map[ntvfs.ODBKey]*fileRecord),
		locks: make(map[ntvfs.ODBKey]*keyLock),
	}
}

// Lock waits for exclusive use of key's record.
func (db *DB) Lock(ctx context.Context, key ntvfs.ODBKey) (ntvfs.OpenDBLock, error) {
	db.mu.Lock()
	kl := db.locks[key]
	if kl == nil {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		db.locks[key] = kl
	}
	kl.refs++
	db.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		db.unref(key, kl)
		return nil, common.WithStatus(ctx.Err(), common.StatusCancelled)
	}
	return &Lock{db: db, key: key, kl: kl}, nil
}

func (db *DB) unref(key ntvfs.ODBKey, kl *keyLock) {
	db.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(db.locks, key)
	}
	db.mu.Unlock()
}

// FileInfo returns the recorded state of key. Unknown keys report the zero
// state. Delete-on-close counts as set once any open asked for it.
func (db *DB) FileInfo(key ntvfs.ODBKey) (ntvfs.FileState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	f := db.files[key]
	if f == nil {
		return ntvfs.FileState{}, nil
	}
	st := ntvfs.FileState{
		Path:          f.path,
		DeleteOnClose: f.deleteOnClose,
		WriteTime:     f.writeTime,
		Opens:         len(f.opens),
	}
	for _, e := range f.opens {
		if e.DeleteOnClose {
			st.DeleteOnClose = true
		}
	}
	return st, nil
}

// Len returns the number of files with a record.
func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.files)
}

// Lock is a held record. Methods must not be used after Release.
type Lock struct {
	db       *DB
	key      ntvfs.ODBKey
	kl       *keyLock
	released bool

	checked   bool
	attrsOnly bool
}

var _ ntvfs.OpenDBLock = (*Lock)(nil)

func (l *Lock) Key() ntvfs.ODBKey { return l.key }

// record returns the file record, creating it when create is set. db.mu must
// be held.
func (l *Lock) record(create bool) *fileRecord {
	f := l.db.files[l.key]
	if f == nil && create {
		f = &fileRecord{}
		l.db.files[l.key] = f
	}
	return f
}

// gc drops a record nobody references any more. db.mu must be held.
func (l *Lock) gc(f *fileRecord) {
	if f != nil && len(f.opens) == 0 && len(f.pending) == 0 {
		delete(l.db.files, l.key)
	}
}

// Open decides whether an open described by c may proceed alongside the
// recorded ones.
func (l *Lock) Open(c ntvfs.OpenCheck) (ntvfs.Outcome, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	l.checked = true
	l.attrsOnly = false
	f := l.record(false)
	if f == nil {
		return ntvfs.Admitted, nil
	}

	// batch holders may have cached a close, so they are broken before the
	// share modes are compared
	for _, e := range f.opens {
		if e.oplock != ntvfs.OplockBatch {
			continue
		}
		if accessAttributesOnly(c.AccessMask, c.Disposition, c.BreakToNone) {
			l.attrsOnly = true
			break
		}
		l.sendBreak(e, breakLevel(c.BreakToNone))
		return ntvfs.Retryable, common.NewError(common.StatusOplockNotGranted, "batch oplock held by %s", e.Handle)
	}

	if f.deleteOnClose {
		return ntvfs.Denied, common.NewError(common.StatusDeletePending, "delete pending on %s", f.path)
	}
	if len(f.opens) != 0 && c.DeleteOnClose {
		return ntvfs.Retryable, common.NewError(common.StatusSharingViolation, "delete-on-close open of %s while open", f.path)
	}
	for _, e := range f.opens {
		if err := shareConflict(&e.OpenEntry, c.StreamID, c.ShareAccess, c.AccessMask); err != nil {
			return ntvfs.Retryable, err
		}
	}

	for _, e := range f.opens {
		if e.oplock != ntvfs.OplockExclusive {
			continue
		}
		if accessAttributesOnly(c.AccessMask, c.Disposition, c.BreakToNone) {
			l.attrsOnly = true
			break
		}
		l.sendBreak(e, breakLevel(c.BreakToNone))
		return ntvfs.Retryable, common.NewError(common.StatusOplockNotGranted, "exclusive oplock held by %s", e.Handle)
	}

	if c.BreakToNone || truncating(c.Disposition) {
		l.breakLevel2()
	}
	return ntvfs.Admitted, nil
}

func breakLevel(toNone bool) ntvfs.OplockLevel {
	if toNone {
		return ntvfs.OplockNone
	}
	return ntvfs.OplockLevel2
}

func truncating(disposition uint32) bool {
	switch disposition {
	case ntvfs.DispositionSupersede, ntvfs.DispositionOverwrite, ntvfs.DispositionOverwriteIf:
		return true
	}
	return false
}

func accessAttributesOnly(mask, disposition uint32, breakToNone bool) bool {
	if truncating(disposition) || breakToNone {
		return false
	}
	return mask&^(ntvfs.FileReadAttributes|ntvfs.FileWriteAttributes|ntvfs.StdSynchronize) == 0
}

// shareConflict compares one recorded open with a requested one. Opens that
// touch neither data nor delete rights never conflict, and neither do opens
// of different streams.
func shareConflict(e *ntvfs.OpenEntry, streamID, share, mask uint32) error {
	if e.AccessMask&ntvfs.AccessDataMask == 0 || mask&ntvfs.AccessDataMask == 0 {
		return nil
	}
	if e.StreamID != streamID {
		return nil
	}
	checks := []struct {
		am, right, sa, share uint32
	}{
		{mask, ntvfs.FileWriteData | ntvfs.FileAppendData, e.ShareAccess, ntvfs.ShareWrite},
		{e.AccessMask, ntvfs.FileWriteData | ntvfs.FileAppendData, share, ntvfs.ShareWrite},
		{mask, ntvfs.FileReadData | ntvfs.FileExecute, e.ShareAccess, ntvfs.ShareRead},
		{e.AccessMask, ntvfs.FileReadData | ntvfs.FileExecute, share, ntvfs.ShareRead},
		{mask, ntvfs.StdDelete, e.ShareAccess, ntvfs.ShareDelete},
		{e.AccessMask, ntvfs.StdDelete, share, ntvfs.ShareDelete},
	}
	for _, c := range checks {
		if c.am&c.right != 0 && c.sa&c.share == 0 {
			return common.NewError(common.StatusSharingViolation,
				"share conflict with %s (access 0x%x share 0x%x)", e.Handle, e.AccessMask, e.ShareAccess)
		}
	}
	return nil
}

func (l *Lock) sendBreak(e openEntry, level ntvfs.OplockLevel) {
	if l.db.msg == nil {
		return
	}
	log.Debugf("[ODB] Break %s of %s to %s", e.oplock, e.Handle, level)
	if err := l.db.msg.Send(e.Handle.Server, ntvfs.MsgOplockBreak, ntvfs.OplockBreak{Handle: e.Handle, Level: level}); err != nil {
		log.Debugf("[ODB] Break delivery to %s failed: %v", e.Handle, err)
	}
}

// breakLevel2 breaks every level II holder to none without waiting for a
// release. db.mu must be held.
func (l *Lock) breakLevel2() {
	f := l.record(false)
	if f == nil {
		return
	}
	for i := range f.opens {
		if f.opens[i].oplock == ntvfs.OplockLevel2 {
			l.sendBreak(f.opens[i], ntvfs.OplockNone)
			f.opens[i].oplock = ntvfs.OplockNone
		}
	}
}

// Commit records an open admitted by the preceding Open and returns the
// oplock granted to it.
func (l *Lock) Commit(e ntvfs.OpenEntry) (ntvfs.OplockLevel, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	f := l.record(true)
	if f.path == "" {
		f.path = e.Path
	}
	if f.writeTime.IsZero() {
		f.writeTime = e.WriteTime
	}

	level := e.Oplock
	if !l.db.cfg.Oplocks || e.IsDirectory || (l.checked && l.attrsOnly) {
		level = ntvfs.OplockNone
	}
	switch level {
	case ntvfs.OplockExclusive, ntvfs.OplockBatch:
		if len(f.opens) != 0 {
			if e.AllowLevel2 && !othersHoldExclusive(f) {
				level = ntvfs.OplockLevel2
			} else {
				level = ntvfs.OplockNone
			}
		}
	case ntvfs.OplockLevel2:
		if !e.AllowLevel2 || othersHoldExclusive(f) {
			level = ntvfs.OplockNone
		}
	default:
		level = ntvfs.OplockNone
	}

	f.opens = append(f.opens, openEntry{OpenEntry: e, oplock: level})
	log.Debugf("[ODB] Commit %s on %s oplock=%s opens=%d", e.Handle, l.key, level, len(f.opens))
	return level, nil
}

func othersHoldExclusive(f *fileRecord) bool {
	for _, o := range f.opens {
		if o.oplock == ntvfs.OplockExclusive || o.oplock == ntvfs.OplockBatch {
			return true
		}
	}
	return false
}

// Close removes h's entry, wakes every pending waiter and reports whether
// the caller must delete the object.
func (l *Lock) Close(h ntvfs.HandleID) (ntvfs.CloseResult, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	f := l.record(false)
	if f == nil {
		return ntvfs.CloseResult{}, common.NewError(common.StatusUnsuccessful, "no open database record for %s", l.key)
	}
	idx := -1
	for i, e := range f.opens {
		if e.Handle == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ntvfs.CloseResult{}, common.NewError(common.StatusUnsuccessful, "handle %s not recorded on %s", h, l.key)
	}
	e := f.opens[idx]
	if e.DeleteOnClose {
		f.deleteOnClose = true
	}
	f.opens = append(f.opens[:idx], f.opens[idx+1:]...)

	l.wakePending(f)

	var res ntvfs.CloseResult
	if len(f.opens) == 0 {
		res.LastClose = true
		res.WasDirectory = e.IsDirectory
		if f.deleteOnClose {
			res.DeletePath = f.path
		}
	}
	l.gc(f)
	return res, nil
}

// wakePending tells every waiter to retry and forgets them. db.mu must be
// held.
func (l *Lock) wakePending(f *fileRecord) {
	if len(f.pending) == 0 {
		return
	}
	for _, w := range f.pending {
		if l.db.msg == nil {
			continue
		}
		if err := l.db.msg.Send(w.Server, ntvfs.MsgPendingRetry, w.Token); err != nil {
			log.Debugf("[ODB] Retry delivery to %s/%d failed: %v", w.Server, w.Token, err)
		}
	}
	f.pending = nil
}

// UpdateOplock records a release or downgrade by h and wakes waiters.
func (l *Lock) UpdateOplock(h ntvfs.HandleID, level ntvfs.OplockLevel) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	f := l.record(false)
	if f == nil {
		return common.NewError(common.StatusUnsuccessful, "no open database record for %s", l.key)
	}
	for i := range f.opens {
		if f.opens[i].Handle == h {
			f.opens[i].oplock = level
			l.wakePending(f)
			return nil
		}
	}
	return common.NewError(common.StatusUnsuccessful, "handle %s not recorded on %s", h, l.key)
}

// BreakOplocks breaks all level II oplocks to none.
func (l *Lock) BreakOplocks() error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	l.breakLevel2()
	return nil
}

func (l *Lock) SetDeleteOnClose(on bool) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	f := l.record(false)
	if f == nil {
		return common.NewError(common.StatusUnsuccessful, "no open database record for %s", l.key)
	}
	f.deleteOnClose = on
	return nil
}

// SetWriteTime records a changed write time. A forced time overrides an
// earlier one; an unforced time only fills an empty slot.
func (l *Lock) SetWriteTime(t time.Time, forced bool) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	f := l.record(false)
	if f == nil {
		return common.NewError(common.StatusUnsuccessful, "no open database record for %s", l.key)
	}
	if !f.writeTime.IsZero() && !forced {
		return nil
	}
	f.writeTime = t
	return nil
}

func (l *Lock) RegisterPending(w ntvfs.Waiter) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	f := l.record(true)
	f.pending = append(f.pending, w)
	return nil
}

// RemovePending forgets w. A waiter already woken is not an error.
func (l *Lock) RemovePending(w ntvfs.Waiter) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	f := l.record(false)
	if f == nil {
		return nil
	}
	for i, p := range f.pending {
		if p == w {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	l.gc(f)
	return nil
}

func (l *Lock) Rename(newPath string) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	f := l.record(false)
	if f == nil {
		return nil
	}
	f.path = newPath
	for i := range f.opens {
		f.opens[i].Path = newPath
	}
	return nil
}

func (l *Lock) Path() string {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	if f := l.record(false); f != nil {
		return f.path
	}
	return ""
}

// Release gives up the record. It is safe to call more than once.
func (l *Lock) Release() {
	if l.released {
		return
	}
	l.released = true
	<-l.kl.sem
	l.db.unref(l.key, l.kl)
}

func (l *Lock) String() string {
	return fmt.Sprintf("odb lock %s", l.key)
}
