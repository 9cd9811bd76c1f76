package pvfs

import (
	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

const defaultNotifyChanges = 100

// notifyBuffer collects the changes seen on a watched directory between
// notify requests.
type notifyBuffer struct {
	filter    uint32
	recursive bool
	max       int
	changes   []ntvfs.NotifyChange
	overflow  bool
	pending   []*ntvfs.Request
	cancel    func()
}

// Notify waits for changes below an open directory. Changes that arrived
// since the last call are returned at once; otherwise the request is
// suspended until one arrives, or returns empty when it cannot wait.
func (c *Conn) Notify(req *ntvfs.Request, fileID uint64, args *ntvfs.NotifyArgs) ([]ntvfs.NotifyChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return nil, err
	}
	if !f.h.isDir {
		return nil, common.NewError(common.StatusInvalidParameter, "%s is not a directory", f.Name())
	}
	if f.accessMask&ntvfs.FileListDirectory == 0 {
		return nil, common.NewError(common.StatusAccessDenied, "directory not opened for listing")
	}

	if f.notify == nil {
		max := args.MaxChanges
		if max <= 0 {
			max = defaultNotifyChanges
		}
		buf := &notifyBuffer{filter: args.Filter, recursive: args.Recursive, max: max}
		c.syncName(f.h)
		buf.cancel = c.fs.notify.Subscribe(c.fs.relPath(f.h.name.FullName), args.Recursive, args.Filter,
			func(ch ntvfs.NotifyChange) {
				c.mu.Lock()
				defer c.mu.Unlock()
				if f.notify == buf {
					c.notifyEvent(buf, ch)
				}
			})
		f.notify = buf
	}

	buf := f.notify
	if len(buf.changes) > 0 || buf.overflow {
		return buf.take()
	}
	if !req.CanSuspend() {
		return nil, nil
	}
	buf.pending = append(buf.pending, req)
	req.MarkAsync()
	log.Tracef("[PVFS] Notify on %s suspended", f.Name())
	return nil, ntvfs.ErrPending
}

// take hands out the buffered changes and resets the buffer.
func (b *notifyBuffer) take() ([]ntvfs.NotifyChange, error) {
	if b.overflow {
		b.overflow = false
		b.changes = nil
		return nil, common.NewError(common.StatusNotifyEnumDir, "too many changes, rescan the directory")
	}
	out := b.changes
	b.changes = nil
	return out, nil
}

func (c *Conn) notifyEvent(b *notifyBuffer, ch ntvfs.NotifyChange) {
	if !b.overflow {
		if len(b.changes) >= b.max {
			b.overflow = true
			b.changes = nil
		} else {
			b.changes = append(b.changes, ch)
		}
	}
	if len(b.pending) == 0 {
		return
	}
	req := b.pending[0]
	b.pending = b.pending[1:]
	res, err := b.take()
	req.Complete(res, err)
}

// cancelNotify completes a suspended notify request with StatusCancelled.
func (c *Conn) cancelNotify(req *ntvfs.Request) bool {
	for _, f := range c.files {
		b := f.notify
		if b == nil {
			continue
		}
		for i, r := range b.pending {
			if r == req {
				b.pending = append(b.pending[:i], b.pending[i+1:]...)
				req.Complete(nil, common.NewError(common.StatusCancelled, "notify cancelled"))
				return true
			}
		}
	}
	return false
}

// closeNotify ends the watch of a directory open being closed. Waiting
// requests complete with StatusNotifyCleanup.
func (c *Conn) closeNotify(f *File) {
	b := f.notify
	f.notify = nil
	b.cancel()
	for _, req := range b.pending {
		req.Complete(nil, common.NewError(common.StatusNotifyCleanup, "directory closed"))
	}
	b.pending = nil
}
