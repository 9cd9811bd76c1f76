package pvfs

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/util"
)

// Read reads from an open file at off.
func (c *Conn) Read(req *ntvfs.Request, fileID uint64, off uint64, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return 0, err
	}
	h := f.h
	if h.isDir {
		return 0, common.NewError(common.StatusFileIsADirectory, "%s is a directory", f.Name())
	}
	if f.accessMask&(ntvfs.FileReadData|ntvfs.FileExecute) == 0 {
		return 0, common.NewError(common.StatusAccessDenied, "%s not opened for reading", f.Name())
	}
	if c.fs.opts.StrictLocking && len(buf) > 0 {
		if err := h.brl.Locktest(req.SMBPid, off, uint64(len(buf)), ntvfs.LockRead); err != nil {
			return 0, err
		}
	}

	var n int
	if h.name.StreamName != "" {
		n, err = c.fs.streamRead(h.name, h.fd, buf, off)
	} else {
		n, err = util.RetryWithResult(reqContext(req), func() (int, error) {
			return unix.Pread(h.fd, buf, int64(off))
		}, util.InterruptRetryOptions(reqContext(req))...)
		err = common.FromErrno(err)
	}
	if err != nil {
		return 0, err
	}
	h.position = off + uint64(n)
	return n, nil
}

// Write writes data to an open file at off. With writeThrough, or a handle
// opened write-through, the data is synced when the share is strict about
// syncs.
func (c *Conn) Write(req *ntvfs.Request, fileID uint64, off uint64, data []byte, writeThrough bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return 0, err
	}
	h := f.h
	if h.isDir {
		return 0, common.NewError(common.StatusFileIsADirectory, "%s is a directory", f.Name())
	}
	if f.accessMask&(ntvfs.FileWriteData|ntvfs.FileAppendData) == 0 {
		return 0, common.NewError(common.StatusAccessDenied, "%s not opened for writing", f.Name())
	}

	c.breakLevel2(f)

	if c.fs.opts.StrictLocking && len(data) > 0 {
		if err := h.brl.Locktest(req.SMBPid, off, uint64(len(data)), ntvfs.LockWrite); err != nil {
			return 0, err
		}
	}

	var n int
	if h.name.StreamName != "" {
		n, err = c.fs.streamWrite(h.name, h.fd, data, off)
	} else {
		n, err = util.RetryWithResult(reqContext(req), func() (int, error) {
			return unix.Pwrite(h.fd, data, int64(off))
		}, util.InterruptRetryOptions(reqContext(req))...)
		err = common.FromErrno(err)
	}
	if err != nil {
		return 0, err
	}
	h.position = off + uint64(n)
	c.scheduleWriteTime(h)

	if c.fs.opts.StrictSync && (writeThrough || h.mode&ntvfs.CreateWriteThrough != 0) {
		if err := fsync(reqContext(req), h.fd); err != nil {
			return n, err
		}
	}
	return n, nil
}

// scheduleWriteTime arranges for the write time of h's file to be
// published once, a little after the first write.
func (c *Conn) scheduleWriteTime(h *fileHandle) {
	if h.wt.dirty || h.wt.forced.IsSet() {
		return
	}
	h.wt.dirty = true
	if c.fs.opts.WriteTimeDelay <= 0 {
		c.updateWriteTime(h)
		return
	}
	h.wt.timer = c.fs.sched.After(c.fs.opts.WriteTimeDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.handles[h.id.ID] != h || h.wt.timer == nil {
			return
		}
		h.wt.timer = nil
		c.updateWriteTime(h)
	})
}

func (c *Conn) updateWriteTime(h *fileHandle) {
	if !h.haveODB {
		return
	}
	c.syncName(h)
	lck, err := c.fs.odb.Lock(context.Background(), h.name.odbKey())
	if err != nil {
		return
	}
	err = lck.SetWriteTime(time.Now(), false)
	lck.Release()
	if err == nil {
		c.fs.notifyChange(h.name.FullName, ntvfs.NotifyActionModified, ntvfs.NotifyLastWrite)
	}
}

func fsync(ctx context.Context, fd int) error {
	return common.FromErrno(util.Retry(ctx, func() error {
		return unix.Fsync(fd)
	}, util.InterruptRetryOptions(ctx)...))
}

// Flush syncs an open file to disk when the share is strict about syncs.
// A zero fileID flushes every file the calling process has open.
func (c *Conn) Flush(req *ntvfs.Request, fileID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var files []*File
	if fileID == 0 {
		files = c.filesMatching(func(f *File) bool {
			return f.session == req.SessionID && f.smbpid == req.SMBPid
		})
	} else {
		f, err := c.file(fileID)
		if err != nil {
			return err
		}
		files = []*File{f}
	}
	if !c.fs.opts.StrictSync {
		return nil
	}
	for _, f := range files {
		if f.h.isDir || f.h.fd < 0 {
			continue
		}
		if err := fsync(reqContext(req), f.h.fd); err != nil {
			return err
		}
	}
	return nil
}

// Seek moves the recorded position of an open file and returns it.
func (c *Conn) Seek(req *ntvfs.Request, fileID uint64, whence uint8, offset int64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return 0, err
	}
	h := f.h
	var base int64
	switch whence {
	case ntvfs.SeekSet:
	case ntvfs.SeekCur:
		base = int64(h.position)
	case ntvfs.SeekEnd:
		if err := c.fs.ResolveHandleName(h.name, h.fd); err != nil {
			return 0, err
		}
		base = int64(h.name.DOS.Size)
	default:
		return 0, common.NewError(common.StatusInvalidParameter, "invalid seek mode %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		pos = 0
	}
	h.position = uint64(pos)
	return h.position, nil
}
