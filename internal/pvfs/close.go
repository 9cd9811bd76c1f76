package pvfs

import (
	"context"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Close closes one client open. A set writeTime is applied to the file as
// its last write time.
func (c *Conn) Close(req *ntvfs.Request, fileID uint64, writeTime ntvfs.NTTime) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return err
	}
	if writeTime.IsSet() && !f.h.isDir {
		f.h.wt.forced = writeTime
	}
	return c.closeFile(f)
}

// closeFile drops f and, with the last open sharing it, its handle.
func (c *Conn) closeFile(f *File) error {
	c.cancelWaits(func(w *waitRecord) bool { return w.file == f })
	if f.notify != nil {
		c.closeNotify(f)
	}
	if f.find != nil {
		f.find.cursor.Close()
		f.find = nil
	}
	delete(c.files, f.id)

	h := f.h
	h.refs--
	if h.refs > 0 {
		if h.firstFile == f.id {
			for id, other := range c.files {
				if other.h == h {
					h.firstFile = id
					break
				}
			}
		}
		return nil
	}
	return c.destroyHandle(h)
}

// destroyHandle releases a handle in order: the forced write time, the
// byte-range locks, the open database entry with any deferred delete, and
// finally the descriptor.
func (c *Conn) destroyHandle(h *fileHandle) error {
	fs := c.fs
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if h.wt.timer != nil {
		h.wt.timer.Stop()
		h.wt.timer = nil
	}
	if h.wt.forced.IsSet() && h.fd >= 0 {
		keep(setTimes(h.fd, ntvfs.NTTime(0), h.wt.forced))
	}
	if h.oplock != nil && h.oplock.timer != nil {
		h.oplock.timer.Stop()
	}
	if h.brl != nil {
		keep(h.brl.Close())
	}

	if h.haveODB {
		c.syncName(h)
		lck, err := fs.odb.Lock(context.Background(), h.name.odbKey())
		if err != nil {
			keep(err)
		} else {
			res, err := lck.Close(h.id)
			keep(err)
			if err == nil && res.DeletePath != "" {
				keep(c.deferredDelete(h, res))
			}
			lck.Release()
		}
		h.haveODB = false
	}

	if h.fd >= 0 {
		if err := unix.Close(h.fd); err != nil {
			keep(common.FromErrno(err))
		}
		h.fd = -1
	}
	delete(c.handles, h.id.ID)
	fs.trackHandles(-1)
	if firstErr != nil {
		log.Warnf("[PVFS] Close of %s: %v", h.name.FullName, firstErr)
	}
	return firstErr
}

// deferredDelete removes the object of the last open once delete-on-close
// was set. A stream handle removes only its stream.
func (c *Conn) deferredDelete(h *fileHandle, res ntvfs.CloseResult) error {
	fs := c.fs
	name := h.name
	if name.StreamName != "" {
		if err := fs.streamDelete(name, h.fd); err != nil {
			return err
		}
		fs.notifyChange(res.DeletePath, ntvfs.NotifyActionRemovedStream, ntvfs.NotifyStreamName)
		return nil
	}
	log.Debugf("[PVFS] Delete on close of %s", res.DeletePath)
	if res.WasDirectory {
		if empty, err := dirEmpty(res.DeletePath); err != nil || !empty {
			return common.NewError(common.StatusDirectoryNotEmpty, "%s filled up before its delete on close", res.DeletePath)
		}
	}
	fs.xattrUnlinkHook(fs.target(name, h.fd))
	if err := fs.removeAt(res.DeletePath, res.WasDirectory); err != nil {
		return err
	}
	filter := ntvfs.NotifyFileName
	if res.WasDirectory {
		filter = ntvfs.NotifyDirName
	}
	fs.notifyChange(res.DeletePath, ntvfs.NotifyActionRemoved, filter)
	return nil
}

// removeAt unlinks or rmdirs full through a descriptor of its parent, so
// no symlink on the way is followed.
func (fs *FS) removeAt(full string, dir bool) error {
	dirfd, err := openNoFollow(fs.root, fs.relPath(filepath.Dir(full)), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(dirfd)
	flags := 0
	if dir {
		flags = unix.AT_REMOVEDIR
	}
	err = unix.Unlinkat(dirfd, filepath.Base(full), flags)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error { return unix.Unlinkat(dirfd, filepath.Base(full), flags) })
	}
	return common.FromErrno(err)
}

// setTimes sets the access and modification time of fd. Unset times keep
// their current value.
func setTimes(fd int, atime, mtime ntvfs.NTTime) error {
	if !atime.IsSet() || !mtime.IsSet() {
		st, err := fstat(fd)
		if err != nil {
			return err
		}
		if !atime.IsSet() {
			atime = st.Atime
		}
		if !mtime.IsSet() {
			mtime = st.Mtime
		}
	}
	tv := []unix.Timeval{
		unix.NsecToTimeval(atime.Time().UnixNano()),
		unix.NsecToTimeval(mtime.Time().UnixNano()),
	}
	err := unix.Futimes(fd, tv)
	if err != nil && isErrno(err, unix.EPERM) {
		err = withPrivilege(func() error { return unix.Futimes(fd, tv) })
	}
	return common.FromErrno(err)
}
