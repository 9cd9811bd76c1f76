// Copyright 2024 pvfs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pvfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Open opens or creates a file, directory or stream. An open that conflicts
// with other openers may be suspended; it then returns ntvfs.ErrPending and
// completes through req.OnComplete.
func (c *Conn) Open(req *ntvfs.Request, args *ntvfs.OpenArgs) (*ntvfs.OpenResult, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.open(req, args)
	c.fs.metrics.RecordOpen(outcomeLabel(err), time.Since(start))
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[PVFS] Open %s disposition=%d access=0x%x share=0x%x took %v: %v",
			args.Fname, args.Disposition, args.AccessMask, args.ShareAccess, time.Since(start), err)
	}
	return res, err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return common.StatusOf(err).String()
}

func validateOpen(args *ntvfs.OpenArgs) error {
	if args.Disposition > ntvfs.DispositionOverwriteIf {
		return common.NewError(common.StatusInvalidParameter, "invalid disposition %d", args.Disposition)
	}
	opts := args.CreateOptions
	if opts&ntvfs.CreateDirectory != 0 && opts&ntvfs.CreateNonDirectory != 0 {
		return common.NewError(common.StatusInvalidParameter, "directory and non-directory both requested")
	}
	if opts&ntvfs.CreateOpenByFileID != 0 {
		return common.NewError(common.StatusNotSupported, "open by file id")
	}
	return nil
}

// open runs one attempt of the state machine. It is replayed from the top
// when a suspended open wakes up. c.mu must be held.
func (c *Conn) open(req *ntvfs.Request, args *ntvfs.OpenArgs) (*ntvfs.OpenResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateOpen(args); err != nil {
		return nil, err
	}
	fs := c.fs
	name, err := fs.ResolveName(req, args.Fname, ResolveStream)
	if err != nil {
		return nil, err
	}

	if name.IsDir() {
		if name.StreamName != "" {
			return nil, common.NewError(common.StatusFileIsADirectory, "streams of directories are not supported")
		}
		if args.CreateOptions&ntvfs.CreateNonDirectory != 0 {
			return nil, common.NewError(common.StatusFileIsADirectory, "%s is a directory", args.Fname)
		}
		return c.openDirectory(req, args, name)
	}
	if args.CreateOptions&ntvfs.CreateDirectory != 0 {
		if name.Exists {
			return nil, common.NewError(common.StatusNotADirectory, "%s is not a directory", args.Fname)
		}
		if name.StreamName != "" {
			return nil, common.NewError(common.StatusObjectNameInvalid, "directory stream %s", args.Fname)
		}
		return c.openDirectory(req, args, name)
	}

	if name.Exists && (name.StreamName == "" || name.StreamExists) {
		if args.Disposition == ntvfs.DispositionCreate {
			return nil, common.NewError(common.StatusObjectNameCollision, "%s exists", args.Fname)
		}
		return c.openExisting(req, args, name, false)
	}
	switch args.Disposition {
	case ntvfs.DispositionOpen, ntvfs.DispositionOverwrite:
		return nil, common.NewError(common.StatusObjectNameNotFound, "%s not found", args.Fname)
	}
	if name.Exists {
		// the file is there, only the stream is new
		return c.openExisting(req, args, name, true)
	}
	return c.createFile(req, args, name)
}

func truncating(disposition uint32) bool {
	switch disposition {
	case ntvfs.DispositionSupersede, ntvfs.DispositionOverwrite, ntvfs.DispositionOverwriteIf:
		return true
	}
	return false
}

func createAction(disposition uint32) uint32 {
	switch disposition {
	case ntvfs.DispositionSupersede:
		return ntvfs.ActionSuperseded
	case ntvfs.DispositionOverwrite, ntvfs.DispositionOverwriteIf:
		return ntvfs.ActionOverwritten
	}
	return ntvfs.ActionOpened
}

func deleteOnClose(args *ntvfs.OpenArgs) bool {
	return args.CreateOptions&ntvfs.CreateDeleteOnClose != 0
}

// checkParentNotDeleting fails creates below a directory that is going
// away.
func (fs *FS) checkParentNotDeleting(parent *Filename) error {
	st, err := fs.odb.FileInfo(parent.odbKey())
	if err != nil {
		return err
	}
	if st.DeleteOnClose {
		return common.NewError(common.StatusDeletePending, "delete pending on %s", parent.OriginalName)
	}
	return nil
}

// createMask is the effective access of a new object's creator.
func createMask(req *ntvfs.Request, mask uint32) (uint32, error) {
	mask = mapGeneric(mask)
	if mask&ntvfs.FlagSystemSecurity != 0 && !req.Identity.Has(ntvfs.PrivSecurity) && !req.Identity.IsRoot() {
		return 0, common.NewError(common.StatusPrivilegeNotHeld, "system security access needs the security privilege")
	}
	if mask&ntvfs.FlagMaximumAllowed != 0 {
		mask = mask&^ntvfs.FlagMaximumAllowed | ntvfs.FileAllAccess
	}
	return mask, nil
}

// openFD opens the backing object for a handle. A permission failure is
// retried with privilege since the access check already passed.
func (fs *FS) openFD(name *Filename, flags int, mode uint32) (int, error) {
	rel := fs.relPath(name.FullName)
	fd, err := openNoFollow(fs.root, rel, flags, mode)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error {
			var perr error
			fd, perr = openNoFollow(fs.root, rel, flags, mode)
			return perr
		})
	}
	return fd, err
}

func fileFlags(mask uint32) int {
	if mask&(ntvfs.FileWriteData|ntvfs.FileAppendData) != 0 {
		return unix.O_RDWR
	}
	return unix.O_RDONLY
}

// admit turns an open database decision into the open's error. A
// retryable refusal suspends the request when it may wait, in which case
// ErrPending is returned.
func (c *Conn) admit(req *ntvfs.Request, lck ntvfs.OpenDBLock, outcome ntvfs.Outcome, err error, replay func() (any, error)) error {
	switch outcome {
	case ntvfs.Admitted:
		return nil
	case ntvfs.Retryable:
		return c.retryable(req, "open", lck, err, replay)
	}
	if err == nil {
		err = common.NewError(common.StatusAccessDenied, "open refused")
	}
	return err
}

// retryable parks a request the open database refused for now. Sharing
// violations wait out the sharing delay, oplock conflicts twice the break
// timeout. The cause is returned when the request cannot wait.
func (c *Conn) retryable(req *ntvfs.Request, kind string, lck ntvfs.OpenDBLock, cause error, replay func() (any, error)) error {
	var deadline time.Time
	switch common.StatusOf(cause) {
	case common.StatusSharingViolation:
		deadline = req.Start.Add(c.fs.opts.SharingDelay)
	case common.StatusOplockNotGranted:
		deadline = req.Start.Add(2 * c.fs.opts.OplockTimeout)
	default:
		return cause
	}
	if !canPark(req, deadline) {
		return cause
	}
	w := c.newWait(req, kind)
	if err := lck.RegisterPending(w.waiter()); err != nil {
		log.Warnf("[PVFS] Failed to register %s waiter on %s: %v", kind, lck.Key(), err)
		return cause
	}
	key := lck.Key()
	return c.arm(w, deadline, func() { c.fs.removeODBPending(key, w.waiter()) }, replay)
}

// retryWouldBlock polls an open the kernel refused with EWOULDBLOCK, for
// as long as the sharing delay allows.
func (c *Conn) retryWouldBlock(req *ntvfs.Request, cause error, replay func() (any, error)) error {
	deadline := req.Start.Add(c.fs.opts.SharingDelay)
	if !canPark(req, deadline) {
		return cause
	}
	interval := c.fs.opts.SharingDelay / 10
	if interval <= 0 {
		interval = time.Millisecond
	}
	w := c.newWait(req, "would-block")
	return c.arm(w, time.Now().Add(interval), nil, replay)
}

func (fs *FS) removeODBPending(key ntvfs.ODBKey, w ntvfs.Waiter) {
	lck, err := fs.odb.Lock(context.Background(), key)
	if err != nil {
		log.Warnf("[PVFS] Failed to lock %s to drop waiter %d: %v", key, w.Token, err)
		return
	}
	defer lck.Release()
	if err := lck.RemovePending(w); err != nil {
		log.Debugf("[PVFS] Waiter %d on %s already gone: %v", w.Token, key, err)
	}
}

// denyDOSReuse finds an open of the same name by the same client process
// with the same legacy deny flags, whose handle a refused open may share.
func (c *Conn) denyDOSReuse(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename) *File {
	if args.PrivateFlags&(ntvfs.PrivateDenyDOS|ntvfs.PrivateDenyFCB) == 0 {
		return nil
	}
	for _, f := range c.files {
		h := f.h
		if f.session == req.SessionID && f.smbpid == req.SMBPid &&
			h.createOptions == args.CreateOptions &&
			h.privateFlags&(ntvfs.PrivateDenyDOS|ntvfs.PrivateDenyFCB) == args.PrivateFlags&(ntvfs.PrivateDenyDOS|ntvfs.PrivateDenyFCB) &&
			f.accessMask&ntvfs.FileWriteData != 0 &&
			strings.EqualFold(h.name.OriginalName, name.OriginalName) {
			return f
		}
	}
	return nil
}

// grantOplock is the oplock level to ask the open database for.
func (c *Conn) grantOplock(req *ntvfs.Request, args *ntvfs.OpenArgs, brl ntvfs.BRLHandle) ntvfs.OplockLevel {
	if !c.fs.opts.Oplocks || brl.Count() > 0 {
		return ntvfs.OplockNone
	}
	return args.Oplock
}

func (c *Conn) allowLevel2(req *ntvfs.Request) bool {
	return c.fs.opts.Level2Oplocks && req.Level2Oplocks
}

// openExisting opens a file that exists. createStream is set when the file
// exists but the named stream has to be created.
func (c *Conn) openExisting(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename, createStream bool) (*ntvfs.OpenResult, error) {
	fs := c.fs
	trunc := truncating(args.Disposition) && !createStream
	mask := args.AccessMask
	if err := fs.accessCheck(req, name, &mask); err != nil {
		return nil, err
	}
	if trunc || createStream {
		if err := fs.accessCheckSimple(req, name, ntvfs.FileWriteData); err != nil {
			return nil, err
		}
	}
	if fs.opts.ReadOnly && (mask&writeRights != 0 || trunc || createStream) {
		return nil, common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	doc := deleteOnClose(args)
	if doc && mask&ntvfs.StdDelete == 0 {
		return nil, common.NewError(common.StatusInvalidParameter, "delete-on-close without delete access")
	}
	if name.DOS.Attrib&ntvfs.AttrReadOnly != 0 {
		if doc {
			return nil, common.NewError(common.StatusCannotDelete, "%s is read-only", name.OriginalName)
		}
		if mask&(ntvfs.FileWriteData|ntvfs.FileAppendData) != 0 {
			return nil, common.NewError(common.StatusAccessDenied, "%s is read-only", name.OriginalName)
		}
	}
	if trunc {
		// an overwrite must restate the hidden and system attributes
		keep := name.DOS.Attrib & (ntvfs.AttrHidden | ntvfs.AttrSystem)
		if keep&^args.FileAttrs != 0 {
			return nil, common.NewError(common.StatusAccessDenied, "overwrite drops attributes 0x%x", keep)
		}
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		return nil, err
	}
	defer lck.Release()

	check := ntvfs.OpenCheck{
		StreamID:      name.StreamID,
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: doc,
		Disposition:   args.Disposition,
	}
	replay := func() (any, error) { return c.open(req, args) }
	outcome, err := lck.Open(check)
	if outcome == ntvfs.Retryable && common.IsStatus(err, common.StatusSharingViolation) {
		if f := c.denyDOSReuse(req, args, name); f != nil {
			return c.reuse(req, f, args)
		}
	}
	if err := c.admit(req, lck, outcome, err, replay); err != nil {
		return nil, err
	}

	flags := fileFlags(mask) | unix.O_NONBLOCK
	switch {
	case name.StreamName != "":
		// stream data lives in attributes of the base file
		flags = unix.O_RDONLY | unix.O_NONBLOCK
	case trunc:
		flags = unix.O_RDWR | unix.O_NONBLOCK | unix.O_TRUNC
	}
	fd, err := fs.openFD(name, flags, 0)
	if err != nil {
		if common.IsStatus(err, common.StatusWouldBlock) {
			return nil, c.retryWouldBlock(req, err, replay)
		}
		return nil, err
	}

	h := c.newHandle(name, fd, false, args)
	h.accessMask = mask
	h.brl = fs.brl.Open(name.brlKey(), h.id)
	level, err := lck.Commit(ntvfs.OpenEntry{
		Handle:        h.id,
		StreamID:      name.StreamID,
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: doc,
		Path:          name.FullName,
		AllowLevel2:   c.allowLevel2(req),
		Oplock:        c.grantOplock(req, args, h.brl),
	})
	if err != nil {
		c.discardHandle(h)
		return nil, err
	}
	h.haveODB = true
	h.setOplock(level)

	action := createAction(args.Disposition)
	if err := c.afterOpen(req, args, h, trunc, createStream); err != nil {
		c.abortOpen(h, lck)
		return nil, err
	}
	if createStream {
		action = ntvfs.ActionCreated
	}
	f := c.addFile(h, req, mask, args.ShareAccess)
	return c.openResult(f, action)
}

// afterOpen applies what an overwrite or stream create changes once the
// open is recorded.
func (c *Conn) afterOpen(req *ntvfs.Request, args *ntvfs.OpenArgs, h *fileHandle, trunc, createStream bool) error {
	fs := c.fs
	name := h.name
	switch {
	case createStream:
		if err := fs.streamCreate(name, h.fd); err != nil {
			return err
		}
		fs.notifyChange(name.FullName, ntvfs.NotifyActionAddedStream, ntvfs.NotifyStreamName)
		return nil
	case !trunc:
		return nil
	}
	if name.StreamName != "" {
		if err := fs.streamTruncate(name, h.fd, 0); err != nil {
			return err
		}
		fs.notifyChange(name.FullName, ntvfs.NotifyActionModifiedStream, ntvfs.NotifyStreamSize)
		return nil
	}
	if err := fs.ResolveHandleName(name, h.fd); err != nil {
		return err
	}
	attrib := args.FileAttrs&ntvfs.AttrSettable | ntvfs.AttrArchive
	name.DOS.Attrib = attrib &^ ntvfs.AttrNormal
	name.DOS.AllocSize = fs.roundAlloc(args.AllocSize)
	if err := fs.saveDOS(name, h.fd); err != nil {
		return err
	}
	if len(args.EAs) > 0 {
		if err := fs.setEAs(name, h.fd, args.EAs); err != nil {
			return err
		}
	}
	if err := fs.applyAttribMode(name, h.fd, name.DOS.Attrib); err != nil {
		return err
	}
	fs.notifyChange(name.FullName, ntvfs.NotifyActionModified, ntvfs.NotifyAttributes|ntvfs.NotifySize|ntvfs.NotifyLastWrite)
	return nil
}

// reuse attaches another client open to f's handle.
func (c *Conn) reuse(req *ntvfs.Request, f *File, args *ntvfs.OpenArgs) (*ntvfs.OpenResult, error) {
	log.Debugf("[PVFS] Reusing handle of %s for legacy deny-mode open", f.h.name.FullName)
	nf := c.addFile(f.h, req, f.accessMask, args.ShareAccess)
	return c.openResult(nf, ntvfs.ActionOpened)
}

func (c *Conn) openResult(f *File, action uint32) (*ntvfs.OpenResult, error) {
	info, err := c.fileInfo(f)
	if err != nil {
		c.closeFile(f)
		return nil, err
	}
	return &ntvfs.OpenResult{
		FileID:       f.id,
		CreateAction: action,
		Oplock:       f.h.oplockLevel(),
		Info:         info,
	}, nil
}

// discardHandle undoes newHandle for an open that was never recorded.
func (c *Conn) discardHandle(h *fileHandle) {
	if h.brl != nil {
		h.brl.Close()
	}
	if h.fd >= 0 {
		unix.Close(h.fd)
		h.fd = -1
	}
	delete(c.handles, h.id.ID)
	c.fs.trackHandles(-1)
}

// abortOpen withdraws a recorded open whose follow-up work failed.
func (c *Conn) abortOpen(h *fileHandle, lck ntvfs.OpenDBLock) {
	if _, err := lck.Close(h.id); err != nil {
		log.Warnf("[PVFS] Failed to withdraw open of %s: %v", h.name.FullName, err)
	}
	h.haveODB = false
	c.discardHandle(h)
}

// createFile creates a new file, and the named stream on it if one was
// asked for. Any failure before the open is recorded removes the file.
func (c *Conn) createFile(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename) (*ntvfs.OpenResult, error) {
	fs := c.fs
	parent, err := fs.resolveParent(name)
	if err != nil {
		return nil, err
	}
	if err := fs.checkParentNotDeleting(parent); err != nil {
		return nil, err
	}
	if err := fs.accessCheckCreate(req, parent, false); err != nil {
		return nil, err
	}
	mask, err := createMask(req, args.AccessMask)
	if err != nil {
		return nil, err
	}
	doc := deleteOnClose(args)
	if doc && mask&ntvfs.StdDelete == 0 {
		return nil, common.NewError(common.StatusInvalidParameter, "delete-on-close without delete access")
	}
	if doc && args.FileAttrs&ntvfs.AttrReadOnly != 0 {
		return nil, common.NewError(common.StatusCannotDelete, "read-only file with delete-on-close")
	}
	if len(args.EAs) > 0 && !fs.opts.EA {
		return nil, common.NewError(common.StatusEAsNotSupported, "EAs are disabled on this share")
	}

	attrib := args.FileAttrs&ntvfs.AttrSettable | ntvfs.AttrArchive
	mode := fs.modeForCreate(attrib, false)
	fd, err := fs.openFD(name, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_NONBLOCK, mode|unix.S_IWUSR)
	if err != nil {
		if isErrno(err, unix.EEXIST) && args.Disposition != ntvfs.DispositionCreate {
			// lost a race with another creator; open what it made
			again, rerr := fs.ResolveName(req, args.Fname, ResolveStream)
			if rerr != nil {
				return nil, rerr
			}
			if again.Exists && !again.IsDir() {
				return c.openExisting(req, args, again, again.StreamName != "" && !again.StreamExists)
			}
		}
		return nil, err
	}
	undo := func() {
		unix.Close(fd)
		fs.xattrUnlinkHook(fs.target(name, -1))
		if err := unix.Unlink(name.FullName); err != nil {
			log.Warnf("[PVFS] Failed to remove %s after a failed create: %v", name.FullName, err)
		}
	}
	if err := fs.initNewObject(req, args, parent, name, fd, attrib); err != nil {
		undo()
		return nil, err
	}
	if name.StreamName != "" {
		if err := fs.streamCreate(name, fd); err != nil {
			undo()
			return nil, err
		}
	}
	if mode&unix.S_IWUSR == 0 {
		if err := unix.Fchmod(fd, mode); err != nil {
			undo()
			return nil, common.FromErrno(err)
		}
		name.St.Mode = name.St.Mode&^07777 | mode
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		undo()
		return nil, err
	}
	defer lck.Release()
	if outcome, err := lck.Open(ntvfs.OpenCheck{
		StreamID:      name.StreamID,
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: doc,
		Disposition:   args.Disposition,
	}); outcome != ntvfs.Admitted {
		undo()
		return nil, err
	}

	h := c.newHandle(name, fd, false, args)
	h.accessMask = mask
	h.brl = fs.brl.Open(name.brlKey(), h.id)
	level, err := lck.Commit(ntvfs.OpenEntry{
		Handle:        h.id,
		StreamID:      name.StreamID,
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: doc,
		Path:          name.FullName,
		AllowLevel2:   c.allowLevel2(req),
		Oplock:        c.grantOplock(req, args, h.brl),
	})
	if err != nil {
		h.fd = -1
		c.discardHandle(h)
		undo()
		return nil, err
	}
	h.haveODB = true
	h.setOplock(level)

	fs.notifyChange(name.FullName, ntvfs.NotifyActionAdded, ntvfs.NotifyFileName)
	f := c.addFile(h, req, mask, args.ShareAccess)
	return c.openResult(f, ntvfs.ActionCreated)
}

// initNewObject writes the initial metadata of a file or directory just
// created through fd.
func (fs *FS) initNewObject(req *ntvfs.Request, args *ntvfs.OpenArgs, parent, name *Filename, fd int, attrib uint32) error {
	st, err := fstat(fd)
	if err != nil {
		return err
	}
	name.St = st
	name.Exists = true
	stream := name.StreamName
	name.StreamName = ""
	defer func() { name.StreamName = stream }()
	if err := fs.fillDOS(name, fd); err != nil {
		return err
	}
	name.DOS.Attrib = attrib &^ ntvfs.AttrNormal
	if name.St.IsDir() {
		name.DOS.Attrib |= ntvfs.AttrDirectory
	}
	if args.AllocSize > 0 && !name.St.IsDir() {
		name.DOS.AllocSize = fs.roundAlloc(args.AllocSize)
	}
	if err := fs.saveDOS(name, fd); err != nil {
		return err
	}
	if len(args.EAs) > 0 {
		if err := fs.setEAs(name, fd, args.EAs); err != nil {
			return err
		}
	}
	return fs.applyNewSD(req, parent, name, fd, args.SecDesc)
}

// openDirectory handles directory opens and creates.
func (c *Conn) openDirectory(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename) (*ntvfs.OpenResult, error) {
	switch args.Disposition {
	case ntvfs.DispositionOpen, ntvfs.DispositionOpenIf, ntvfs.DispositionCreate:
	default:
		return nil, common.NewError(common.StatusInvalidParameter, "disposition %d on a directory", args.Disposition)
	}
	if name.Exists {
		if args.Disposition == ntvfs.DispositionCreate {
			return nil, common.NewError(common.StatusObjectNameCollision, "%s exists", args.Fname)
		}
		return c.openExistingDir(req, args, name)
	}
	if args.Disposition == ntvfs.DispositionOpen {
		return nil, common.NewError(common.StatusObjectNameNotFound, "%s not found", args.Fname)
	}
	return c.createDirectory(req, args, name)
}

func dirEmpty(path string) (bool, error) {
	d, err := os.Open(path)
	if err != nil {
		return false, common.FromErrno(err)
	}
	defer d.Close()
	names, err := d.Readdirnames(1)
	if len(names) > 0 {
		return false, nil
	}
	if err != nil && err != io.EOF {
		return false, common.FromErrno(err)
	}
	return true, nil
}

func (c *Conn) openExistingDir(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename) (*ntvfs.OpenResult, error) {
	fs := c.fs
	mask := args.AccessMask
	if err := fs.accessCheck(req, name, &mask); err != nil {
		return nil, err
	}
	if fs.opts.ReadOnly && mask&writeRights != 0 {
		return nil, common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	doc := deleteOnClose(args)
	if doc {
		if mask&ntvfs.StdDelete == 0 {
			return nil, common.NewError(common.StatusInvalidParameter, "delete-on-close without delete access")
		}
		if name.FullName == fs.root {
			return nil, common.NewError(common.StatusCannotDelete, "the share root cannot be deleted")
		}
		empty, err := dirEmpty(name.FullName)
		if err != nil {
			return nil, err
		}
		if !empty {
			return nil, common.NewError(common.StatusDirectoryNotEmpty, "%s is not empty", name.OriginalName)
		}
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		return nil, err
	}
	defer lck.Release()
	replay := func() (any, error) { return c.open(req, args) }
	outcome, err := lck.Open(ntvfs.OpenCheck{
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: doc,
		Disposition:   args.Disposition,
	})
	if err := c.admit(req, lck, outcome, err, replay); err != nil {
		return nil, err
	}

	fd, err := fs.openFD(name, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, err
	}
	h, err := c.commitDir(req, args, lck, name, fd, mask)
	if err != nil {
		return nil, err
	}
	f := c.addFile(h, req, mask, args.ShareAccess)
	return c.openResult(f, ntvfs.ActionOpened)
}

func (c *Conn) commitDir(req *ntvfs.Request, args *ntvfs.OpenArgs, lck ntvfs.OpenDBLock, name *Filename, fd int, mask uint32) (*fileHandle, error) {
	h := c.newHandle(name, fd, true, args)
	h.accessMask = mask
	h.brl = c.fs.brl.Open(name.brlKey(), h.id)
	if _, err := lck.Commit(ntvfs.OpenEntry{
		Handle:        h.id,
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: deleteOnClose(args),
		Path:          name.FullName,
		IsDirectory:   true,
	}); err != nil {
		c.discardHandle(h)
		return nil, err
	}
	h.haveODB = true
	return h, nil
}

// mkdirAt creates the directory name without following symlinks on the
// way and returns a descriptor for it.
func (fs *FS) mkdirAt(name *Filename, mode uint32) (int, error) {
	dirfd, err := openNoFollow(fs.root, fs.relPath(filepath.Dir(name.FullName)), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return -1, err
	}
	defer unix.Close(dirfd)
	base := filepath.Base(name.FullName)
	if err := unix.Mkdirat(dirfd, base, mode); err != nil {
		return -1, common.FromErrno(err)
	}
	fd, err := unix.Openat(dirfd, base, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Unlinkat(dirfd, base, unix.AT_REMOVEDIR)
		return -1, common.FromErrno(err)
	}
	return fd, nil
}

func (c *Conn) createDirectory(req *ntvfs.Request, args *ntvfs.OpenArgs, name *Filename) (*ntvfs.OpenResult, error) {
	fs := c.fs
	parent, err := fs.resolveParent(name)
	if err != nil {
		return nil, err
	}
	if err := fs.checkParentNotDeleting(parent); err != nil {
		return nil, err
	}
	if err := fs.accessCheckCreate(req, parent, true); err != nil {
		return nil, err
	}
	mask, err := createMask(req, args.AccessMask)
	if err != nil {
		return nil, err
	}
	if deleteOnClose(args) && mask&ntvfs.StdDelete == 0 {
		return nil, common.NewError(common.StatusInvalidParameter, "delete-on-close without delete access")
	}
	if len(args.EAs) > 0 && !fs.opts.EA {
		return nil, common.NewError(common.StatusEAsNotSupported, "EAs are disabled on this share")
	}

	attrib := args.FileAttrs&ntvfs.AttrSettable | ntvfs.AttrDirectory
	mode := fs.modeForCreate(attrib, true)
	fd, err := fs.mkdirAt(name, mode|unix.S_IRWXU)
	if err != nil {
		return nil, err
	}
	undo := func() {
		unix.Close(fd)
		fs.xattrUnlinkHook(fs.target(name, -1))
		if err := unix.Rmdir(name.FullName); err != nil {
			log.Warnf("[PVFS] Failed to remove %s after a failed mkdir: %v", name.FullName, err)
		}
	}
	if err := fs.initNewObject(req, args, parent, name, fd, attrib); err != nil {
		undo()
		return nil, err
	}
	if mode&unix.S_IRWXU != unix.S_IRWXU {
		if err := unix.Fchmod(fd, mode); err != nil {
			undo()
			return nil, common.FromErrno(err)
		}
		name.St.Mode = name.St.Mode&^07777 | mode
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		undo()
		return nil, err
	}
	defer lck.Release()
	if outcome, err := lck.Open(ntvfs.OpenCheck{
		ShareAccess:   args.ShareAccess,
		AccessMask:    mask,
		DeleteOnClose: deleteOnClose(args),
		Disposition:   args.Disposition,
	}); outcome != ntvfs.Admitted {
		undo()
		return nil, err
	}
	h, err := c.commitDir(req, args, lck, name, fd, mask)
	if err != nil {
		// commitDir closed the descriptor
		fs.xattrUnlinkHook(fs.target(name, -1))
		unix.Rmdir(name.FullName)
		return nil, err
	}
	fs.notifyChange(name.FullName, ntvfs.NotifyActionAdded, ntvfs.NotifyDirName)
	f := c.addFile(h, req, mask, args.ShareAccess)
	return c.openResult(f, ntvfs.ActionCreated)
}
