package pvfs

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// QueryFileInfo returns the metadata of an open file.
func (c *Conn) QueryFileInfo(req *ntvfs.Request, fileID uint64) (ntvfs.FileAllInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return ntvfs.FileAllInfo{}, err
	}
	return c.fileInfo(f)
}

// QueryPathInfo returns the metadata of a name.
func (c *Conn) QueryPathInfo(req *ntvfs.Request, wire string) (ntvfs.FileAllInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, err := c.resolveExisting(req, wire)
	if err != nil {
		return ntvfs.FileAllInfo{}, err
	}
	if err := c.fs.accessCheckSimple(req, name, ntvfs.FileReadAttributes); err != nil {
		return ntvfs.FileAllInfo{}, err
	}
	return c.fs.allInfo(name), nil
}

// resolveExisting resolves wire, which may name a stream, and fails when
// the object is missing.
func (c *Conn) resolveExisting(req *ntvfs.Request, wire string) (*Filename, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	name, err := c.fs.ResolveName(req, wire, ResolveStream)
	if err != nil {
		return nil, err
	}
	if !name.Exists || (name.StreamName != "" && !name.StreamExists) {
		return nil, common.NewError(common.StatusObjectNameNotFound, "%s not found", wire)
	}
	return name, nil
}

// QueryStreams lists the data streams of an open file.
func (c *Conn) QueryStreams(req *ntvfs.Request, fileID uint64) ([]ntvfs.StreamInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return nil, err
	}
	c.syncName(f.h)
	return c.fs.streamInfo(f.h.name, f.h.fd)
}

// QueryPathStreams lists the data streams of a name.
func (c *Conn) QueryPathStreams(req *ntvfs.Request, wire string) ([]ntvfs.StreamInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, err := c.resolveExisting(req, wire)
	if err != nil {
		return nil, err
	}
	if err := c.fs.accessCheckSimple(req, name, ntvfs.FileReadAttributes); err != nil {
		return nil, err
	}
	return c.fs.streamInfo(name, -1)
}

// QueryEAs returns the EAs of an open file, all of them or those named.
func (c *Conn) QueryEAs(req *ntvfs.Request, fileID uint64, names []string) ([]ntvfs.EA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return nil, err
	}
	if f.accessMask&ntvfs.FileReadEA == 0 {
		return nil, common.NewError(common.StatusAccessDenied, "%s not opened for EA reads", f.Name())
	}
	eas, err := c.fs.loadEAs(f.h.name, f.h.fd)
	if err != nil {
		return nil, err
	}
	return selectEAs(eas, names), nil
}

// QueryPathEAs returns the EAs of a name.
func (c *Conn) QueryPathEAs(req *ntvfs.Request, wire string, names []string) ([]ntvfs.EA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, err := c.resolveExisting(req, wire)
	if err != nil {
		return nil, err
	}
	if err := c.fs.accessCheckSimple(req, name, ntvfs.FileReadEA); err != nil {
		return nil, err
	}
	eas, err := c.fs.loadEAs(name, -1)
	if err != nil {
		return nil, err
	}
	return selectEAs(eas, names), nil
}

// selectEAs picks the named EAs. A name without a stored value is
// returned with an empty value.
func selectEAs(eas []ntvfs.EA, names []string) []ntvfs.EA {
	if len(names) == 0 {
		return eas
	}
	out := make([]ntvfs.EA, 0, len(names))
	for _, n := range names {
		ea := ntvfs.EA{Name: n}
		for _, e := range eas {
			if strings.EqualFold(e.Name, n) {
				ea = e
				break
			}
		}
		out = append(out, ea)
	}
	return out
}

// QuerySecurity returns the parts of an open file's security descriptor
// selected by secinfo.
func (c *Conn) QuerySecurity(req *ntvfs.Request, fileID uint64, secinfo uint32) (*ntvfs.SecurityDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return nil, err
	}
	need := uint32(0)
	if secinfo&(ntvfs.SecInfoOwner|ntvfs.SecInfoGroup|ntvfs.SecInfoDACL) != 0 {
		need |= ntvfs.StdReadControl
	}
	if secinfo&ntvfs.SecInfoSACL != 0 {
		need |= ntvfs.FlagSystemSecurity
	}
	if missing := need &^ f.accessMask; missing != 0 {
		return nil, common.NewError(common.StatusAccessDenied, "access 0x%x needed to read the descriptor", missing)
	}
	sd, err := c.fs.loadSD(reqContext(req), f.h.name, f.h.fd)
	if err != nil {
		return nil, err
	}
	return filterSD(sd, secinfo), nil
}

// setInfoAccess is the access a set-info request needs.
func setInfoAccess(info *ntvfs.SetInfo) uint32 {
	var m uint32
	if info.CreateTime != nil || info.AccessTime != nil || info.WriteTime != nil ||
		info.ChangeTime != nil || info.Attrib != nil {
		m |= ntvfs.FileWriteAttributes
	}
	if info.DeleteOnClose != nil || info.Rename != nil {
		m |= ntvfs.StdDelete
	}
	if info.EndOfFile != nil || info.AllocationSize != nil {
		m |= ntvfs.FileWriteData
	}
	if len(info.EAs) > 0 {
		m |= ntvfs.FileWriteEA
	}
	if info.SecDesc != nil {
		if info.SecInfo&(ntvfs.SecInfoOwner|ntvfs.SecInfoGroup) != 0 {
			m |= ntvfs.StdWriteOwner
		}
		if info.SecInfo&ntvfs.SecInfoDACL != 0 {
			m |= ntvfs.StdWriteDAC
		}
		if info.SecInfo&ntvfs.SecInfoSACL != 0 {
			m |= ntvfs.FlagSystemSecurity
		}
	}
	return m
}

// SetFileInfo changes the metadata of an open file.
func (c *Conn) SetFileInfo(req *ntvfs.Request, fileID uint64, info *ntvfs.SetInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return err
	}
	need := setInfoAccess(info)
	if missing := need &^ f.accessMask; missing != 0 {
		return common.NewError(common.StatusAccessDenied, "access 0x%x needed for set-info on %s", missing, f.Name())
	}
	if c.fs.opts.ReadOnly && need != 0 {
		return common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	c.breakLevel2(f)
	h := f.h
	c.syncName(h)
	if err := c.fs.ResolveHandleName(h.name, h.fd); err != nil {
		return err
	}
	return c.setInfo(req, h.name, h.fd, f, info)
}

// SetPathInfo changes the metadata of a name. Delete-on-close, position
// and mode belong to an open and are refused here.
func (c *Conn) SetPathInfo(req *ntvfs.Request, wire string, info *ntvfs.SetInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info.DeleteOnClose != nil || info.Position != nil || info.Mode != nil {
		return common.NewError(common.StatusInvalidParameter, "set-info level needs an open file")
	}
	fs := c.fs
	name, err := c.resolveExisting(req, wire)
	if err != nil {
		return err
	}
	need := setInfoAccess(info)
	if fs.opts.ReadOnly && need != 0 {
		return common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	if err := fs.accessCheckSimple(req, name, need); err != nil {
		return err
	}
	fs.breakLevel2Key(name.odbKey())

	flags := unix.O_RDONLY | unix.O_NONBLOCK
	switch {
	case name.IsDir():
		flags = unix.O_RDONLY | unix.O_DIRECTORY
	case info.EndOfFile != nil || info.AllocationSize != nil:
		if name.StreamName == "" {
			flags = unix.O_RDWR | unix.O_NONBLOCK
		}
	}
	fd, err := fs.openFD(name, flags, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return c.setInfo(req, name, fd, nil, info)
}

// breakLevel2Key breaks level II oplocks on a file changed without an
// open of its own.
func (fs *FS) breakLevel2Key(key ntvfs.ODBKey) {
	lck, err := fs.odb.Lock(context.Background(), key)
	if err != nil {
		log.Warnf("[PVFS] Failed to lock %s for level II break: %v", key, err)
		return
	}
	defer lck.Release()
	if err := lck.BreakOplocks(); err != nil {
		log.Warnf("[PVFS] Level II break on %s failed: %v", key, err)
	}
}

// setInfo applies info to name through fd. f is the open the request came
// through, nil for a path based request.
func (c *Conn) setInfo(req *ntvfs.Request, name *Filename, fd int, f *File, info *ntvfs.SetInfo) error {
	fs := c.fs
	var changed uint32
	dosDirty := false

	if info.DeleteOnClose != nil {
		if err := c.setDeleteOnClose(f, *info.DeleteOnClose); err != nil {
			return err
		}
	}
	if info.Mode != nil {
		if *info.Mode&^ntvfs.CreateOptionsPersistent != 0 {
			return common.NewError(common.StatusInvalidParameter, "invalid mode 0x%x", *info.Mode)
		}
		f.h.mode = *info.Mode
	}
	if info.Position != nil {
		f.h.position = *info.Position
	}

	if info.CreateTime != nil && info.CreateTime.IsSet() {
		name.DOS.CreateTime = *info.CreateTime
		changed |= ntvfs.NotifyCreation
		dosDirty = true
	}
	if info.ChangeTime != nil && info.ChangeTime.IsSet() {
		name.DOS.ChangeTime = *info.ChangeTime
		dosDirty = true
	}
	var atime, mtime ntvfs.NTTime
	if info.AccessTime != nil {
		atime = *info.AccessTime
	}
	if info.WriteTime != nil {
		mtime = *info.WriteTime
	}
	if atime.IsSet() || mtime.IsSet() {
		if err := setTimes(fd, atime, mtime); err != nil {
			return err
		}
		if atime.IsSet() {
			changed |= ntvfs.NotifyLastAccess
		}
		if mtime.IsSet() {
			changed |= ntvfs.NotifyLastWrite
			if err := c.forceWriteTime(name, f, mtime); err != nil {
				return err
			}
		}
	}

	if info.Attrib != nil && *info.Attrib != 0 {
		a := *info.Attrib & ntvfs.AttrSettable
		if name.St.IsDir() {
			a |= ntvfs.AttrDirectory
		}
		if a != ntvfs.AttrNormal {
			a &^= ntvfs.AttrNormal
		}
		if name.StreamName == "" {
			if err := fs.applyAttribMode(name, fd, a); err != nil {
				return err
			}
		}
		name.DOS.Attrib = a
		changed |= ntvfs.NotifyAttributes
		dosDirty = true
	}

	if info.EndOfFile != nil {
		if err := fs.setEOF(name, fd, *info.EndOfFile); err != nil {
			return err
		}
		changed |= ntvfs.NotifySize
		dosDirty = true
	}
	if info.AllocationSize != nil {
		if err := fs.setAlloc(name, fd, *info.AllocationSize); err != nil {
			return err
		}
		changed |= ntvfs.NotifySize
		dosDirty = true
	}

	if len(info.EAs) > 0 {
		if err := fs.setEAs(name, fd, info.EAs); err != nil {
			return err
		}
		changed |= ntvfs.NotifyEA
	}
	if info.SecDesc != nil {
		if err := fs.setSD(req, name, fd, info.SecInfo, info.SecDesc); err != nil {
			return err
		}
		changed |= ntvfs.NotifySecurity
	}

	if dosDirty {
		if st, err := fstat(fd); err == nil {
			name.St = st
		}
		if err := fs.saveDOS(name, fd); err != nil {
			return err
		}
	}
	if changed != 0 {
		if name.StreamName != "" {
			fs.notifyChange(name.FullName, ntvfs.NotifyActionModifiedStream, ntvfs.NotifyStreamSize)
		} else {
			fs.notifyChange(name.FullName, ntvfs.NotifyActionModified, changed)
		}
	}

	if info.Rename != nil {
		if f != nil {
			return c.renameOpen(req, f, info.Rename)
		}
		wire := info.Rename.New
		if !strings.ContainsAny(wire, `\/`) {
			wire = joinWire(common.ParentWireName(name.OriginalName), wire)
		}
		name2, err := fs.ResolveName(req, wire, 0)
		if err != nil {
			return err
		}
		return c.renameOne(req, name, name2, info.Rename.Overwrite, nil)
	}
	return nil
}

// setDeleteOnClose flags the file of f for deletion at its last close, or
// clears the flag.
func (c *Conn) setDeleteOnClose(f *File, on bool) error {
	if f == nil {
		return common.NewError(common.StatusInvalidParameter, "delete-on-close needs an open file")
	}
	h := f.h
	if on {
		if h.name.DOS.Attrib&ntvfs.AttrReadOnly != 0 {
			return common.NewError(common.StatusCannotDelete, "%s is read-only", f.Name())
		}
		if h.isDir {
			if h.name.FullName == c.fs.root {
				return common.NewError(common.StatusCannotDelete, "the share root cannot be deleted")
			}
			empty, err := dirEmpty(h.name.FullName)
			if err != nil {
				return err
			}
			if !empty {
				return common.NewError(common.StatusDirectoryNotEmpty, "%s is not empty", f.Name())
			}
		}
	}
	lck, err := c.fs.odb.Lock(context.Background(), h.name.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	if err := lck.SetDeleteOnClose(on); err != nil {
		return err
	}
	if on {
		h.createOptions |= ntvfs.CreateDeleteOnClose
	} else {
		h.createOptions &^= ntvfs.CreateDeleteOnClose
	}
	return nil
}

// forceWriteTime records an explicitly set write time so that later writes
// and other openers do not move it.
func (c *Conn) forceWriteTime(name *Filename, f *File, t ntvfs.NTTime) error {
	if f != nil {
		h := f.h
		h.wt.forced = t
		if h.wt.timer != nil {
			h.wt.timer.Stop()
			h.wt.timer = nil
		}
	}
	st, err := c.fs.odb.FileInfo(name.odbKey())
	if err != nil || st.Opens == 0 {
		return err
	}
	lck, err := c.fs.odb.Lock(context.Background(), name.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	return lck.SetWriteTime(t.Time(), true)
}

func (fs *FS) setEOF(name *Filename, fd int, size uint64) error {
	if name.IsDir() {
		return common.NewError(common.StatusFileIsADirectory, "%s is a directory", name.OriginalName)
	}
	if name.StreamName != "" {
		if err := fs.streamTruncate(name, fd, size); err != nil {
			return err
		}
		name.DOS.Size = size
		return nil
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return common.FromErrno(err)
	}
	name.DOS.Size = size
	if name.DOS.AllocSize < size {
		name.DOS.AllocSize = fs.roundAlloc(size)
	}
	return nil
}

// setAlloc sets the allocation size. Shrinking it below the data cuts the
// file.
func (fs *FS) setAlloc(name *Filename, fd int, size uint64) error {
	if name.IsDir() {
		return nil
	}
	if name.StreamName != "" {
		return fs.streamSetAlloc(name, fd, size)
	}
	if size < name.DOS.Size {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return common.FromErrno(err)
		}
		name.DOS.Size = size
	}
	name.DOS.AllocSize = fs.roundAlloc(size)
	return nil
}
