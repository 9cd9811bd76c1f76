package pvfs

import (
	"pvfs/internal/ntvfs"
)

// writeTimeState tracks the delayed write-time update of a handle.
type writeTimeState struct {
	timer ntvfs.Timer
	// dirty is set once data was written through the handle.
	dirty bool
	// forced is a write time set explicitly, applied again on close.
	forced ntvfs.NTTime
}

// fileHandle is the per-open OS state. Legacy deny-mode opens of the same
// name by the same client process share one handle.
type fileHandle struct {
	c     *Conn
	id    ntvfs.HandleID
	name  *Filename
	fd    int
	isDir bool

	accessMask    uint32
	createOptions uint32
	privateFlags  uint32
	// mode is the persistent subset of the create options, changeable
	// through set-info.
	mode     uint32
	position uint64

	haveODB bool
	brl     ntvfs.BRLHandle
	oplock  *oplockState
	wt      writeTimeState

	// firstFile is the client file id oplock breaks are sent for.
	firstFile uint64
	refs      int
}

// File is one client-visible open.
type File struct {
	id          uint64
	h           *fileHandle
	accessMask  uint32
	shareAccess uint32
	session     uint64
	smbpid      uint32

	notify *notifyBuffer
	find   *search
}

// ID returns the client file id.
func (f *File) ID() uint64 { return f.id }

// Name returns the wire name the file was opened under.
func (f *File) Name() string { return f.h.name.OriginalName }

// IsDir reports whether the open is a directory open.
func (f *File) IsDir() bool { return f.h.isDir }

func (c *Conn) newHandle(name *Filename, fd int, isDir bool, args *ntvfs.OpenArgs) *fileHandle {
	c.nextHandle++
	h := &fileHandle{
		c:             c,
		id:            ntvfs.HandleID{Server: c.id, ID: c.nextHandle},
		name:          name,
		fd:            fd,
		isDir:         isDir,
		accessMask:    args.AccessMask,
		createOptions: args.CreateOptions,
		privateFlags:  args.PrivateFlags,
		mode:          args.CreateOptions & ntvfs.CreateOptionsPersistent,
	}
	c.handles[h.id.ID] = h
	c.fs.trackHandles(1)
	return h
}

func (c *Conn) addFile(h *fileHandle, req *ntvfs.Request, access, share uint32) *File {
	c.nextFileID++
	f := &File{
		id:          c.nextFileID,
		h:           h,
		accessMask:  access,
		shareAccess: share,
		session:     req.SessionID,
		smbpid:      req.SMBPid,
	}
	h.refs++
	if h.firstFile == 0 {
		h.firstFile = f.id
	}
	c.files[f.id] = f
	return f
}

// syncName picks up a rename of the file done by any connection.
func (c *Conn) syncName(h *fileHandle) {
	if !h.haveODB {
		return
	}
	st, err := c.fs.odb.FileInfo(h.name.odbKey())
	if err != nil || st.Path == "" || st.Path == h.name.FullName {
		return
	}
	h.name.FullName = st.Path
	wire := c.fs.wireName(st.Path)
	if h.name.StreamName != "" {
		wire += ":" + h.name.StreamName
	}
	h.name.OriginalName = wire
}

// fileInfo reports h's current metadata as seen through f.
func (c *Conn) fileInfo(f *File) (ntvfs.FileAllInfo, error) {
	h := f.h
	c.syncName(h)
	if err := c.fs.ResolveHandleName(h.name, h.fd); err != nil {
		return ntvfs.FileAllInfo{}, err
	}
	info := c.fs.allInfo(h.name)
	info.AccessMask = f.accessMask
	info.Position = h.position
	info.Mode = h.mode
	if h.wt.forced.IsSet() {
		info.WriteTime = h.wt.forced
	}
	return info, nil
}

// allInfo builds the query view of a resolved name.
func (fs *FS) allInfo(name *Filename) ntvfs.FileAllInfo {
	d := &name.DOS
	info := ntvfs.FileAllInfo{
		CreateTime: d.CreateTime,
		AccessTime: d.AccessTime,
		WriteTime:  d.WriteTime,
		ChangeTime: d.ChangeTime,
		Attrib:     d.Attrib,
		AllocSize:  d.AllocSize,
		Size:       d.Size,
		Nlink:      d.Nlink,
		Directory:  name.St.IsDir(),
		FileID:     d.FileID,
		EASize:     d.EASize,
		Name:       name.OriginalName,
		AltName:    fs.mangler.shortName(name.lastComponent()),
	}
	if name.Exists {
		if st, err := fs.odb.FileInfo(name.odbKey()); err == nil && st.DeleteOnClose {
			info.DeletePending = true
			if info.Nlink > 0 {
				info.Nlink--
			}
		}
	}
	return info
}
