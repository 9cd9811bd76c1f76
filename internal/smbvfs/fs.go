// Package smbvfs serves a pvfs share through the go-smb2 server's VFS
// interface.
package smbvfs

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/pvfs"
)

const (
	// renameReplace is the go-smb2 ReplaceIfExists rename flag.
	renameReplace = 0x01
	// findBatch is how many entries one backend Find returns.
	findBatch = 256
)

// FS adapts one pvfs connection to vfs.VFSFileSystem. The SMB server does
// not pass client identities down, so every call runs as the identity the
// adapter was created with.
type FS struct {
	conn    *pvfs.Conn
	id      ntvfs.Identity
	session uint64
	handles *HandleManager
}

// New connects to share and returns an adapter acting as id.
func New(share *pvfs.FS, id ntvfs.Identity) *FS {
	return &FS{
		conn:    share.Connect(nil),
		id:      id,
		session: 1,
		handles: NewHandleManager(),
	}
}

// Shutdown closes every open handle and drops the backend connection.
func (fs *FS) Shutdown() error {
	for _, fileID := range fs.handles.Drain() {
		if err := fs.conn.Close(fs.req(), fileID, 0); err != nil {
			log.Debugf("[SMB] Close of %d during shutdown: %v", fileID, err)
		}
	}
	fs.conn.Disconnect()
	return nil
}

// recoverPanic keeps a backend panic from taking the SMB session down.
func recoverPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[SMB] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

func (fs *FS) req() *ntvfs.Request {
	return ntvfs.NewRequest(context.Background(), fs.id, fs.session, 0)
}

// wireName turns a server path into a share relative wire name.
func wireName(path string) string {
	return common.JoinWireName(common.SplitWireName(path)...)
}

func (fs *FS) get(handle vfs.VfsHandle) (*openHandle, error) {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	return info, nil
}

// openArgs maps open(2) flags onto an NT create.
func openArgs(path string, flags int) *ntvfs.OpenArgs {
	args := &ntvfs.OpenArgs{
		Fname:         path,
		ShareAccess:   ntvfs.ShareAll,
		CreateOptions: ntvfs.CreateNonDirectory,
		Disposition:   ntvfs.DispositionOpen,
	}
	switch flags & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		args.AccessMask = ntvfs.FileGenericWrite
	case os.O_RDWR:
		args.AccessMask = ntvfs.FileGenericRead | ntvfs.FileGenericWrite
	default:
		args.AccessMask = ntvfs.FileGenericRead
	}
	args.AccessMask |= ntvfs.StdDelete

	switch {
	case flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0:
		args.Disposition = ntvfs.DispositionCreate
	case flags&os.O_CREATE != 0 && flags&os.O_TRUNC != 0:
		args.Disposition = ntvfs.DispositionOverwriteIf
	case flags&os.O_CREATE != 0:
		args.Disposition = ntvfs.DispositionOpenIf
	case flags&os.O_TRUNC != 0:
		args.Disposition = ntvfs.DispositionOverwrite
	}
	if flags&os.O_SYNC != 0 {
		args.CreateOptions |= ntvfs.CreateWriteThrough
	}
	return args
}

// --- File Operations ---

// Open opens or creates a file
func (fs *FS) Open(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[SMB] Open %q flags=%d → %v (%v)", path, flags, err, time.Since(start)) }()
	}
	wire := wireName(path)
	args := openArgs(wire, flags)
	if mode&0200 == 0 && flags&os.O_CREATE != 0 {
		args.FileAttrs = ntvfs.AttrReadOnly
	}
	res, err := fs.conn.Open(fs.req(), args)
	if err != nil {
		log.Debugf("[SMB] Open %q: %v", wire, err)
		return 0, toErrno(err)
	}
	return vfs.VfsHandle(fs.handles.Allocate(res.FileID, wire, false, flags)), nil
}

// Close closes a file or directory handle
func (fs *FS) Close(handle vfs.VfsHandle) (err error) {
	defer recoverPanic("Close", &err)
	info, ok := fs.handles.Release(HandleID(handle))
	if !ok {
		return EBADF
	}
	return toErrno(fs.conn.Close(fs.req(), info.fileID, 0))
}

// Read reads data from a file
func (fs *FS) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverPanic("Read", &err)
	info, err := fs.get(handle)
	if err != nil {
		return 0, err
	}
	if info.isDir {
		return 0, EISDIR
	}
	n, err = fs.conn.Read(fs.req(), info.fileID, offset, buf)
	return n, toErrno(err)
}

// Write writes data to a file
func (fs *FS) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverPanic("Write", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[SMB] Write handle=%d len=%d off=%d → %v (%v)", handle, len(buf), offset, err, time.Since(start))
		}()
	}
	info, err := fs.get(handle)
	if err != nil {
		return 0, err
	}
	if info.isDir {
		return 0, EISDIR
	}
	n, err = fs.conn.Write(fs.req(), info.fileID, offset, buf, flags&os.O_SYNC != 0)
	return n, toErrno(err)
}

// Truncate sets the size of a file
func (fs *FS) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverPanic("Truncate", &err)
	info, err := fs.get(handle)
	if err != nil {
		return err
	}
	if info.isDir {
		return EISDIR
	}
	return toErrno(fs.conn.SetFileInfo(fs.req(), info.fileID, &ntvfs.SetInfo{EndOfFile: &size}))
}

// FSync flushes file data to disk
func (fs *FS) FSync(handle vfs.VfsHandle) (err error) {
	defer recoverPanic("FSync", &err)
	info, err := fs.get(handle)
	if err != nil {
		return err
	}
	return toErrno(fs.conn.Flush(fs.req(), info.fileID))
}

// Flush flushes file data
func (fs *FS) Flush(handle vfs.VfsHandle) error {
	return fs.FSync(handle)
}

// --- Directory Operations ---

// Mkdir creates a directory
func (fs *FS) Mkdir(path string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Mkdir", &err)
	log.Debugf("[SMB] Mkdir: path=%q mode=%o", path, mode)
	wire := wireName(path)
	if wire == "" {
		return nil, EINVAL
	}
	if err := fs.conn.Mkdir(fs.req(), wire, nil); err != nil {
		return nil, toErrno(err)
	}
	info, err := fs.conn.QueryPathInfo(fs.req(), wire)
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.infoToAttributes(&info), nil
}

// OpenDir opens a directory
func (fs *FS) OpenDir(path string) (handle vfs.VfsHandle, err error) {
	defer recoverPanic("OpenDir", &err)
	log.Debugf("[SMB] OpenDir: path=%q", path)
	wire := wireName(path)
	res, err := fs.conn.Open(fs.req(), &ntvfs.OpenArgs{
		Fname:         wire,
		AccessMask:    ntvfs.FileListDirectory | ntvfs.FileReadAttributes | ntvfs.StdDelete,
		ShareAccess:   ntvfs.ShareAll,
		Disposition:   ntvfs.DispositionOpen,
		CreateOptions: ntvfs.CreateDirectory,
	})
	if err != nil {
		return 0, toErrno(err)
	}
	return vfs.VfsHandle(fs.handles.Allocate(res.FileID, wire, true, os.O_RDONLY)), nil
}

// ReadDir lists a directory. A positive offset restarts the listing; once
// everything was returned the next call reports io.EOF.
func (fs *FS) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer recoverPanic("ReadDir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[SMB] ReadDir handle=%d off=%d → %d entries, %v (%v)", handle, offset, len(entries), err, time.Since(start))
		}()
	}
	info, err := fs.get(handle)
	if err != nil {
		return nil, err
	}
	if !info.isDir {
		return nil, ENOTDIR
	}
	if offset > 0 {
		fs.handles.SetDirEnumDone(HandleID(handle), false)
	}
	if fs.handles.IsDirEnumDone(HandleID(handle)) {
		return nil, io.EOF
	}

	flags := ntvfs.FindRestart
	for {
		batch, err := fs.conn.Find(fs.req(), info.fileID, &ntvfs.FindArgs{Pattern: "*", MaxCount: findBatch, Flags: flags})
		if common.IsStatus(err, common.StatusNoMoreFiles) || common.IsStatus(err, common.StatusNoSuchFile) {
			break
		}
		if err != nil {
			return nil, toErrno(err)
		}
		for i := range batch {
			entries = append(entries, entryToDirInfo(&batch[i]))
		}
		flags = 0
	}
	fs.handles.SetDirEnumDone(HandleID(handle), true)

	if count > 0 && count < len(entries) {
		return entries[:count], nil
	}
	return entries, nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes. Handle 0 is the share root.
func (fs *FS) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("GetAttr", &err)
	log.Debugf("[SMB] GetAttr: handle=%d", handle)
	var info ntvfs.FileAllInfo
	if handle == 0 {
		info, err = fs.conn.QueryPathInfo(fs.req(), "")
	} else {
		h, herr := fs.get(handle)
		if herr != nil {
			return nil, herr
		}
		info, err = fs.conn.QueryFileInfo(fs.req(), h.fileID)
	}
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.infoToAttributes(&info), nil
}

// SetAttr applies size, times and the write permission bit. Clearing all
// write bits sets the read-only attribute.
func (fs *FS) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("SetAttr", &err)
	h, err := fs.get(handle)
	if err != nil {
		return nil, err
	}

	set := &ntvfs.SetInfo{}
	if size, ok := inAttrs.GetSizeBytes(); ok && !h.isDir {
		set.EndOfFile = &size
	}
	if mtime, ok := inAttrs.GetLastDataModificationTime(); ok {
		t := ntvfs.NTTimeFrom(mtime)
		set.WriteTime = &t
	}
	if atime, ok := inAttrs.GetAccessTime(); ok {
		t := ntvfs.NTTimeFrom(atime)
		set.AccessTime = &t
	}
	if mode, ok := inAttrs.GetUnixMode(); ok {
		cur, err := fs.conn.QueryFileInfo(fs.req(), h.fileID)
		if err != nil {
			return nil, toErrno(err)
		}
		attrib := cur.Attrib &^ ntvfs.AttrDirectory
		if mode&0222 == 0 {
			attrib |= ntvfs.AttrReadOnly
		} else {
			attrib &^= ntvfs.AttrReadOnly
		}
		if attrib != cur.Attrib&^ntvfs.AttrDirectory {
			if attrib == 0 {
				attrib = ntvfs.AttrNormal
			}
			set.Attrib = &attrib
		}
	}
	if err := fs.conn.SetFileInfo(fs.req(), h.fileID, set); err != nil {
		return nil, toErrno(err)
	}
	return fs.GetAttr(handle)
}

// Lookup finds name in a directory. Handle 0 is the share root.
func (fs *FS) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Lookup", &err)
	log.Debugf("[SMB] Lookup: dirHandle=%d name=%q", dirHandle, name)
	dir := ""
	if dirHandle != 0 {
		h, err := fs.get(dirHandle)
		if err != nil {
			return nil, err
		}
		if !h.isDir {
			return nil, ENOTDIR
		}
		dir = h.path
	}
	wire := dir
	if n := wireName(name); n != "" && n != "." {
		wire = common.JoinWireName(append(common.SplitWireName(dir), n)...)
	}
	info, err := fs.conn.QueryPathInfo(fs.req(), wire)
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.infoToAttributes(&info), nil
}

// StatFS returns filesystem statistics
func (fs *FS) StatFS(handle vfs.VfsHandle) (attrs *vfs.FSAttributes, err error) {
	defer recoverPanic("StatFS", &err)
	info, err := fs.conn.FSInfo(fs.req())
	if err != nil {
		return nil, toErrno(err)
	}
	attrs = &vfs.FSAttributes{}
	attrs.SetBlockSize(info.BlockSize)
	attrs.SetIOSize(info.BlockSize)
	attrs.SetBlocks(info.TotalBlocks)
	attrs.SetFreeBlocks(info.FreeBlocks)
	attrs.SetAvailableBlocks(info.AvailableBlocks)
	attrs.SetFiles(info.Files)
	attrs.SetFreeFiles(info.FreeFiles)
	return attrs, nil
}

// --- File Management ---

// Unlink marks the file or empty directory behind handle for deletion. It
// disappears when the last open of it is closed.
func (fs *FS) Unlink(handle vfs.VfsHandle) (err error) {
	defer recoverPanic("Unlink", &err)
	h, err := fs.get(handle)
	if err != nil {
		return err
	}
	log.Debugf("[SMB] Unlink: path=%q isDir=%v", h.path, h.isDir)
	on := true
	return toErrno(fs.conn.SetFileInfo(fs.req(), h.fileID, &ntvfs.SetInfo{DeleteOnClose: &on}))
}

// Rename renames the file behind handle. newName is either a path within
// the share or a name in the same directory.
func (fs *FS) Rename(handle vfs.VfsHandle, newName string, flags int) (err error) {
	defer recoverPanic("Rename", &err)
	h, err := fs.get(handle)
	if err != nil {
		return err
	}
	parts := common.SplitWireName(newName)
	if len(parts) == 0 {
		return EINVAL
	}
	target := common.JoinWireName(parts...)
	newPath := target
	switch {
	case len(parts) > 1:
	case strings.ContainsAny(newName[:1], `\/`):
		// a single component below the root keeps its separator
		target = string(common.WireSeparator) + target
	default:
		newPath = common.JoinWireName(append(common.SplitWireName(common.ParentWireName(h.path)), parts[0])...)
	}
	err = fs.conn.SetFileInfo(fs.req(), h.fileID, &ntvfs.SetInfo{
		Rename: &ntvfs.SetInfoRename{New: target, Overwrite: flags&renameReplace != 0},
	})
	if err != nil {
		return toErrno(err)
	}
	fs.handles.SetPath(HandleID(handle), newPath)
	return nil
}

// --- Symbolic Link Operations ---

// Readlink always fails: symbolic links are never exposed by the share.
func (fs *FS) Readlink(handle vfs.VfsHandle) (string, error) {
	if _, err := fs.get(handle); err != nil {
		return "", err
	}
	return "", EINVAL
}

func (fs *FS) Symlink(handle vfs.VfsHandle, target string, mode int) (*vfs.Attributes, error) {
	return nil, ENOTSUP
}

func (fs *FS) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (*vfs.Attributes, error) {
	return nil, ENOTSUP
}

// --- Extended Attributes ---
// xattrs are the file's EAs.

func (fs *FS) Listxattr(handle vfs.VfsHandle) (names []string, err error) {
	defer recoverPanic("Listxattr", &err)
	h, err := fs.get(handle)
	if err != nil {
		return nil, err
	}
	eas, err := fs.conn.QueryEAs(fs.req(), h.fileID, nil)
	if err != nil {
		return nil, toErrno(err)
	}
	names = make([]string, 0, len(eas))
	for _, ea := range eas {
		names = append(names, ea.Name)
	}
	return names, nil
}

// Getxattr copies the value of an EA into buf. An empty buf asks for the
// value's size.
func (fs *FS) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (n int, err error) {
	defer recoverPanic("Getxattr", &err)
	h, err := fs.get(handle)
	if err != nil {
		return 0, err
	}
	eas, err := fs.conn.QueryEAs(fs.req(), h.fileID, []string{name})
	if err != nil {
		return 0, toErrno(err)
	}
	if len(eas) == 0 || len(eas[0].Value) == 0 {
		return 0, ENOATTR
	}
	value := eas[0].Value
	if len(buf) == 0 {
		return len(value), nil
	}
	if len(buf) < len(value) {
		return 0, ERANGE
	}
	return copy(buf, value), nil
}

func (fs *FS) Setxattr(handle vfs.VfsHandle, name string, value []byte) (err error) {
	defer recoverPanic("Setxattr", &err)
	h, err := fs.get(handle)
	if err != nil {
		return err
	}
	if len(value) == 0 {
		return EINVAL
	}
	return toErrno(fs.conn.SetFileInfo(fs.req(), h.fileID, &ntvfs.SetInfo{
		EAs: []ntvfs.EA{{Name: name, Value: value}},
	}))
}

// Removexattr deletes an EA. An EA set to an empty value is gone.
func (fs *FS) Removexattr(handle vfs.VfsHandle, name string) (err error) {
	defer recoverPanic("Removexattr", &err)
	h, err := fs.get(handle)
	if err != nil {
		return err
	}
	return toErrno(fs.conn.SetFileInfo(fs.req(), h.fileID, &ntvfs.SetInfo{
		EAs: []ntvfs.EA{{Name: name}},
	}))
}
