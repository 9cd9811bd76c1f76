package pvfs

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// renameCheck admits a rename of a file that others may hold open, as
// long as they all share delete access.
var renameCheck = ntvfs.OpenCheck{
	AccessMask:  ntvfs.StdDelete,
	ShareAccess: ntvfs.ShareRead | ntvfs.ShareWrite,
	Disposition: ntvfs.DispositionOpen,
}

// Rename renames, hard links or copies args.Old to args.New. A plain
// rename (no flags) may use wildcards on both sides.
func (c *Conn) Rename(req *ntvfs.Request, args *ntvfs.RenameArgs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rename(req, args)
}

func (c *Conn) rename(req *ntvfs.Request, args *ntvfs.RenameArgs) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.fs.opts.ReadOnly {
		return common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	flags := ResolveFlags(0)
	if args.Flags == 0 {
		flags = ResolveWildcard
	}
	fs := c.fs
	name1, err := fs.ResolveName(req, args.Old, flags)
	if err != nil {
		return err
	}
	name2, err := fs.ResolveName(req, args.New, flags)
	if err != nil {
		return err
	}

	switch args.Flags {
	case 0, ntvfs.RenameFlagRename:
	case ntvfs.RenameFlagHardLink:
		return c.hardLink(req, name1, name2)
	case ntvfs.RenameFlagCopy:
		return c.copyFile(req, name1, name2)
	default:
		return common.NewError(common.StatusInvalidParameter, "unknown rename flags 0x%x", args.Flags)
	}

	if name1.HasWildcard || name2.HasWildcard {
		return c.renameWildcard(req, args, name1)
	}
	if !name1.Exists {
		return common.NewError(common.StatusObjectNameNotFound, "%s not found", args.Old)
	}
	if name2.Exists && name2.FullName == name1.FullName {
		// a case change of the same name
		leaf := common.LastWireComponent(args.New)
		if leaf == name1.lastComponent() {
			return nil
		}
		name2 = &Filename{OriginalName: args.New, FullName: filepath.Join(filepath.Dir(name1.FullName), leaf)}
	}
	if !matchAttrib(name1.DOS.Attrib, uint32(args.Attrib)) {
		return common.NewError(common.StatusNoSuchFile, "%s excluded by search attributes", args.Old)
	}
	return c.renameOne(req, name1, name2, args.Overwrite, func() (any, error) {
		return nil, c.rename(req, args)
	})
}

// renameOne moves name1 to name2 once nobody blocks it. A nil replay fails
// conflicts at once.
func (c *Conn) renameOne(req *ntvfs.Request, name1, name2 *Filename, overwrite bool, replay func() (any, error)) error {
	fs := c.fs
	if name1.FullName == fs.root {
		return common.NewError(common.StatusAccessDenied, "the share root cannot be renamed")
	}
	if err := fs.accessCheckDelete(req, name1); err != nil {
		return err
	}
	parent2, err := fs.resolveParent(name2)
	if err != nil {
		return err
	}
	if err := fs.accessCheckCreate(req, parent2, name1.IsDir()); err != nil {
		return err
	}
	if name2.Exists {
		if err := c.checkReplace(req, name2, overwrite); err != nil {
			return err
		}
	}

	lck, err := fs.odb.Lock(req.Ctx, name1.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	switch outcome, err := lck.Open(renameCheck); outcome {
	case ntvfs.Admitted:
	case ntvfs.Retryable:
		if replay == nil {
			return err
		}
		return c.retryable(req, "rename", lck, err, replay)
	default:
		return err
	}
	return fs.doRename(lck, name1, name2.FullName)
}

// checkReplace decides whether an existing rename target may be replaced.
func (c *Conn) checkReplace(req *ntvfs.Request, target *Filename, overwrite bool) error {
	fs := c.fs
	if !overwrite {
		return common.NewError(common.StatusObjectNameCollision, "%s exists", target.OriginalName)
	}
	if target.IsDir() {
		return common.NewError(common.StatusAccessDenied, "cannot replace directory %s", target.OriginalName)
	}
	if err := fs.accessCheckDelete(req, target); err != nil {
		return err
	}
	lck, err := fs.odb.Lock(req.Ctx, target.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	if outcome, err := lck.Open(unlinkCheck); outcome != ntvfs.Admitted {
		return err
	}
	fs.xattrUnlinkHook(fs.target(target, -1))
	return nil
}

// doRename moves the backing object and tells the open database where the
// file went. lck must be the held record of name.
func (fs *FS) doRename(lck ntvfs.OpenDBLock, name *Filename, newFull string) error {
	oldFull := name.FullName
	if err := fs.renameAt(oldFull, newFull); err != nil {
		return err
	}
	if err := lck.Rename(newFull); err != nil {
		log.Warnf("[PVFS] Open database rename of %s to %s failed: %v", oldFull, newFull, err)
	}
	name.FullName = newFull
	log.Debugf("[PVFS] Renamed %s to %s", oldFull, newFull)

	filter := ntvfs.NotifyFileName
	if name.IsDir() {
		filter = ntvfs.NotifyDirName
	}
	if filepath.Dir(oldFull) == filepath.Dir(newFull) {
		fs.notifyChange(oldFull, ntvfs.NotifyActionOldName, filter)
		fs.notifyChange(newFull, ntvfs.NotifyActionNewName, filter)
	} else {
		fs.notifyChange(oldFull, ntvfs.NotifyActionRemoved, filter)
		fs.notifyChange(newFull, ntvfs.NotifyActionAdded, filter)
	}
	return nil
}

// parentFD opens the directory holding full without following symlinks.
func (fs *FS) parentFD(full string) (int, error) {
	return openNoFollow(fs.root, fs.relPath(filepath.Dir(full)), unix.O_RDONLY|unix.O_DIRECTORY, 0)
}

func (fs *FS) renameAt(oldFull, newFull string) error {
	fd1, err := fs.parentFD(oldFull)
	if err != nil {
		return err
	}
	defer unix.Close(fd1)
	fd2, err := fs.parentFD(newFull)
	if err != nil {
		return err
	}
	defer unix.Close(fd2)
	b1, b2 := filepath.Base(oldFull), filepath.Base(newFull)
	err = unix.Renameat(fd1, b1, fd2, b2)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error { return unix.Renameat(fd1, b1, fd2, b2) })
	}
	return common.FromErrno(err)
}

// wildcardRename builds the target of a wildcard rename from a matched
// name. Base and extension are substituted separately: '?' takes the
// character of the source, '*' the rest of it, anything else is literal.
func wildcardRename(name, pattern string) string {
	sub := func(src, pat string) string {
		var b strings.Builder
		s := []rune(src)
		i := 0
		for _, p := range pat {
			switch p {
			case '?':
				if i < len(s) {
					b.WriteRune(s[i])
				}
			case '*':
				if i < len(s) {
					b.WriteString(string(s[i:]))
				}
				return b.String()
			default:
				b.WriteRune(p)
			}
			if i < len(s) {
				i++
			}
		}
		return b.String()
	}
	split := func(s string) (string, string) {
		if i := strings.LastIndexByte(s, '.'); i >= 0 {
			return s[:i], s[i+1:]
		}
		return s, ""
	}
	base1, ext1 := split(name)
	base2, ext2 := split(pattern)
	base := sub(base1, base2)
	ext := sub(ext1, ext2)
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// renameWildcard renames every entry matching the old pattern. Conflicts
// fail the entry instead of waiting.
func (c *Conn) renameWildcard(req *ntvfs.Request, args *ntvfs.RenameArgs, name1 *Filename) error {
	fs := c.fs
	dir1, err := fs.resolveParent(name1)
	if err != nil {
		return err
	}
	pattern1 := common.LastWireComponent(args.Old)
	pattern2 := common.LastWireComponent(args.New)
	dir2 := common.ParentWireName(args.New)

	cur, err := fs.openDir(dir1.FullName, pattern1)
	if err != nil {
		return err
	}
	// collect first, the renames below change the directory being read
	var names []string
	for {
		n, _, ok, err := cur.next(func(n string) bool {
			return n != "." && n != ".." && fs.matchName(pattern1, n)
		})
		if err != nil {
			cur.Close()
			return err
		}
		if !ok {
			break
		}
		names = append(names, n)
	}
	cur.Close()

	renamed := 0
	var last error
	for _, entry := range names {
		n1, err := fs.ResolvePartial(dir1, entry)
		if err != nil {
			continue
		}
		if !matchAttrib(n1.DOS.Attrib, uint32(args.Attrib)) {
			continue
		}
		n2, err := fs.ResolveName(req, joinWire(dir2, wildcardRename(entry, pattern2)), 0)
		if err != nil {
			last = err
			continue
		}
		if n2.Exists && n2.FullName == n1.FullName {
			renamed++
			continue
		}
		if err := c.renameOne(req, n1, n2, false, nil); err != nil {
			last = err
			continue
		}
		renamed++
	}
	if renamed == 0 {
		if last != nil {
			return last
		}
		return common.NewError(common.StatusNoSuchFile, "nothing matches %s", args.Old)
	}
	return nil
}

// renameOpen renames the file behind an open handle. The handle must have
// been opened with delete access; its own open does not block the rename.
func (c *Conn) renameOpen(req *ntvfs.Request, f *File, r *ntvfs.SetInfoRename) error {
	fs := c.fs
	h := f.h
	if f.accessMask&ntvfs.StdDelete == 0 {
		return common.NewError(common.StatusAccessDenied, "%s not opened for delete", f.Name())
	}
	c.syncName(h)
	if h.name.StreamName != "" {
		if !strings.HasPrefix(r.New, ":") {
			return common.NewError(common.StatusInvalidParameter, "a stream can only be renamed to another stream")
		}
		_, stream, typ, ok := common.SplitStream(r.New)
		if !ok || stream == "" || (typ != "" && !strings.EqualFold(typ, "$DATA")) {
			return common.NewError(common.StatusObjectNameInvalid, "invalid stream name %q", r.New)
		}
		if err := fs.streamRename(h.name, h.fd, stream, r.Overwrite); err != nil {
			return err
		}
		fs.notifyChange(h.name.FullName, ntvfs.NotifyActionModifiedStream, ntvfs.NotifyStreamName)
		return nil
	}

	wire := r.New
	if !strings.ContainsAny(wire, `\/`) {
		wire = joinWire(common.ParentWireName(h.name.OriginalName), wire)
	}
	name2, err := fs.ResolveName(req, wire, 0)
	if err != nil {
		return err
	}
	if name2.Exists && name2.FullName == h.name.FullName {
		leaf := common.LastWireComponent(wire)
		if leaf == h.name.lastComponent() {
			return nil
		}
		name2 = &Filename{OriginalName: wire, FullName: filepath.Join(filepath.Dir(h.name.FullName), leaf)}
	}
	parent2, err := fs.resolveParent(name2)
	if err != nil {
		return err
	}
	if err := fs.accessCheckCreate(req, parent2, h.isDir); err != nil {
		return err
	}
	if name2.Exists {
		if err := c.checkReplace(req, name2, r.Overwrite); err != nil {
			return err
		}
	}

	lck, err := fs.odb.Lock(req.Ctx, h.name.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	if err := fs.doRename(lck, h.name, name2.FullName); err != nil {
		return err
	}
	h.name.OriginalName = fs.wireName(name2.FullName)
	return nil
}

// hardLink adds name2 as a second name of the file name1.
func (c *Conn) hardLink(req *ntvfs.Request, name1, name2 *Filename) error {
	fs := c.fs
	if !name1.Exists {
		return common.NewError(common.StatusObjectNameNotFound, "%s not found", name1.OriginalName)
	}
	if name1.IsDir() {
		return common.NewError(common.StatusFileIsADirectory, "cannot link directory %s", name1.OriginalName)
	}
	if name2.Exists {
		return common.NewError(common.StatusObjectNameCollision, "%s exists", name2.OriginalName)
	}
	parent2, err := fs.resolveParent(name2)
	if err != nil {
		return err
	}
	if err := fs.accessCheckCreate(req, parent2, false); err != nil {
		return err
	}

	fd1, err := fs.parentFD(name1.FullName)
	if err != nil {
		return err
	}
	defer unix.Close(fd1)
	fd2, err := fs.parentFD(name2.FullName)
	if err != nil {
		return err
	}
	defer unix.Close(fd2)
	if err := unix.Linkat(fd1, filepath.Base(name1.FullName), fd2, filepath.Base(name2.FullName), 0); err != nil {
		return common.FromErrno(err)
	}
	fs.notifyChange(name2.FullName, ntvfs.NotifyActionAdded, ntvfs.NotifyFileName)
	return nil
}

// copyFile copies the data, DOS attributes and EAs of name1 into a new
// file name2.
func (c *Conn) copyFile(req *ntvfs.Request, name1, name2 *Filename) (err error) {
	fs := c.fs
	if !name1.Exists {
		return common.NewError(common.StatusObjectNameNotFound, "%s not found", name1.OriginalName)
	}
	if name1.IsDir() {
		return common.NewError(common.StatusFileIsADirectory, "cannot copy directory %s", name1.OriginalName)
	}
	if name2.Exists {
		return common.NewError(common.StatusObjectNameCollision, "%s exists", name2.OriginalName)
	}
	if err := fs.accessCheckSimple(req, name1, ntvfs.FileReadData); err != nil {
		return err
	}
	parent2, err := fs.resolveParent(name2)
	if err != nil {
		return err
	}
	if err := fs.accessCheckCreate(req, parent2, false); err != nil {
		return err
	}

	srcFD, err := fs.openFD(name1, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	src := os.NewFile(uintptr(srcFD), name1.FullName)
	defer src.Close()
	dstFD, err := openNoFollow(fs.root, fs.relPath(name2.FullName), unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	dst := os.NewFile(uintptr(dstFD), name2.FullName)
	defer func() {
		dst.Close()
		if err != nil {
			fs.xattrUnlinkHook(fs.target(name2, -1))
			unix.Unlink(name2.FullName)
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return common.FromErrno(err)
	}
	mode := fs.modeForCreate(name1.DOS.Attrib, false)
	if err := unix.Fchmod(dstFD, mode); err != nil {
		return common.FromErrno(err)
	}
	if name2.St, err = fstat(dstFD); err != nil {
		return err
	}
	name2.Exists = true
	if err := fs.fillDOS(name2, dstFD); err != nil {
		return err
	}
	name2.DOS.Attrib = name1.DOS.Attrib
	name2.DOS.CreateTime = name1.DOS.CreateTime
	name2.DOS.AllocSize = name1.DOS.AllocSize
	if err := fs.saveDOS(name2, dstFD); err != nil {
		return err
	}
	eas, err := fs.loadEAs(name1, srcFD)
	if err != nil {
		return err
	}
	if len(eas) > 0 {
		if err := fs.setEAs(name2, dstFD, eas); err != nil {
			return err
		}
	}
	fs.notifyChange(name2.FullName, ntvfs.NotifyActionAdded, ntvfs.NotifyFileName)
	return nil
}
