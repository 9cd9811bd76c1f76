package pvfs

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

const (
	maxComponentLen = 255
	maxPathLen      = 4096
)

// ResolveFlags adjust how a wire name is resolved.
type ResolveFlags uint8

const (
	// ResolveWildcard allows wildcards in the last component.
	ResolveWildcard ResolveFlags = 1 << iota
	// ResolveStream allows a stream suffix on the last component.
	ResolveStream
	// ResolveNoOpenDB skips the open database write time lookup.
	ResolveNoOpenDB
)

// Filename is a resolved name together with what was learned about the
// object it names.
type Filename struct {
	// OriginalName is the wire name as the client sent it.
	OriginalName string
	// FullName is the backing path. For a missing object it is where the
	// object would be created.
	FullName     string
	StreamName   string
	StreamID     uint32
	HasWildcard  bool
	Exists       bool
	StreamExists bool
	St           fileStat
	DOS          DOSInfo
}

func (n *Filename) IsDir() bool {
	return n.Exists && n.St.IsDir()
}

func (n *Filename) odbKey() ntvfs.ODBKey {
	return ntvfs.ODBKey{Dev: n.St.Dev, Ino: n.St.Ino}
}

func (n *Filename) brlKey() ntvfs.BRLKey {
	return ntvfs.BRLKey{Dev: n.St.Dev, Ino: n.St.Ino, StreamID: n.StreamID}
}

// lastComponent is the final element of the backing path.
func (n *Filename) lastComponent() string {
	return filepath.Base(n.FullName)
}

// parseWireName validates a wire name and splits it into path components,
// with "." and ".." already applied.
func parseWireName(wire string, flags ResolveFlags) (parts []string, stream string, wild bool, err error) {
	if len(wire) > maxPathLen {
		return nil, "", false, common.NewError(common.StatusNameTooLong, "name too long")
	}
	comps := common.SplitWireName(wire)
	for i, comp := range comps {
		last := i == len(comps)-1
		if len(comp) > maxComponentLen {
			return nil, "", false, common.NewError(common.StatusNameTooLong, "component too long in %q", wire)
		}
		if strings.IndexByte(comp, ':') >= 0 {
			if !last || flags&ResolveStream == 0 {
				return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "stream not allowed in %q", wire)
			}
			base, s, typ, _ := common.SplitStream(comp)
			if typ != "" && !strings.EqualFold(typ, "$DATA") {
				return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "unsupported stream type %q", typ)
			}
			if (s == "" && typ == "") || base == "" || strings.ContainsAny(s, wildcardChars+":") {
				return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "invalid stream name in %q", wire)
			}
			stream, comp = s, base
		}
		for j := 0; j < len(comp); j++ {
			c := comp[j]
			if c < 0x20 || c == '|' {
				return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "invalid character in %q", wire)
			}
			if strings.IndexByte(wildcardChars, c) >= 0 {
				if flags&ResolveWildcard == 0 || !last {
					return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "wildcard not allowed in %q", wire)
				}
				wild = true
			}
		}
		switch {
		case comp == ".":
			continue
		case comp == "..":
			if len(parts) == 0 {
				return nil, "", false, common.NewError(common.StatusObjectPathSyntaxBad, "%q escapes the share", wire)
			}
			parts = parts[:len(parts)-1]
			continue
		case strings.Trim(comp, ".") == "":
			return nil, "", false, common.NewError(common.StatusObjectNameInvalid, "invalid name %q", comp)
		}
		parts = append(parts, comp)
	}
	return parts, stream, wild, nil
}

// ResolveName maps a wire name to its backing object. A missing final
// component is not an error; a missing intermediate directory is.
func (fs *FS) ResolveName(req *ntvfs.Request, wire string, flags ResolveFlags) (*Filename, error) {
	if req != nil && req.Ctx != nil {
		if err := req.Ctx.Err(); err != nil {
			return nil, common.WithStatus(err, common.StatusCancelled)
		}
	}
	parts, stream, wild, err := parseWireName(wire, flags)
	if err != nil {
		return nil, err
	}
	if stream != "" {
		if err := fs.streamsEnabled(); err != nil {
			return nil, err
		}
	}
	name := &Filename{
		OriginalName: wire,
		StreamName:   stream,
		StreamID:     streamID(stream),
		HasWildcard:  wild,
	}
	if err := fs.lookup(name, parts); err != nil {
		return nil, err
	}
	if err := fs.loadMeta(name, flags); err != nil {
		return nil, err
	}
	return name, nil
}

// lookup finds the backing path of parts, matching case-insensitively and
// through short names when the exact path is missing.
func (fs *FS) lookup(name *Filename, parts []string) error {
	if len(parts) == 0 {
		name.FullName = fs.root
		return fs.statExisting(name)
	}
	last := len(parts) - 1
	if name.HasWildcard {
		dir, err := fs.lookupDir(parts[:last])
		if err != nil {
			return err
		}
		name.FullName = filepath.Join(dir, parts[last])
		return nil
	}

	full := fs.localPath(strings.Join(parts, "/"))
	if _, err := lstat(full); err == nil {
		if err := fs.checkInside(filepath.Dir(full)); err != nil {
			return err
		}
		name.FullName = full
		return fs.statExisting(name)
	} else if !isErrno(err, unix.ENOENT) && !isErrno(err, unix.ENOTDIR) {
		return err
	}

	dir, err := fs.lookupDir(parts[:last])
	if err != nil {
		return err
	}
	resolved, ok, err := fs.findEntry(dir, parts[last])
	if err != nil {
		return err
	}
	if !ok {
		name.FullName = filepath.Join(dir, parts[last])
		return fs.checkInside(filepath.Dir(name.FullName))
	}
	name.FullName = resolved
	return fs.statExisting(name)
}

// lookupDir resolves a chain of directories, all of which must exist.
func (fs *FS) lookupDir(parts []string) (string, error) {
	cur := fs.root
	if len(parts) == 0 {
		return cur, nil
	}
	full := fs.localPath(strings.Join(parts, "/"))
	if st, err := stat(full); err == nil && st.IsDir() {
		return full, fs.checkInside(full)
	}
	for _, comp := range parts {
		next, ok, err := fs.findEntry(cur, comp)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", common.NewError(common.StatusObjectPathNotFound, "%s not found", comp)
		}
		st, err := stat(next)
		if err != nil || !st.IsDir() {
			return "", common.NewError(common.StatusObjectPathNotFound, "%s is not a directory", comp)
		}
		cur = next
	}
	return cur, fs.checkInside(cur)
}

// findEntry looks comp up in dir: exactly, through the short name cache,
// then by scanning the directory when names are case-insensitive.
func (fs *FS) findEntry(dir, comp string) (string, bool, error) {
	p := filepath.Join(dir, comp)
	if _, err := lstat(p); err == nil {
		return p, true, nil
	}
	if !fs.opts.CaseInsensitive {
		return "", false, nil
	}
	if long, ok := fs.mangler.lookup(comp); ok {
		p := filepath.Join(dir, long)
		if _, err := lstat(p); err == nil {
			return p, true, nil
		}
	}
	d, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, common.FromErrno(err)
	}
	defer d.Close()
	names, err := d.Readdirnames(-1)
	if err != nil {
		return "", false, common.FromErrno(err)
	}
	mangled := fs.mangler.isMangled(comp)
	for _, n := range names {
		if strings.EqualFold(n, comp) || (mangled && fs.mangler.matchesShort(n, comp)) {
			return filepath.Join(dir, n), true, nil
		}
	}
	return "", false, nil
}

// checkInside rejects paths whose symlinks lead out of the share.
func (fs *FS) checkInside(full string) error {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil
	}
	if resolved == fs.root || strings.HasPrefix(resolved, fs.root+string(filepath.Separator)) {
		return nil
	}
	return common.NewError(common.StatusAccessDenied, "%s leads outside the share", full)
}

// statExisting stats name.FullName, following a final symlink when its
// target stays inside the share.
func (fs *FS) statExisting(name *Filename) error {
	st, err := lstat(name.FullName)
	if err != nil {
		if isErrno(err, unix.ENOENT) {
			return nil
		}
		return err
	}
	if st.IsSymlink() {
		resolved, err := filepath.EvalSymlinks(name.FullName)
		if err != nil {
			return common.NewError(common.StatusObjectNameNotFound, "dangling link %s", name.FullName)
		}
		if err := fs.checkInside(resolved); err != nil {
			return err
		}
		name.FullName = resolved
		if st, err = lstat(resolved); err != nil {
			return err
		}
	}
	name.St = st
	name.Exists = true
	return nil
}

// loadMeta fills DOS metadata and the write time recorded by open handles.
func (fs *FS) loadMeta(name *Filename, flags ResolveFlags) error {
	if !name.Exists {
		return nil
	}
	if err := fs.fillDOS(name, -1); err != nil {
		return err
	}
	if flags&ResolveNoOpenDB == 0 {
		fs.applyODBWriteTime(name)
	}
	return nil
}

func (fs *FS) applyODBWriteTime(name *Filename) {
	st, err := fs.odb.FileInfo(name.odbKey())
	if err == nil && !st.WriteTime.IsZero() {
		name.DOS.WriteTime = ntvfs.NTTimeFrom(st.WriteTime)
	}
}

// ResolvePartial resolves entry, a name found while listing dir.
func (fs *FS) ResolvePartial(dir *Filename, entry string) (*Filename, error) {
	name := &Filename{
		OriginalName: joinWire(dir.OriginalName, entry),
		FullName:     filepath.Join(dir.FullName, entry),
	}
	st, err := lstat(name.FullName)
	if err != nil {
		return nil, err
	}
	name.St = st
	name.Exists = true
	if err := fs.loadMeta(name, 0); err != nil {
		return nil, err
	}
	return name, nil
}

// resolveParent returns the directory containing name.
func (fs *FS) resolveParent(name *Filename) (*Filename, error) {
	dir := filepath.Dir(name.FullName)
	if name.FullName == fs.root {
		dir = fs.root
	}
	parent := &Filename{
		OriginalName: common.ParentWireName(name.OriginalName),
		FullName:     dir,
	}
	if err := fs.statExisting(parent); err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, common.NewError(common.StatusObjectPathNotFound, "parent of %s missing", name.OriginalName)
	}
	if err := fs.loadMeta(parent, ResolveNoOpenDB); err != nil {
		return nil, err
	}
	return parent, nil
}

// ResolveHandleName re-reads the metadata of an open object, through fd
// when it is valid.
func (fs *FS) ResolveHandleName(name *Filename, fd int) error {
	var st fileStat
	var err error
	if fd >= 0 {
		st, err = fstat(fd)
	} else {
		st, err = lstat(name.FullName)
	}
	if err != nil {
		return err
	}
	name.St = st
	name.Exists = true
	if err := fs.fillDOS(name, fd); err != nil {
		return err
	}
	fs.applyODBWriteTime(name)
	return nil
}

func joinWire(dir, entry string) string {
	if dir == "" {
		return entry
	}
	return strings.TrimRight(dir, `\/`) + string(common.WireSeparator) + entry
}

// wireName maps a backing path to the wire name clients see.
func (fs *FS) wireName(full string) string {
	return strings.ReplaceAll(fs.relPath(full), "/", string(common.WireSeparator))
}
