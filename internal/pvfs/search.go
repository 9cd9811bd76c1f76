package pvfs

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// search is the state of one directory enumeration, either a handle based
// search or the enumeration attached to an open directory.
type search struct {
	handle  uint16
	session uint64
	dir     *Filename
	cursor  *dirCursor
	attrib  uint16
	timer   ntvfs.Timer
}

// matchAttrib applies the DOS search attribute rules. Hidden, system and
// directory entries need their bit in the low byte of attrib. The high
// byte lists attributes an entry must have.
func matchAttrib(entry, attrib uint32) bool {
	if entry&^attrib&(ntvfs.AttrHidden|ntvfs.AttrSystem|ntvfs.AttrDirectory) != 0 {
		return false
	}
	must := attrib >> 8 & 0xFF
	return entry&must == must
}

func (fs *FS) matchName(pattern, name string) bool {
	if matchPattern(pattern, name) {
		return true
	}
	if name == "." || name == ".." || !fs.opts.CaseInsensitive {
		return false
	}
	return matchPattern(pattern, fs.mangler.shortName(name))
}

// fill returns up to max entries of s. end reports the directory was
// exhausted.
func (c *Conn) fill(s *search, max int) ([]ntvfs.SearchEntry, bool, error) {
	if max <= 0 {
		max = 1
	}
	var out []ntvfs.SearchEntry
	for len(out) < max {
		name, _, ok, err := s.cursor.next(func(n string) bool { return c.fs.matchName(s.cursor.pattern, n) })
		if err != nil {
			return out, false, err
		}
		if !ok {
			return out, true, nil
		}
		entry, err := c.fs.searchEntry(s.dir, name)
		if err != nil {
			// a name that vanished between readdir and stat is skipped
			log.Tracef("[PVFS] Skipping %s in %s: %v", name, s.dir.FullName, err)
			continue
		}
		if !matchAttrib(entry.Attrib, uint32(s.attrib)) {
			continue
		}
		entry.ResumeKey = s.cursor.offset
		out = append(out, entry)
	}
	return out, false, nil
}

func (fs *FS) searchEntry(dir *Filename, name string) (ntvfs.SearchEntry, error) {
	var n *Filename
	var err error
	switch name {
	case ".":
		n = dir
	case "..":
		n, err = fs.resolveParent(dir)
	default:
		n, err = fs.ResolvePartial(dir, name)
	}
	if err != nil {
		return ntvfs.SearchEntry{}, err
	}
	d := &n.DOS
	short := ""
	if name != "." && name != ".." {
		short = fs.mangler.shortName(name)
		if short == name {
			short = ""
		}
	}
	return ntvfs.SearchEntry{
		Name:       name,
		ShortName:  short,
		CreateTime: d.CreateTime,
		AccessTime: d.AccessTime,
		WriteTime:  d.WriteTime,
		ChangeTime: d.ChangeTime,
		Attrib:     d.Attrib,
		Size:       d.Size,
		AllocSize:  d.AllocSize,
		EASize:     d.EASize,
		FileID:     d.FileID,
	}, nil
}

// openSearch resolves a search pattern into the directory and the pattern
// for its entries.
func (c *Conn) openSearch(req *ntvfs.Request, pattern string, attrib uint16) (*search, error) {
	fs := c.fs
	name, err := fs.ResolveName(req, pattern, ResolveWildcard)
	if err != nil {
		return nil, err
	}
	dir, err := fs.resolveParent(name)
	if err != nil {
		return nil, err
	}
	if name.FullName == fs.root {
		dir = name
	}
	if err := fs.accessCheckSimple(req, dir, ntvfs.FileListDirectory); err != nil {
		return nil, err
	}
	leaf := filepath.Base(name.FullName)
	if parts := common.SplitWireName(pattern); len(parts) > 0 {
		leaf = parts[len(parts)-1]
	}
	if name.FullName == fs.root {
		leaf = "*"
	}
	cur, err := fs.openDir(dir.FullName, leaf)
	if err != nil {
		return nil, err
	}
	return &search{session: req.SessionID, dir: dir, cursor: cur, attrib: attrib}, nil
}

func (c *Conn) allocSearch(s *search) error {
	for i := 0; i < 0xFFFF; i++ {
		c.nextSearch++
		if c.nextSearch == 0 || c.nextSearch == 0xFFFF {
			continue
		}
		if _, used := c.searches[c.nextSearch]; !used {
			s.handle = c.nextSearch
			c.searches[s.handle] = s
			c.armSearchTimer(s)
			return nil
		}
	}
	return common.NewError(common.StatusTooManyOpenedFiles, "search table full")
}

// armSearchTimer (re)starts the inactivity expiry of a retained search.
func (c *Conn) armSearchTimer(s *search) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = c.fs.sched.After(c.fs.opts.SearchInactivity, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.searches[s.handle] != s {
			return
		}
		log.Debugf("[PVFS] Search %d on %s expired", s.handle, s.dir.FullName)
		c.fs.metrics.RecordSearchExpired()
		c.closeSearch(s.handle)
	})
}

func (c *Conn) closeSearch(handle uint16) {
	s := c.searches[handle]
	if s == nil {
		return
	}
	delete(c.searches, handle)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cursor.Close()
}

// SearchFirst starts a search. The search is kept for SearchNext unless
// the flags ask for it to be closed.
func (c *Conn) SearchFirst(req *ntvfs.Request, args *ntvfs.SearchFirstArgs) (*ntvfs.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	s, err := c.openSearch(req, args.Pattern, args.Attrib)
	if err != nil {
		return nil, err
	}
	entries, end, err := c.fill(s, args.MaxCount)
	if err != nil {
		s.cursor.Close()
		return nil, err
	}
	if len(entries) == 0 {
		s.cursor.Close()
		return nil, common.NewError(common.StatusNoSuchFile, "no match for %s", args.Pattern)
	}
	res := &ntvfs.SearchResult{Entries: entries, EndOfSearch: end}
	if args.Flags&ntvfs.SearchCloseAfterFirst != 0 || (end && args.Flags&ntvfs.SearchCloseAtEnd != 0) {
		s.cursor.Close()
		return res, nil
	}
	if err := c.allocSearch(s); err != nil {
		s.cursor.Close()
		return nil, err
	}
	res.Handle = s.handle
	return res, nil
}

// SearchNext continues a search from the last returned entry, a resume
// name or a resume key.
func (c *Conn) SearchNext(req *ntvfs.Request, args *ntvfs.SearchNextArgs) (*ntvfs.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	s := c.searches[args.Handle]
	if s == nil {
		return nil, common.NewError(common.StatusInvalidHandle, "no search %d", args.Handle)
	}
	c.armSearchTimer(s)
	switch {
	case args.Flags&ntvfs.SearchContinue != 0:
	case args.LastName != "":
		if err := s.cursor.seekName(args.LastName); err != nil {
			return nil, err
		}
	case args.ResumeKey != 0:
		s.cursor.seekOffset(args.ResumeKey)
	}
	entries, end, err := c.fill(s, args.MaxCount)
	if err != nil {
		return nil, err
	}
	res := &ntvfs.SearchResult{Handle: s.handle, Entries: entries, EndOfSearch: end}
	if end && args.Flags&ntvfs.SearchCloseAtEnd != 0 || args.Flags&ntvfs.SearchCloseAfterFirst != 0 {
		c.closeSearch(s.handle)
	}
	if len(entries) == 0 {
		return res, common.NewError(common.StatusNoMoreFiles, "search %d exhausted", args.Handle)
	}
	return res, nil
}

// SearchClose ends a search early.
func (c *Conn) SearchClose(req *ntvfs.Request, handle uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.searches[handle]; !ok {
		return common.NewError(common.StatusInvalidHandle, "no search %d", handle)
	}
	c.closeSearch(handle)
	return nil
}

// Find enumerates an open directory. The enumeration lives with the open
// and restarts when asked to or when the pattern changes.
func (c *Conn) Find(req *ntvfs.Request, fileID uint64, args *ntvfs.FindArgs) ([]ntvfs.SearchEntry, error) {
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
	c.syncName(f.h)
	pattern := args.Pattern
	if pattern == "" {
		pattern = "*"
	}
	first := false
	if f.find == nil || f.find.cursor.pattern != pattern || args.Flags&ntvfs.FindReopen != 0 {
		if f.find != nil {
			f.find.cursor.Close()
		}
		cur, err := c.fs.openDir(f.h.name.FullName, pattern)
		if err != nil {
			return nil, err
		}
		f.find = &search{session: f.session, dir: f.h.name, cursor: cur, attrib: 0xFF &^ uint16(ntvfs.AttrVolume)}
		first = true
	} else if args.Flags&ntvfs.FindRestart != 0 {
		f.find.cursor.rewind()
		first = true
	}
	max := args.MaxCount
	if args.Flags&ntvfs.FindReturnSingle != 0 {
		max = 1
	}
	entries, _, err := c.fill(f.find, max)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if first {
			return nil, common.NewError(common.StatusNoSuchFile, "no match for %s", pattern)
		}
		return nil, common.NewError(common.StatusNoMoreFiles, "listing of %s exhausted", f.Name())
	}
	return entries, nil
}
