package pvfs

import (
	"io"
	"os"
	"strings"

	"pvfs/internal/common"
)

// Directory offsets: "." is 0, ".." is 1 and real entries count up from
// dirOffsetBase in the order the OS returns them.
const (
	dirOffsetDot    uint32 = 0
	dirOffsetDotDot uint32 = 1
	dirOffsetBase   uint32 = 2

	dirNameCacheSize = 32
	dirReadBatch     = 128
)

type dirCacheEntry struct {
	name   string
	offset uint32
}

// dirCursor walks one directory lazily. Offsets are stable for as long as
// the directory is not modified.
type dirCursor struct {
	path    string
	pattern string
	// exact is set for patterns without wildcards; the single matching
	// entry was looked up when the cursor was opened.
	exact     bool
	exactName string

	f       *os.File
	batch   []string
	fOffset uint32 // offset of batch[0]
	eof     bool

	offset uint32 // next offset to return

	cache    [dirNameCacheSize]dirCacheEntry
	cacheIdx int
}

// openDir prepares a listing of dir filtered by pattern.
func (fs *FS) openDir(dir, pattern string) (*dirCursor, error) {
	d := &dirCursor{path: dir, pattern: pattern}
	if !hasWildcard(pattern) {
		d.exact = true
		if pattern == "." || pattern == ".." {
			d.exactName = pattern
		} else if full, ok, err := fs.findEntry(dir, pattern); err != nil {
			return nil, err
		} else if ok {
			d.exactName = full[strings.LastIndexByte(full, os.PathSeparator)+1:]
		}
	}
	return d, nil
}

func (d *dirCursor) reopen() error {
	if d.f != nil {
		d.f.Close()
	}
	f, err := os.Open(d.path)
	if err != nil {
		return common.FromErrno(err)
	}
	d.f = f
	d.batch = nil
	d.fOffset = dirOffsetBase
	d.eof = false
	return nil
}

// entryAt returns the name at offset, reading ahead as needed.
func (d *dirCursor) entryAt(off uint32) (string, bool, error) {
	switch off {
	case dirOffsetDot:
		return ".", true, nil
	case dirOffsetDotDot:
		return "..", true, nil
	}
	if d.f == nil || off < d.fOffset {
		if err := d.reopen(); err != nil {
			return "", false, err
		}
	}
	for {
		if idx := off - d.fOffset; idx < uint32(len(d.batch)) {
			return d.batch[idx], true, nil
		}
		if d.eof {
			return "", false, nil
		}
		d.fOffset += uint32(len(d.batch))
		names, err := d.f.Readdirnames(dirReadBatch)
		if err == io.EOF || (err == nil && len(names) == 0) {
			d.eof = true
			d.batch = nil
			continue
		}
		if err != nil {
			return "", false, common.FromErrno(err)
		}
		d.batch = names
	}
}

// next returns the next entry accepted by match, with its offset.
func (d *dirCursor) next(match func(name string) bool) (string, uint32, bool, error) {
	if d.exact {
		if d.exactName == "" || d.offset > 0 {
			return "", 0, false, nil
		}
		d.offset = 1
		return d.exactName, 0, true, nil
	}
	for {
		off := d.offset
		name, ok, err := d.entryAt(off)
		if err != nil || !ok {
			return "", 0, false, err
		}
		d.offset++
		d.remember(name, off)
		if match(name) {
			return name, off, true, nil
		}
	}
}

func (d *dirCursor) remember(name string, off uint32) {
	d.cache[d.cacheIdx] = dirCacheEntry{name: name, offset: off}
	d.cacheIdx = (d.cacheIdx + 1) % dirNameCacheSize
}

// seekOffset makes next continue at off.
func (d *dirCursor) seekOffset(off uint32) {
	if d.exact {
		if off > 0 {
			d.offset = 1
		} else {
			d.offset = 0
		}
		return
	}
	d.offset = off
}

// seekName makes next continue after the entry called name. Recently
// returned names are found without rereading the directory.
func (d *dirCursor) seekName(name string) error {
	if d.exact {
		d.offset = 1
		return nil
	}
	for _, e := range d.cache {
		if e.name != "" && strings.EqualFold(e.name, name) {
			d.offset = e.offset + 1
			return nil
		}
	}
	for off := dirOffsetDot; ; off++ {
		n, ok, err := d.entryAt(off)
		if err != nil {
			return err
		}
		if !ok {
			return common.NewError(common.StatusObjectNameNotFound, "resume name %q not in directory", name)
		}
		if strings.EqualFold(n, name) {
			d.offset = off + 1
			return nil
		}
	}
}

// rewind restarts the listing.
func (d *dirCursor) rewind() { d.seekOffset(0) }

func (d *dirCursor) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
