package pvfs

import (
	"github.com/creachadair/cityhash"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// fsStat is the portable subset of statfs(2).
type fsStat struct {
	BlockSize uint64
	Blocks    uint64
	Bfree     uint64
	Bavail    uint64
	Files     uint64
	Ffree     uint64
	NameMax   uint32
}

// FSInfo describes the filesystem behind the share.
func (c *Conn) FSInfo(req *ntvfs.Request) (ntvfs.FSInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return ntvfs.FSInfo{}, err
	}
	fs := c.fs
	st, err := statfs(fs.root)
	if err != nil {
		return ntvfs.FSInfo{}, common.FromErrno(err)
	}
	attrs := ntvfs.FSCasePreservedNames | ntvfs.FSUnicodeOnDisk
	if !fs.opts.CaseInsensitive {
		attrs |= ntvfs.FSCaseSensitiveSearch
	}
	if fs.opts.EA {
		attrs |= ntvfs.FSPersistentACLs
		if fs.opts.Streams {
			attrs |= ntvfs.FSNamedStreams
		}
	}
	if fs.opts.ReadOnly {
		attrs |= ntvfs.FSReadOnlyVolume
	}
	return ntvfs.FSInfo{
		BlockSize:       st.BlockSize,
		TotalBlocks:     st.Blocks,
		FreeBlocks:      st.Bfree,
		AvailableBlocks: st.Bavail,
		Files:           st.Files,
		FreeFiles:       st.Ffree,
		FSType:          "NTFS",
		VolumeName:      fs.opts.ShareName,
		SerialNumber:    cityhash.Hash32([]byte(fs.opts.ShareName)),
		Attributes:      attrs,
		MaxNameLen:      min(st.NameMax, maxComponentLen),
	}, nil
}
