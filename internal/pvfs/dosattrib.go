package pvfs

import (
	"errors"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/storage"
)

// DOSInfo is the DOS view of a file: what stat reports, overlaid with the
// persisted DOS attribute record.
type DOSInfo struct {
	Attrib     uint32
	EASize     uint32
	Size       uint64
	AllocSize  uint64
	CreateTime ntvfs.NTTime
	AccessTime ntvfs.NTTime
	WriteTime  ntvfs.NTTime
	ChangeTime ntvfs.NTTime
	Nlink      uint32
	FileID     uint64
}

func (fs *FS) roundAlloc(size uint64) uint64 {
	r := fs.opts.AllocationRounding
	if size == 0 || r <= 1 {
		return size
	}
	return (size + r - 1) / r * r
}

// attribFromMode derives DOS attributes from permission bits. The user
// execute bit carries the archive attribute.
func attribFromMode(st *fileStat) uint32 {
	var a uint32
	if st.Mode&unix.S_IWUSR == 0 {
		a |= ntvfs.AttrReadOnly
	}
	if st.IsDir() {
		return ntvfs.AttrDirectory | a
	}
	if st.Mode&unix.S_IXUSR != 0 {
		a |= ntvfs.AttrArchive
	}
	return a
}

// fillDOS computes name.DOS from name.St and the stored record. Streams
// take their size from the stream list.
func (fs *FS) fillDOS(name *Filename, fd int) error {
	st := &name.St
	d := &name.DOS
	*d = DOSInfo{
		Attrib:     attribFromMode(st),
		Size:       uint64(st.Size),
		CreateTime: st.Btime,
		AccessTime: st.Atime,
		WriteTime:  st.Mtime,
		ChangeTime: st.Ctime,
		Nlink:      uint32(st.Nlink),
		FileID:     st.Dev<<48 ^ st.Ino,
	}
	d.AllocSize = fs.roundAlloc(d.Size)

	if fs.opts.EA {
		b, err := fs.xattrLoad(fs.target(name, fd), xattrDosAttrib)
		switch {
		case errors.Is(err, storage.ErrNoAttr):
		case err != nil:
			return err
		default:
			rec, err := decodeDOSAttrib(b)
			if err != nil {
				return err
			}
			d.Attrib = rec.Attrib &^ ntvfs.AttrDirectory
			if st.IsDir() {
				d.Attrib |= ntvfs.AttrDirectory
			}
			d.EASize = rec.EASize
			if rec.Flags&dosFlagCreateTime != 0 {
				d.CreateTime = ntvfs.NTTime(rec.CreateTime)
			}
			if rec.Flags&dosFlagChangeTime != 0 {
				d.ChangeTime = ntvfs.NTTime(rec.ChangeTime)
			}
			if rec.Flags&dosFlagAllocSize != 0 && rec.AllocSize >= d.Size {
				d.AllocSize = fs.roundAlloc(rec.AllocSize)
			}
		}
	}

	if st.IsDir() {
		d.Size = 0
		d.AllocSize = 0
		d.Nlink = 1
	}
	if name.StreamName != "" {
		if err := fs.fillStream(name, fd); err != nil {
			return err
		}
	}
	if d.Attrib == 0 {
		d.Attrib = ntvfs.AttrNormal
	} else if d.Attrib != ntvfs.AttrNormal {
		d.Attrib &^= ntvfs.AttrNormal
	}
	return nil
}

// saveDOS persists name.DOS. Nothing is written when EAs are disabled.
func (fs *FS) saveDOS(name *Filename, fd int) error {
	if !fs.opts.EA {
		return nil
	}
	d := &name.DOS
	rec := dosAttribRecord{
		Version:    dosAttribVersion,
		Flags:      dosFlagCreateTime | dosFlagChangeTime,
		Attrib:     d.Attrib &^ ntvfs.AttrNormal,
		EASize:     d.EASize,
		Size:       uint64(name.St.Size),
		CreateTime: uint64(d.CreateTime),
		ChangeTime: uint64(d.ChangeTime),
	}
	if name.StreamName == "" && d.AllocSize != fs.roundAlloc(uint64(name.St.Size)) {
		rec.Flags |= dosFlagAllocSize
		rec.AllocSize = d.AllocSize
	}
	b, err := encodeDOSAttrib(rec)
	if err != nil {
		return err
	}
	return fs.xattrSave(fs.target(name, fd), xattrDosAttrib, b)
}

// modeForCreate maps requested attributes to permission bits for a new
// file or directory.
func (fs *FS) modeForCreate(attrib uint32, dir bool) uint32 {
	var mode uint32 = 0666
	if dir {
		mode = 0777
	}
	if attrib&ntvfs.AttrReadOnly != 0 {
		mode &^= 0222
	}
	if dir {
		return uint32(fs.opts.DirMask)&mode | uint32(fs.opts.ForceDirMode)
	}
	mode &^= 0111
	if attrib&ntvfs.AttrArchive != 0 {
		mode |= unix.S_IXUSR
	}
	return uint32(fs.opts.CreateMask)&mode | uint32(fs.opts.ForceCreateMode)
}

// applyAttribMode keeps the permission bits mapped from attributes in sync
// after a set-info. Bits outside the mapping are preserved.
func (fs *FS) applyAttribMode(name *Filename, fd int, attrib uint32) error {
	mode := name.St.Mode & 07777
	want := mode
	if attrib&ntvfs.AttrReadOnly != 0 {
		want &^= 0222
	} else if mode&unix.S_IWUSR == 0 {
		want |= unix.S_IWUSR
	}
	if !name.St.IsDir() {
		if attrib&ntvfs.AttrArchive != 0 {
			want |= unix.S_IXUSR
		} else {
			want &^= unix.S_IXUSR
		}
	}
	if want == mode {
		return nil
	}
	var err error
	if fd >= 0 {
		err = unix.Fchmod(fd, want)
	} else {
		err = unix.Chmod(name.FullName, want)
	}
	if err != nil {
		return common.FromErrno(err)
	}
	name.St.Mode = name.St.Mode&^07777 | want
	return nil
}
