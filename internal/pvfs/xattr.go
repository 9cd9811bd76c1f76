package pvfs

import (
	"errors"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/storage"
)

// Attribute names of the persisted records.
const (
	xattrDosAttrib    = "user.DosAttrib"
	xattrDosEAs       = "user.DosEAs"
	xattrDosStreams   = "user.DosStreams"
	xattrStreamPrefix = "user.DosStream."
	xattrNTACL        = "security.NTACL"
	xattrNTACLUser    = "user.NTACL"
)

// ntaclAttr returns where security descriptors live. The security
// namespace needs root, so unprivileged servers use the user namespace.
func ntaclAttr() string {
	if os.Geteuid() == 0 {
		return xattrNTACL
	}
	return xattrNTACLUser
}

func (fs *FS) target(name *Filename, fd int) storage.Target {
	return storage.Target{Path: name.FullName, Fd: fd, Dev: name.St.Dev, Ino: name.St.Ino}
}

// xattrLoad reads one record. A record that was never written yields
// storage.ErrNoAttr.
func (fs *FS) xattrLoad(t storage.Target, attr string) ([]byte, error) {
	v, err := fs.store.Get(t, attr)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error {
			var perr error
			v, perr = fs.store.Get(t, attr)
			return perr
		})
	}
	return v, err
}

// xattrSave writes one record, retrying with privilege when the caller was
// allowed the change but the file mode forbids it.
func (fs *FS) xattrSave(t storage.Target, attr string, value []byte) error {
	err := fs.store.Set(t, attr, value)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error { return fs.store.Set(t, attr, value) })
	}
	if err != nil {
		if isErrno(err, unix.ENOTSUP) {
			return common.WithStatus(err, common.StatusEAsNotSupported)
		}
		return err
	}
	return nil
}

// xattrDelete removes one record. A missing record is not an error.
func (fs *FS) xattrDelete(t storage.Target, attr string) error {
	err := fs.store.Remove(t, attr)
	if err != nil && isErrno(err, unix.EACCES) {
		err = withPrivilege(func() error { return fs.store.Remove(t, attr) })
	}
	if errors.Is(err, storage.ErrNoAttr) {
		return nil
	}
	return err
}

// xattrUnlinkHook drops the records of a file about to disappear. Side
// databases would otherwise keep them keyed by a recycled inode.
func (fs *FS) xattrUnlinkHook(t storage.Target) {
	if !fs.opts.EA {
		return
	}
	if err := fs.store.DeleteAll(t); err != nil {
		log.Warnf("[PVFS] Failed to drop attributes of %s: %v", t, err)
	}
}

// loadEAs returns the EA list of a file.
func (fs *FS) loadEAs(name *Filename, fd int) ([]ntvfs.EA, error) {
	if !fs.opts.EA {
		return nil, nil
	}
	b, err := fs.xattrLoad(fs.target(name, fd), xattrDosEAs)
	if errors.Is(err, storage.ErrNoAttr) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEAList(b)
}

func eaSize(eas []ntvfs.EA) uint32 {
	if len(eas) == 0 {
		return 0
	}
	n := uint32(4)
	for _, ea := range eas {
		n += 4 + uint32(len(ea.Name)) + 1 + uint32(len(ea.Value))
	}
	return n
}

func validEAName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, "\"*+,/:;<=>?[\\]|")
}

// setEAs merges eas into the stored list. Names compare case-insensitively
// and an empty value removes the entry. The DOS record's EA size follows.
func (fs *FS) setEAs(name *Filename, fd int, eas []ntvfs.EA) error {
	if !fs.opts.EA {
		return common.NewError(common.StatusEAsNotSupported, "EAs are disabled on this share")
	}
	for _, ea := range eas {
		if !validEAName(ea.Name) {
			return common.NewError(common.StatusInvalidEAName, "invalid EA name %q", ea.Name)
		}
	}
	cur, err := fs.loadEAs(name, fd)
	if err != nil {
		return err
	}
	for _, ea := range eas {
		idx := -1
		for i := range cur {
			if strings.EqualFold(cur[i].Name, ea.Name) {
				idx = i
				break
			}
		}
		switch {
		case len(ea.Value) == 0 && idx >= 0:
			cur = append(cur[:idx], cur[idx+1:]...)
		case len(ea.Value) == 0:
		case idx >= 0:
			cur[idx] = ea
		default:
			cur = append(cur, ea)
		}
	}

	t := fs.target(name, fd)
	if len(cur) == 0 {
		err = fs.xattrDelete(t, xattrDosEAs)
	} else {
		var b []byte
		if b, err = encodeEAList(cur); err == nil {
			err = fs.xattrSave(t, xattrDosEAs, b)
		}
	}
	if err != nil {
		return err
	}
	name.DOS.EASize = eaSize(cur)
	return fs.saveDOS(name, fd)
}
