package storage

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
)

// NativeStore keeps attributes as extended attributes of the file itself.
// Paths are never followed through a final symlink.
type NativeStore struct{}

var _ XattrStore = NativeStore{}

func NewNativeStore() NativeStore { return NativeStore{} }

func mapXattrErr(err error) error {
	if errors.Is(err, errNoAttr) {
		return ErrNoAttr
	}
	return common.FromErrno(err)
}

func (NativeStore) get(t Target, name string, dest []byte) (int, error) {
	if t.Fd >= 0 {
		return unix.Fgetxattr(t.Fd, name, dest)
	}
	return unix.Lgetxattr(t.Path, name, dest)
}

func (s NativeStore) Get(t Target, name string) ([]byte, error) {
	for {
		size, err := s.get(t, name, nil)
		if err != nil {
			return nil, mapXattrErr(err)
		}
		buf := make([]byte, size)
		n, err := s.get(t, name, buf)
		if errors.Is(err, unix.ERANGE) {
			// grew between the two calls
			continue
		}
		if err != nil {
			return nil, mapXattrErr(err)
		}
		return buf[:n], nil
	}
}

func (NativeStore) Set(t Target, name string, value []byte) error {
	var err error
	if t.Fd >= 0 {
		err = unix.Fsetxattr(t.Fd, name, value, 0)
	} else {
		err = unix.Lsetxattr(t.Path, name, value, 0)
	}
	if err != nil {
		return mapXattrErr(err)
	}
	return nil
}

func (NativeStore) Remove(t Target, name string) error {
	var err error
	if t.Fd >= 0 {
		err = unix.Fremovexattr(t.Fd, name)
	} else {
		err = unix.Lremovexattr(t.Path, name)
	}
	if err != nil {
		return mapXattrErr(err)
	}
	return nil
}

func (NativeStore) list(t Target, dest []byte) (int, error) {
	if t.Fd >= 0 {
		return unix.Flistxattr(t.Fd, dest)
	}
	return unix.Llistxattr(t.Path, dest)
}

func (s NativeStore) List(t Target) ([]string, error) {
	for {
		size, err := s.list(t, nil)
		if err != nil {
			return nil, mapXattrErr(err)
		}
		if size == 0 {
			return nil, nil
		}
		buf := make([]byte, size)
		n, err := s.list(t, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if err != nil {
			return nil, mapXattrErr(err)
		}
		var names []string
		for _, b := range bytes.Split(buf[:n], []byte{0}) {
			if len(b) > 0 {
				names = append(names, string(b))
			}
		}
		return names, nil
	}
}

func (NativeStore) DeleteAll(Target) error { return nil }

func (NativeStore) Close() error { return nil }
