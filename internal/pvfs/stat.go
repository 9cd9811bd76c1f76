package pvfs

import (
	"time"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// fileStat is the portable subset of stat(2) the backend works with.
type fileStat struct {
	Dev    uint64
	Ino    uint64
	Mode   uint32
	Nlink  uint64
	UID    uint32
	GID    uint32
	Size   int64
	Blocks int64
	Atime  ntvfs.NTTime
	Mtime  ntvfs.NTTime
	Ctime  ntvfs.NTTime
	// Btime is the birth time where the platform reports one, else Ctime.
	Btime ntvfs.NTTime
}

func (s *fileStat) IsDir() bool     { return s.Mode&unix.S_IFMT == unix.S_IFDIR }
func (s *fileStat) IsRegular() bool { return s.Mode&unix.S_IFMT == unix.S_IFREG }
func (s *fileStat) IsSymlink() bool { return s.Mode&unix.S_IFMT == unix.S_IFLNK }

func ntTimespec(ts unix.Timespec) ntvfs.NTTime {
	return ntvfs.NTTimeFrom(time.Unix(ts.Unix()))
}

// lstat never follows a final symlink.
func lstat(path string) (fileStat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fileStat{}, common.FromErrno(err)
	}
	return statFromSys(&st), nil
}

func stat(path string) (fileStat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileStat{}, common.FromErrno(err)
	}
	return statFromSys(&st), nil
}

func fstat(fd int) (fileStat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fileStat{}, common.FromErrno(err)
	}
	return statFromSys(&st), nil
}
