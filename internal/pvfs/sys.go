package pvfs

import (
	"errors"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
)

// openNoFollow opens rel below root one component at a time. No component,
// the last one included, may be a symlink.
func openNoFollow(root, rel string, flags int, mode uint32) (int, error) {
	dirfd, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, common.FromErrno(err)
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" {
		return dirfd, nil
	}
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		fd, err := unix.Openat(dirfd, p, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		unix.Close(dirfd)
		if err != nil {
			return -1, common.FromErrno(err)
		}
		dirfd = fd
	}
	fd, err := unix.Openat(dirfd, parts[len(parts)-1], flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, mode)
	unix.Close(dirfd)
	if err != nil {
		return -1, common.FromErrno(err)
	}
	return fd, nil
}

func isErrno(err error, errno unix.Errno) bool {
	return errors.Is(err, errno)
}
