package pvfs

import "golang.org/x/sys/unix"

func statFromSys(st *unix.Stat_t) fileStat {
	return fileStat{
		Dev:    uint64(st.Dev),
		Ino:    st.Ino,
		Mode:   uint32(st.Mode),
		Nlink:  uint64(st.Nlink),
		UID:    st.Uid,
		GID:    st.Gid,
		Size:   st.Size,
		Blocks: st.Blocks,
		Atime:  ntTimespec(st.Atimespec),
		Mtime:  ntTimespec(st.Mtimespec),
		Ctime:  ntTimespec(st.Ctimespec),
		Btime:  ntTimespec(st.Birthtimespec),
	}
}

func statfs(path string) (fsStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fsStat{}, err
	}
	return fsStat{
		BlockSize: uint64(st.Bsize),
		Blocks:    st.Blocks,
		Bfree:     st.Bfree,
		Bavail:    st.Bavail,
		Files:     st.Files,
		Ffree:     st.Ffree,
		NameMax:   255,
	}, nil
}
