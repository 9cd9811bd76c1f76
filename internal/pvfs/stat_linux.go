package pvfs

import "golang.org/x/sys/unix"

func statFromSys(st *unix.Stat_t) fileStat {
	s := fileStat{
		Dev:    uint64(st.Dev),
		Ino:    uint64(st.Ino),
		Mode:   uint32(st.Mode),
		Nlink:  uint64(st.Nlink),
		UID:    st.Uid,
		GID:    st.Gid,
		Size:   st.Size,
		Blocks: int64(st.Blocks),
		Atime:  ntTimespec(st.Atim),
		Mtime:  ntTimespec(st.Mtim),
		Ctime:  ntTimespec(st.Ctim),
	}
	s.Btime = s.Ctime
	return s
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
		NameMax:   uint32(st.Namelen),
	}, nil
}
