package smbvfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/pvfs"
	"pvfs/internal/storage"
)

func setupTestFS(t *testing.T) (*FS, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(storage.BackendBadger, filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)

	opts := pvfs.DefaultOptions(root)
	opts.SharingDelay = 100 * time.Millisecond
	opts.WriteTimeDelay = 0
	share, err := pvfs.New(opts, pvfs.Deps{Store: store})
	require.NoError(t, err)

	fs := New(share, ntvfs.Identity{})
	t.Cleanup(func() {
		fs.Shutdown()
		share.Close()
		store.Close()
	})
	return fs, share.Root()
}

func TestOpenWriteRead(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)

	h, err := fs.Open("/hello.txt", os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	n, err := fs.Write(h, []byte("hello world"), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = fs.Read(h, buf, 6, 0)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	attrs, err := fs.GetAttr(h)
	require.NoError(t, err)
	size, ok := attrs.GetSizeBytes()
	require.True(t, ok)
	assert.EqualValues(t, 11, size)
	assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())

	require.NoError(t, fs.Truncate(h, 5))
	require.NoError(t, fs.FSync(h))
	require.NoError(t, fs.Close(h))
	assert.Equal(t, EBADF, fs.Close(h))

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOpenFlags(t *testing.T) {
	t.Parallel()
	fs, _ := setupTestFS(t)

	_, err := fs.Open("missing", os.O_RDONLY, 0)
	assert.Equal(t, ENOENT, err)

	h, err := fs.Open("f", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	require.NoError(t, err)
	_, err = fs.Write(h, []byte("data"), 0, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close(h))

	_, err = fs.Open("f", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	assert.Equal(t, EEXIST, err)

	h, err = fs.Open("f", os.O_RDWR|os.O_TRUNC, 0)
	require.NoError(t, err)
	attrs, err := fs.GetAttr(h)
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.Zero(t, size)
	require.NoError(t, fs.Close(h))

	_, err = fs.Mkdir("dir", 0755)
	require.NoError(t, err)
	_, err = fs.Open("dir", os.O_RDONLY, 0)
	assert.Equal(t, EISDIR, err)
	_, err = fs.OpenDir("f")
	assert.Equal(t, ENOTDIR, err)
}

func TestReadDir(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)
	for _, n := range []string{"a.txt", "b.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, n), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	h, err := fs.OpenDir("/")
	require.NoError(t, err)
	entries, err := fs.ReadDir(h, 0, 0)
	require.NoError(t, err)

	var names []string
	types := map[string]vfs.FileType{}
	for _, e := range entries {
		names = append(names, e.Name)
		types[e.Name] = e.GetFileType()
	}
	sort.Strings(names)
	assert.Equal(t, []string{".", "..", "a.txt", "b.txt", "sub"}, names)
	assert.Equal(t, vfs.FileTypeDirectory, types["sub"])
	assert.Equal(t, vfs.FileTypeRegularFile, types["a.txt"])

	_, err = fs.ReadDir(h, 0, 0)
	assert.Equal(t, io.EOF, err)

	entries, err = fs.ReadDir(h, 1, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	require.NoError(t, fs.Close(h))
}

func TestLookupAndRoot(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "File.txt"), []byte("abc"), 0644))

	attrs, err := fs.GetAttr(0)
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())

	dir, err := fs.OpenDir("d")
	require.NoError(t, err)
	attrs, err = fs.Lookup(dir, "file.txt")
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.EqualValues(t, 3, size)

	_, err = fs.Lookup(dir, "nope")
	assert.Equal(t, ENOENT, err)
	attrs, err = fs.Lookup(0, "d")
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())
}

func TestUnlinkOnClose(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone"), []byte("x"), 0644))

	h, err := fs.Open("gone", os.O_RDONLY, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Unlink(h))
	_, err = os.Stat(filepath.Join(root, "gone"))
	require.NoError(t, err, "removed only at close")
	require.NoError(t, fs.Close(h))
	_, err = os.Stat(filepath.Join(root, "gone"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "full", "x"), 0755))
	dir, err := fs.OpenDir("full")
	require.NoError(t, err)
	assert.Equal(t, ENOTEMPTY, fs.Unlink(dir))
}

func TestRename(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "a"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "b"), []byte("y"), 0644))

	h, err := fs.Open("d/a", os.O_RDONLY, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Rename(h, "c", 0))
	_, err = os.Stat(filepath.Join(root, "d", "c"))
	require.NoError(t, err)

	assert.Equal(t, EEXIST, fs.Rename(h, "b", 0))
	require.NoError(t, fs.Rename(h, "d/b", renameReplace))
	data, err := os.ReadFile(filepath.Join(root, "d", "b"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	require.NoError(t, fs.Rename(h, "/top", 0))
	_, err = os.Stat(filepath.Join(root, "top"))
	require.NoError(t, err)
	info, _ := fs.handles.Get(HandleID(h))
	assert.Equal(t, "top", info.path)
}

func TestSetAttrReadOnly(t *testing.T) {
	t.Parallel()
	fs, root := setupTestFS(t)
	h, err := fs.Open("f", os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	in := &vfs.Attributes{}
	in.SetUnixMode(0444)
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	in.SetLastDataModificationTime(mtime)
	attrs, err := fs.SetAttr(h, in)
	require.NoError(t, err)
	mode, _ := attrs.GetUnixMode()
	assert.EqualValues(t, 0444, mode)
	got, _ := attrs.GetLastDataModificationTime()
	assert.True(t, got.Equal(mtime), "mtime %v", got)

	fi, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Zero(t, fi.Mode().Perm()&0222)

	in = &vfs.Attributes{}
	in.SetUnixMode(0644)
	attrs, err = fs.SetAttr(h, in)
	require.NoError(t, err)
	mode, _ = attrs.GetUnixMode()
	assert.EqualValues(t, 0644, mode)
}

func TestXattrs(t *testing.T) {
	t.Parallel()
	fs, _ := setupTestFS(t)
	h, err := fs.Open("f", os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	require.NoError(t, fs.Setxattr(h, "Color", []byte("blue")))
	names, err := fs.Listxattr(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"Color"}, names)

	n, err := fs.Getxattr(h, "color", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = fs.Getxattr(h, "color", make([]byte, 2))
	assert.Equal(t, ERANGE, err)
	buf := make([]byte, 16)
	n, err = fs.Getxattr(h, "color", buf)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(buf[:n]))

	require.NoError(t, fs.Removexattr(h, "Color"))
	_, err = fs.Getxattr(h, "Color", buf)
	assert.Equal(t, ENOATTR, err)
}

func TestStatFS(t *testing.T) {
	t.Parallel()
	fs, _ := setupTestFS(t)
	attrs, err := fs.StatFS(0)
	require.NoError(t, err)
	assert.NotNil(t, attrs)
}

func TestUnsupported(t *testing.T) {
	t.Parallel()
	fs, _ := setupTestFS(t)
	h, err := fs.Open("f", os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	_, err = fs.Readlink(h)
	assert.Equal(t, EINVAL, err)
	_, err = fs.Symlink(h, "target", 0)
	assert.Equal(t, ENOTSUP, err)
	_, err = fs.Link(1, 2, "x")
	assert.Equal(t, ENOTSUP, err)
	_, err = fs.Readlink(9999)
	assert.Equal(t, EBADF, err)
}

func TestToErrno(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status common.Status
		want   error
	}{
		{common.StatusObjectNameNotFound, ENOENT},
		{common.StatusObjectPathNotFound, ENOENT},
		{common.StatusObjectNameCollision, EEXIST},
		{common.StatusSharingViolation, EBUSY},
		{common.StatusFileLockConflict, EAGAIN},
		{common.StatusMediaWriteProtected, EROFS},
		{common.StatusDirectoryNotEmpty, ENOTEMPTY},
		{common.StatusAccessDenied, EACCES},
		{common.StatusInternalDBCorruption, EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toErrno(common.NewError(tt.status, "test")), "status %v", tt.status)
	}
	assert.NoError(t, toErrno(nil))
}

func TestRecoverPanic(t *testing.T) {
	t.Parallel()
	run := func() (err error) {
		defer recoverPanic("test", &err)
		panic("boom")
	}
	assert.Equal(t, EIO, run())
}
