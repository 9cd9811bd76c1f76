package pvfs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func TestWildcardRename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, pattern, want string
	}{
		{"foo.txt", "*.bak", "foo.bak"},
		{"foo.txt", "?a*.txt", "fao.txt"},
		{"readme", "*.txt", "readme.txt"},
		{"a.b.c", "*.x", "a.b.x"},
		{"abc.txt", "x?", "xb"},
		{"ab.txt", "???.*", "ab.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wildcardRename(tt.name, tt.pattern), "%s with %s", tt.name, tt.pattern)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestRenameFile(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "data")
	s.writeFile("other", "x")
	s.mkdir("sub")
	c := s.fs.Connect(nil)

	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "a.txt", New: `sub\b.txt`}))
	data, err := os.ReadFile(s.path("sub/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.False(t, s.exists("a.txt"))

	err = c.Rename(rootReq(), &ntvfs.RenameArgs{Old: `sub\b.txt`, New: "other"})
	requireStatus(t, err, common.StatusObjectNameCollision)
	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: `sub\b.txt`, New: "other", Overwrite: true}))
	data, err = os.ReadFile(s.path("other"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	err = c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "missing", New: "x"})
	requireStatus(t, err, common.StatusObjectNameNotFound)
	err = c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "other", New: "x", Flags: 0x9999})
	requireStatus(t, err, common.StatusInvalidParameter)
}

func TestRenameCaseOnly(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "a.txt", New: "A.TXT"}))
	assert.Equal(t, []string{"A.TXT"}, listDir(t, s.root))
}

func TestRenameOpenFileConflicts(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	holder := s.fs.Connect(nil)
	c := s.fs.Connect(nil)
	open := s.open(holder, openArgs("a.txt", ntvfs.FileReadData, ntvfs.ShareRead, ntvfs.DispositionOpen))

	err := c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "a.txt", New: "b.txt"})
	requireStatus(t, err, common.StatusSharingViolation)

	require.NoError(t, holder.Close(rootReq(), open.FileID, 0))
	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "a.txt", New: "b.txt"}))
}

func TestRenameWildcard(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	for _, n := range []string{"one.txt", "two.txt", "three.doc"} {
		s.writeFile("d/"+n, "x")
	}
	c := s.fs.Connect(nil)

	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: `d\*.txt`, New: `d\*.bak`}))
	assert.Equal(t, []string{"one.bak", "three.doc", "two.bak"}, listDir(t, s.path("d")))

	err := c.Rename(rootReq(), &ntvfs.RenameArgs{Old: `d\*.zip`, New: `d\*.bak`})
	requireStatus(t, err, common.StatusNoSuchFile)
}

func TestRenameOpenHandle(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("d/a.txt", "x")
	c := s.fs.Connect(nil)

	open := s.open(c, openArgs(`d\a.txt`, ntvfs.StdDelete|ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{Rename: &ntvfs.SetInfoRename{New: "b.txt"}}))
	assert.True(t, s.exists("d/b.txt"))

	info, err := c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.Equal(t, `d\b.txt`, info.Name)

	plain := s.open(c, openArgs(`d\b.txt`, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	err = c.SetFileInfo(rootReq(), plain.FileID, &ntvfs.SetInfo{Rename: &ntvfs.SetInfoRename{New: "c.txt"}})
	requireStatus(t, err, common.StatusAccessDenied)
}

func TestHardLinkAndCopy(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("src", "payload")
	c := s.fs.Connect(nil)

	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "src", New: "link", Flags: ntvfs.RenameFlagHardLink}))
	a, err := os.Stat(s.path("src"))
	require.NoError(t, err)
	b, err := os.Stat(s.path("link"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))

	require.NoError(t, c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "src", New: "copy", Flags: ntvfs.RenameFlagCopy}))
	data, err := os.ReadFile(filepath.Join(s.root, "copy"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	cp, err := os.Stat(s.path("copy"))
	require.NoError(t, err)
	assert.False(t, os.SameFile(a, cp))

	err = c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "src", New: "copy", Flags: ntvfs.RenameFlagCopy})
	requireStatus(t, err, common.StatusObjectNameCollision)
}
