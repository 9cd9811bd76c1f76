package pvfs

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
func bptr(v bool) *bool    { return &v }

func ntTime(t time.Time) *ntvfs.NTTime {
	nt := ntvfs.NTTimeFrom(t)
	return &nt
}

func TestQueryPathInfo(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("d/a.txt", "hello")
	c := s.fs.Connect(nil)

	info, err := c.QueryPathInfo(rootReq(), `D\A.TXT`)
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.False(t, info.Directory)
	assert.NotZero(t, info.FileID)
	assert.Equal(t, uint32(1), info.Nlink)
	assert.GreaterOrEqual(t, info.AllocSize, info.Size)

	dir, err := c.QueryPathInfo(rootReq(), "d")
	require.NoError(t, err)
	assert.True(t, dir.Directory)
	assert.NotZero(t, dir.Attrib&ntvfs.AttrDirectory)

	_, err = c.QueryPathInfo(rootReq(), "nope")
	requireStatus(t, err, common.StatusObjectNameNotFound)
}

func TestSetPathAttributes(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{Attrib: u32(ntvfs.AttrHidden | ntvfs.AttrArchive)}))
	info, err := c.QueryPathInfo(rootReq(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, ntvfs.AttrHidden|ntvfs.AttrArchive, info.Attrib)

	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{Attrib: u32(ntvfs.AttrNormal)}))
	info, err = c.QueryPathInfo(rootReq(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, ntvfs.AttrNormal, info.Attrib)

	// the read-only attribute maps onto the permission bits
	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{Attrib: u32(ntvfs.AttrReadOnly)}))
	fi, err := os.Stat(s.path("a.txt"))
	require.NoError(t, err)
	assert.Zero(t, fi.Mode().Perm()&0222)

	err = c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{Position: u64(1)})
	requireStatus(t, err, common.StatusInvalidParameter)
}

func TestSetTimes(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	created := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	written := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{CreateTime: ntTime(created), WriteTime: ntTime(written)}))

	info, err := c.QueryPathInfo(rootReq(), "a.txt")
	require.NoError(t, err)
	assert.True(t, created.Equal(info.CreateTime.Time()), "create time %v", info.CreateTime.Time())
	assert.True(t, written.Equal(info.WriteTime.Time()), "write time %v", info.WriteTime.Time())

	fi, err := os.Stat(s.path("a.txt"))
	require.NoError(t, err)
	assert.True(t, written.Equal(fi.ModTime()))
}

func TestForcedWriteTimeSurvivesWrites(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)
	rw := ntvfs.FileReadData | ntvfs.FileWriteData | ntvfs.FileWriteAttributes
	open := s.open(c, openArgs("a.txt", rw, ntvfs.ShareAll, ntvfs.DispositionOpen))

	fixed := time.Date(2005, 5, 5, 5, 5, 5, 0, time.UTC)
	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{WriteTime: ntTime(fixed)}))
	_, err := c.Write(rootReq(), open.FileID, 0, []byte("more"), false)
	require.NoError(t, err)

	info, err := c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(info.WriteTime.Time()))

	require.NoError(t, c.Close(rootReq(), open.FileID, 0))
	fi, err := os.Stat(s.path("a.txt"))
	require.NoError(t, err)
	assert.True(t, fixed.Equal(fi.ModTime()), "mtime %v", fi.ModTime())
}

func TestCloseWithWriteTime(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)
	open := s.open(c, openArgs("a.txt", ntvfs.FileWriteData, ntvfs.ShareAll, ntvfs.DispositionOpen))

	at := time.Date(2012, 12, 12, 12, 12, 12, 0, time.UTC)
	require.NoError(t, c.Close(rootReq(), open.FileID, ntvfs.NTTimeFrom(at)))
	fi, err := os.Stat(s.path("a.txt"))
	require.NoError(t, err)
	assert.True(t, at.Equal(fi.ModTime()))
}

func TestSetSizes(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "0123456789")
	c := s.fs.Connect(nil)
	open := s.open(c, openArgs("a.txt", ntvfs.FileGenericWrite|ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))

	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{EndOfFile: u64(4)}))
	fi, err := os.Stat(s.path("a.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, fi.Size())

	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{AllocationSize: u64(10000)}))
	info, err := c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size)
	assert.GreaterOrEqual(t, info.AllocSize, uint64(10000))

	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{AllocationSize: u64(2)}))
	info, err = c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.Size, "shrinking the allocation truncates")

	ro := s.open(c, openArgs("a.txt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	err = c.SetFileInfo(rootReq(), ro.FileID, &ntvfs.SetInfo{EndOfFile: u64(0)})
	requireStatus(t, err, common.StatusAccessDenied)
}

func TestSetDeleteOnClose(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	s.writeFile("full/x", "x")
	c := s.fs.Connect(nil)

	open := s.open(c, openArgs("a.txt", ntvfs.StdDelete|ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{DeleteOnClose: bptr(true)}))
	info, err := c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.True(t, info.DeletePending)

	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{DeleteOnClose: bptr(false)}))
	require.NoError(t, c.SetFileInfo(rootReq(), open.FileID, &ntvfs.SetInfo{DeleteOnClose: bptr(true)}))
	require.NoError(t, c.Close(rootReq(), open.FileID, 0))
	assert.False(t, s.exists("a.txt"))

	args := openArgs("full", ntvfs.StdDelete|ntvfs.FileListDirectory, ntvfs.ShareAll, ntvfs.DispositionOpen)
	args.CreateOptions = ntvfs.CreateDirectory
	dir := s.open(c, args)
	err = c.SetFileInfo(rootReq(), dir.FileID, &ntvfs.SetInfo{DeleteOnClose: bptr(true)})
	requireStatus(t, err, common.StatusDirectoryNotEmpty)
	require.NoError(t, c.Close(rootReq(), dir.FileID, 0))
	assert.True(t, s.exists("full/x"))
}

func TestExtendedAttributes(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{EAs: []ntvfs.EA{
		{Name: "Author", Value: []byte("me")},
		{Name: "Tag", Value: []byte("t1")},
	}}))
	eas, err := c.QueryPathEAs(rootReq(), "a.txt", nil)
	require.NoError(t, err)
	require.Len(t, eas, 2)

	picked, err := c.QueryPathEAs(rootReq(), "a.txt", []string{"AUTHOR", "missing"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, []byte("me"), picked[0].Value)
	assert.Empty(t, picked[1].Value)

	// an empty value removes the EA
	require.NoError(t, c.SetPathInfo(rootReq(), "a.txt", &ntvfs.SetInfo{EAs: []ntvfs.EA{{Name: "Tag"}}}))
	eas, err = c.QueryPathEAs(rootReq(), "a.txt", nil)
	require.NoError(t, err)
	require.Len(t, eas, 1)

	info, err := c.QueryPathInfo(rootReq(), "a.txt")
	require.NoError(t, err)
	assert.NotZero(t, info.EASize)

	open := s.open(c, openArgs("a.txt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	_, err = c.QueryEAs(rootReq(), open.FileID, nil)
	requireStatus(t, err, common.StatusAccessDenied)
}

func TestEAsDisabled(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, func(o *Options) { o.EA = false })
	c := s.fs.Connect(nil)

	args := openArgs("a.txt", ntvfs.FileGenericWrite, ntvfs.ShareAll, ntvfs.DispositionCreate)
	args.EAs = []ntvfs.EA{{Name: "X", Value: []byte("y")}}
	_, err := c.Open(rootReq(), args)
	requireStatus(t, err, common.StatusEAsNotSupported)
}

func TestQuerySecurity(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	open := s.open(c, openArgs("a.txt", ntvfs.StdReadControl, ntvfs.ShareAll, ntvfs.DispositionOpen))
	sd, err := c.QuerySecurity(rootReq(), open.FileID, ntvfs.SecInfoOwner|ntvfs.SecInfoDACL)
	require.NoError(t, err)
	require.NotNil(t, sd.Owner)
	require.NotNil(t, sd.DACL)
	assert.Nil(t, sd.Group, "group not asked for")

	_, err = c.QuerySecurity(rootReq(), open.FileID, ntvfs.SecInfoSACL)
	requireStatus(t, err, common.StatusAccessDenied)

	plain := s.open(c, openArgs("a.txt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	_, err = c.QuerySecurity(rootReq(), plain.FileID, ntvfs.SecInfoOwner)
	requireStatus(t, err, common.StatusAccessDenied)
}
