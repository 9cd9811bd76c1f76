package pvfs

import (
	"errors"
	"os"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func TestUnlinkSingle(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("a.txt", "x")
	s.mkdir("d")
	c := s.fs.Connect(nil)

	require.NoError(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "A.TXT"}))
	assert.False(t, s.exists("a.txt"))

	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "a.txt"}), common.StatusObjectNameNotFound)
	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "d"}), common.StatusFileIsADirectory)
}

func TestUnlinkWildcard(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	for _, n := range []string{"a.txt", "b.txt", "keep.doc"} {
		s.writeFile("dir/"+n, "x")
	}
	c := s.fs.Connect(nil)

	require.NoError(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: `dir\*.txt`}))
	assert.False(t, s.exists("dir/a.txt"))
	assert.False(t, s.exists("dir/b.txt"))
	assert.True(t, s.exists("dir/keep.doc"))

	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: `dir\*.txt`}), common.StatusNoSuchFile)
}

func TestUnlinkRespectsAttributes(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	c := s.fs.Connect(nil)

	create := func(name string, attrs uint32) {
		args := openArgs(name, ntvfs.FileGenericWrite, ntvfs.ShareAll, ntvfs.DispositionCreate)
		args.FileAttrs = attrs
		res := s.open(c, args)
		require.NoError(t, c.Close(rootReq(), res.FileID, 0))
	}
	create("hidden.txt", ntvfs.AttrHidden)
	create("ro.txt", ntvfs.AttrReadOnly)

	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "hidden.txt"}), common.StatusNoSuchFile)
	require.NoError(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "hidden.txt", Attrib: uint16(ntvfs.AttrHidden)}))

	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "ro.txt"}), common.StatusCannotDelete)
	assert.True(t, s.exists("ro.txt"))
}

func TestUnlinkOpenFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	s := newTestShare(t, func(o *Options) { o.SharingDelay = 5 * time.Second })
	s.writeFile("a.txt", "x")
	holder := s.fs.Connect(nil)
	c := s.fs.Connect(nil)
	open := s.open(holder, openArgs("a.txt", ntvfs.FileReadData, ntvfs.ShareRead, ntvfs.DispositionOpen))

	requireStatus(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "a.txt"}), common.StatusSharingViolation)

	req, res := asyncReq()
	err := c.Unlink(req, &ntvfs.UnlinkArgs{Pattern: "a.txt"})
	require.True(t, errors.Is(err, ntvfs.ErrPending), "err: %v", err)

	require.NoError(t, holder.Close(rootReq(), open.FileID, 0))
	g.Eventually(func() bool {
		done, _, _ := res.get()
		return done
	}).WithTimeout(2 * time.Second).Should(BeTrue())
	_, _, err = res.get()
	require.NoError(t, err)
	assert.False(t, s.exists("a.txt"))
}

func TestUnlinkStream(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("f", "")
	c := s.fs.Connect(nil)

	res := s.open(c, openArgs("f:alt", ntvfs.FileGenericWrite, ntvfs.ShareAll, ntvfs.DispositionCreate))
	require.NoError(t, c.Close(rootReq(), res.FileID, 0))

	require.NoError(t, c.Unlink(rootReq(), &ntvfs.UnlinkArgs{Pattern: "f:alt"}))
	assert.True(t, s.exists("f"))
	streams, err := c.QueryPathStreams(rootReq(), "f")
	require.NoError(t, err)
	for _, st := range streams {
		assert.NotEqual(t, ":alt:$DATA", st.Name)
	}
}

func TestMkdirRmdir(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	c := s.fs.Connect(nil)

	require.NoError(t, c.Mkdir(rootReq(), "new", nil))
	fi, err := os.Stat(s.path("new"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	requireStatus(t, c.Mkdir(rootReq(), "NEW", nil), common.StatusObjectNameCollision)

	s.writeFile("new/x", "x")
	requireStatus(t, c.Rmdir(rootReq(), "new"), common.StatusDirectoryNotEmpty)
	require.NoError(t, os.Remove(s.path("new/x")))
	require.NoError(t, c.Rmdir(rootReq(), "new"))
	assert.False(t, s.exists("new"))

	requireStatus(t, c.Rmdir(rootReq(), "new"), common.StatusObjectNameNotFound)
	s.writeFile("file", "x")
	requireStatus(t, c.Rmdir(rootReq(), "file"), common.StatusNotADirectory)
	requireStatus(t, c.Rmdir(rootReq(), ""), common.StatusCannotDelete)
}

func TestMkdirWithEAs(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	c := s.fs.Connect(nil)

	require.NoError(t, c.Mkdir(rootReq(), "d", []ntvfs.EA{{Name: "Color", Value: []byte("blue")}}))
	eas, err := c.QueryPathEAs(rootReq(), "d", nil)
	require.NoError(t, err)
	require.Len(t, eas, 1)
	assert.Equal(t, []byte("blue"), eas[0].Value)
}

func TestReadOnlyShare(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, func(o *Options) { o.ReadOnly = true })
	s.writeFile("a.txt", "x")
	c := s.fs.Connect(nil)

	_, err := c.Open(rootReq(), openArgs("a.txt", ntvfs.FileWriteData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	requireStatus(t, err, common.StatusMediaWriteProtected)
	err = c.Rename(rootReq(), &ntvfs.RenameArgs{Old: "a.txt", New: "b.txt"})
	requireStatus(t, err, common.StatusMediaWriteProtected)
}
