package pvfs

import (
	"os"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func TestReadWriteSeek(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	c := s.fs.Connect(nil)
	rw := ntvfs.FileReadData | ntvfs.FileWriteData
	open := s.open(c, openArgs("f", rw, ntvfs.ShareAll, ntvfs.DispositionCreate))

	n, err := c.Write(rootReq(), open.FileID, 0, []byte("hello world"), false)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = c.Read(rootReq(), open.FileID, 6, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	pos, err := c.Seek(rootReq(), open.FileID, ntvfs.SeekCur, -3)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)
	pos, err = c.Seek(rootReq(), open.FileID, ntvfs.SeekEnd, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 12, pos)
	pos, err = c.Seek(rootReq(), open.FileID, ntvfs.SeekSet, -5)
	require.NoError(t, err)
	assert.Zero(t, pos)
	_, err = c.Seek(rootReq(), open.FileID, 7, 0)
	requireStatus(t, err, common.StatusInvalidParameter)

	require.NoError(t, c.Flush(rootReq(), open.FileID))
	require.NoError(t, c.Flush(rootReq(), 0))
	require.NoError(t, c.Close(rootReq(), open.FileID, 0))

	data, err := os.ReadFile(s.path("f"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestIOAccessChecks(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("f", "data")
	s.mkdir("d")
	c := s.fs.Connect(nil)

	ro := s.open(c, openArgs("f", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	_, err := c.Write(rootReq(), ro.FileID, 0, []byte("x"), false)
	requireStatus(t, err, common.StatusAccessDenied)

	wo := s.open(c, openArgs("f", ntvfs.FileWriteData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	_, err = c.Read(rootReq(), wo.FileID, 0, make([]byte, 1))
	requireStatus(t, err, common.StatusAccessDenied)

	args := openArgs("d", ntvfs.FileListDirectory, ntvfs.ShareAll, ntvfs.DispositionOpen)
	args.CreateOptions = ntvfs.CreateDirectory
	dir := s.open(c, args)
	_, err = c.Read(rootReq(), dir.FileID, 0, make([]byte, 1))
	requireStatus(t, err, common.StatusFileIsADirectory)

	_, err = c.Read(rootReq(), 9999, 0, make([]byte, 1))
	requireStatus(t, err, common.StatusInvalidHandle)
}

func TestWriteTimeUpdatedAfterDelay(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	notified := make(chan ntvfs.NotifyChange, 8)
	s := newTestShare(t, func(o *Options) { o.WriteTimeDelay = 20 * time.Millisecond })
	s.writeFile("f", "")
	old := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(s.path("f"), old, old))

	cancel := s.fs.notify.Subscribe("", false, ntvfs.NotifyLastWrite, func(ch ntvfs.NotifyChange) { notified <- ch })
	defer cancel()

	c := s.fs.Connect(nil)
	open := s.open(c, openArgs("f", ntvfs.FileWriteData|ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	_, err := c.Write(rootReq(), open.FileID, 0, []byte("x"), false)
	require.NoError(t, err)

	var ch ntvfs.NotifyChange
	g.Eventually(notified).WithTimeout(2 * time.Second).Should(Receive(&ch))
	assert.Equal(t, ntvfs.NotifyActionModified, ch.Action)
	assert.Equal(t, "f", ch.Name)

	info, err := c.QueryFileInfo(rootReq(), open.FileID)
	require.NoError(t, err)
	assert.True(t, info.WriteTime.Time().After(old))
}

func TestStreams(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("file", "main data")
	c := s.fs.Connect(nil)
	rw := ntvfs.FileReadData | ntvfs.FileWriteData | ntvfs.StdDelete

	alt := s.open(c, openArgs("file:alt", rw, ntvfs.ShareAll, ntvfs.DispositionCreate))
	assert.Equal(t, ntvfs.ActionCreated, alt.CreateAction)
	_, err := c.Write(rootReq(), alt.FileID, 0, []byte("stream data"), false)
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := c.Read(rootReq(), alt.FileID, 7, buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))

	streams, err := c.QueryPathStreams(rootReq(), "file")
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "::$DATA", streams[0].Name)
	assert.EqualValues(t, 9, streams[0].Size)
	assert.Equal(t, ":alt:$DATA", streams[1].Name)
	assert.EqualValues(t, 11, streams[1].Size)

	// the main data is untouched
	data, err := os.ReadFile(s.path("file"))
	require.NoError(t, err)
	assert.Equal(t, "main data", string(data))

	// streams have their own share modes
	holder := s.open(c, openArgs("file", ntvfs.FileReadData, ntvfs.ShareNone, ntvfs.DispositionOpen))
	other := s.open(c, openArgs("file:alt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	require.NoError(t, c.Close(rootReq(), other.FileID, 0))
	require.NoError(t, c.Close(rootReq(), holder.FileID, 0))

	require.NoError(t, c.SetFileInfo(rootReq(), alt.FileID, &ntvfs.SetInfo{EndOfFile: u64(6)}))
	require.NoError(t, c.SetFileInfo(rootReq(), alt.FileID, &ntvfs.SetInfo{Rename: &ntvfs.SetInfoRename{New: ":renamed"}}))
	streams, err = c.QueryStreams(rootReq(), alt.FileID)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, ":renamed:$DATA", streams[1].Name)
	assert.EqualValues(t, 6, streams[1].Size)

	require.NoError(t, c.SetFileInfo(rootReq(), alt.FileID, &ntvfs.SetInfo{DeleteOnClose: bptr(true)}))
	require.NoError(t, c.Close(rootReq(), alt.FileID, 0))
	streams, err = c.QueryPathStreams(rootReq(), "file")
	require.NoError(t, err)
	assert.Len(t, streams, 1)
	assert.True(t, s.exists("file"))
}

func TestStreamsDisabled(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, func(o *Options) { o.Streams = false })
	s.writeFile("file", "x")
	c := s.fs.Connect(nil)

	_, err := c.Open(rootReq(), openArgs("file:alt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpenIf))
	require.Error(t, err)
	streams, err := c.QueryPathStreams(rootReq(), "file")
	require.NoError(t, err)
	assert.Len(t, streams, 1)
}

func TestStreamsOnDirectoryRefused(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.mkdir("d")
	c := s.fs.Connect(nil)
	_, err := c.Open(rootReq(), openArgs("d:alt", ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpenIf))
	requireStatus(t, err, common.StatusFileIsADirectory)
}
