package pvfs

import (
	"sort"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

const attrAll = uint16(ntvfs.AttrHidden | ntvfs.AttrSystem | ntvfs.AttrDirectory)

func entryNames(entries []ntvfs.SearchEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func TestMatchAttrib(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		entry  uint32
		attrib uint32
		want   bool
	}{
		{"plain file always", ntvfs.AttrArchive, 0, true},
		{"hidden needs bit", ntvfs.AttrHidden, 0, false},
		{"hidden with bit", ntvfs.AttrHidden, uint32(ntvfs.AttrHidden), true},
		{"directory needs bit", ntvfs.AttrDirectory, 0, false},
		{"must have readonly", ntvfs.AttrArchive, ntvfs.AttrReadOnly << 8, false},
		{"has readonly", ntvfs.AttrReadOnly, ntvfs.AttrReadOnly << 8, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchAttrib(tt.entry, tt.attrib), tt.name)
	}
}

func TestSearchFirstNext(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	for _, n := range []string{"a.txt", "b.txt", "c.doc"} {
		s.writeFile(n, "x")
	}
	s.mkdir("sub")
	c := s.fs.Connect(nil)

	first, err := c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: "*", Attrib: attrAll, MaxCount: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, []string{".", ".."}, entryNames(first.Entries))
	assert.False(t, first.EndOfSearch)
	require.NotZero(t, first.Handle)

	next, err := c.SearchNext(rootReq(), &ntvfs.SearchNextArgs{Handle: first.Handle, MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.doc", "sub"}, entryNames(next.Entries))
	assert.True(t, next.EndOfSearch)

	_, err = c.SearchNext(rootReq(), &ntvfs.SearchNextArgs{Handle: first.Handle, MaxCount: 10})
	requireStatus(t, err, common.StatusNoMoreFiles)

	require.NoError(t, c.SearchClose(rootReq(), first.Handle))
	requireStatus(t, c.SearchClose(rootReq(), first.Handle), common.StatusInvalidHandle)
}

func TestSearchPatternAndAttrib(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	for _, n := range []string{"a.txt", "b.txt", "c.doc"} {
		s.writeFile("dir/"+n, "x")
	}
	s.mkdir("dir/sub")
	c := s.fs.Connect(nil)

	res, err := c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: `dir\*.txt`, MaxCount: 10, Flags: ntvfs.SearchCloseAtEnd})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, entryNames(res.Entries))
	assert.True(t, res.EndOfSearch)
	assert.Zero(t, res.Handle, "closed at end")

	res, err = c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: `dir\*`, MaxCount: 10, Flags: ntvfs.SearchCloseAtEnd})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.doc"}, entryNames(res.Entries), "directories need the attribute")

	res, err = c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: `DIR\C.DOC`, MaxCount: 10, Flags: ntvfs.SearchCloseAtEnd})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.doc"}, entryNames(res.Entries))

	_, err = c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: `dir\*.zip`, MaxCount: 10})
	requireStatus(t, err, common.StatusNoSuchFile)
}

func TestSearchResume(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	for _, n := range []string{"a", "b", "c", "d"} {
		s.writeFile(n, "x")
	}
	c := s.fs.Connect(nil)

	first, err := c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: "*", MaxCount: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	seen := entryNames(first.Entries)

	// resuming after the first entry repeats the second
	again, err := c.SearchNext(rootReq(), &ntvfs.SearchNextArgs{Handle: first.Handle, MaxCount: 1, ResumeKey: first.Entries[0].ResumeKey})
	require.NoError(t, err)
	require.Len(t, again.Entries, 1)
	assert.Equal(t, first.Entries[1].Name, again.Entries[0].Name)

	byName, err := c.SearchNext(rootReq(), &ntvfs.SearchNextArgs{Handle: first.Handle, MaxCount: 10, LastName: first.Entries[1].Name})
	require.NoError(t, err)
	all := append(seen, entryNames(byName.Entries)...)
	sort.Strings(all)
	assert.Equal(t, []string{"a", "b", "c", "d"}, all)
}

func TestSearchShortNames(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("Long File Name.html", "x")
	c := s.fs.Connect(nil)

	res, err := c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: "*.HTM", MaxCount: 10, Flags: ntvfs.SearchCloseAtEnd})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "Long File Name.html", e.Name)
	require.NotEmpty(t, e.ShortName)

	// the short name opens the file
	open := s.open(c, openArgs(e.ShortName, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.DispositionOpen))
	require.NoError(t, c.Close(rootReq(), open.FileID, 0))
}

func TestFindOnOpenDirectory(t *testing.T) {
	t.Parallel()
	s := newTestShare(t, nil)
	s.writeFile("d/one", "x")
	s.writeFile("d/two", "x")
	c := s.fs.Connect(nil)

	args := openArgs("d", ntvfs.FileListDirectory, ntvfs.ShareAll, ntvfs.DispositionOpen)
	args.CreateOptions = ntvfs.CreateDirectory
	dir := s.open(c, args)

	var names []string
	for {
		entries, err := c.Find(rootReq(), dir.FileID, &ntvfs.FindArgs{Pattern: "*", Flags: ntvfs.FindReturnSingle})
		if common.IsStatus(err, common.StatusNoMoreFiles) {
			break
		}
		require.NoError(t, err)
		names = append(names, entryNames(entries)...)
	}
	sort.Strings(names)
	assert.Equal(t, []string{".", "..", "one", "two"}, names)

	entries, err := c.Find(rootReq(), dir.FileID, &ntvfs.FindArgs{Pattern: "*", MaxCount: 10, Flags: ntvfs.FindRestart})
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	_, err = c.Find(rootReq(), dir.FileID, &ntvfs.FindArgs{Pattern: "zz*", MaxCount: 10})
	requireStatus(t, err, common.StatusNoSuchFile)
}

func TestSearchExpiresWhenIdle(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	s := newTestShare(t, func(o *Options) { o.SearchInactivity = 100 * time.Millisecond })
	for _, n := range []string{"a.txt", "b.txt"} {
		s.writeFile(n, "x")
	}
	c := s.fs.Connect(nil)

	first, err := c.SearchFirst(rootReq(), &ntvfs.SearchFirstArgs{Pattern: "*", Attrib: attrAll, MaxCount: 1})
	require.NoError(t, err)
	require.False(t, first.EndOfSearch)

	g.Eventually(func() int {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.searches)
	}).WithTimeout(2 * time.Second).Should(BeZero())

	_, err = c.SearchNext(rootReq(), &ntvfs.SearchNextArgs{Handle: first.Handle, MaxCount: 1})
	requireStatus(t, err, common.StatusInvalidHandle)
}
