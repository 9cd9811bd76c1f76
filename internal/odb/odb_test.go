package odb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

type sent struct {
	server  ntvfs.ServerID
	typ     ntvfs.MsgType
	payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Register(ntvfs.ServerID, ntvfs.MsgType, func(any)) func() { return func() {} }

func (r *recorder) Send(server ntvfs.ServerID, t ntvfs.MsgType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{server, t, payload})
	return nil
}

func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

var key = ntvfs.ODBKey{Dev: 1, Ino: 42}

func openOne(t *testing.T, db *DB, h ntvfs.HandleID, mask, share uint32, level ntvfs.OplockLevel) (ntvfs.OplockLevel, error) {
	t.Helper()
	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	defer lck.Release()
	if _, err := lck.Open(ntvfs.OpenCheck{AccessMask: mask, ShareAccess: share, Disposition: ntvfs.DispositionOpen}); err != nil {
		return ntvfs.OplockNone, err
	}
	return lck.Commit(ntvfs.OpenEntry{Handle: h, AccessMask: mask, ShareAccess: share, Path: "/a.txt", Oplock: level, AllowLevel2: true})
}

func TestShareModeMatrix(t *testing.T) {
	t.Parallel()
	rw := ntvfs.FileReadData | ntvfs.FileWriteData
	tests := []struct {
		name        string
		firstMask   uint32
		firstShare  uint32
		secondMask  uint32
		secondShare uint32
		want        common.Status
	}{
		{"read share read", ntvfs.FileReadData, ntvfs.ShareRead, ntvfs.FileReadData, ntvfs.ShareRead, common.StatusOK},
		{"write denied by share read", ntvfs.FileReadData, ntvfs.ShareRead, ntvfs.FileWriteData, ntvfs.ShareAll, common.StatusSharingViolation},
		{"first writer excludes read-only sharer", ntvfs.FileWriteData, ntvfs.ShareAll, ntvfs.FileReadData, ntvfs.ShareRead, common.StatusSharingViolation},
		{"all share", rw, ntvfs.ShareAll, rw, ntvfs.ShareAll, common.StatusOK},
		{"delete needs share delete", ntvfs.FileReadData, ntvfs.ShareRead, ntvfs.StdDelete, ntvfs.ShareAll, common.StatusSharingViolation},
		{"attribute opens never conflict", rw, ntvfs.ShareNone, ntvfs.FileReadAttributes, ntvfs.ShareNone, common.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := New(&recorder{}, Config{Oplocks: true})
			srv := ntvfs.NewServerID()
			_, err := openOne(t, db, ntvfs.HandleID{Server: srv, ID: 1}, tt.firstMask, tt.firstShare, ntvfs.OplockNone)
			require.NoError(t, err)
			_, err = openOne(t, db, ntvfs.HandleID{Server: srv, ID: 2}, tt.secondMask, tt.secondShare, ntvfs.OplockNone)
			assert.Equal(t, tt.want, common.StatusOf(err))
		})
	}
}

func TestDifferentStreamsDoNotConflict(t *testing.T) {
	t.Parallel()
	db := New(&recorder{}, Config{})
	srv := ntvfs.NewServerID()

	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	_, err = lck.Commit(ntvfs.OpenEntry{Handle: ntvfs.HandleID{Server: srv, ID: 1}, StreamID: 7, AccessMask: ntvfs.FileWriteData})
	require.NoError(t, err)
	out, err := lck.Open(ntvfs.OpenCheck{StreamID: 0, AccessMask: ntvfs.FileWriteData})
	assert.Equal(t, ntvfs.Admitted, out)
	assert.NoError(t, err)
	lck.Release()
}

func TestBatchOplockBreakAndRetry(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	db := New(rec, Config{Oplocks: true})
	a := ntvfs.HandleID{Server: ntvfs.NewServerID(), ID: 1}
	b := ntvfs.NewServerID()

	level, err := openOne(t, db, a, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.OplockBatch)
	require.NoError(t, err)
	require.Equal(t, ntvfs.OplockBatch, level)

	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	out, err := lck.Open(ntvfs.OpenCheck{AccessMask: ntvfs.FileReadData, ShareAccess: ntvfs.ShareAll, Disposition: ntvfs.DispositionOpen})
	assert.Equal(t, ntvfs.Retryable, out)
	assert.True(t, common.IsStatus(err, common.StatusOplockNotGranted))
	require.NoError(t, lck.RegisterPending(ntvfs.Waiter{Server: b, Token: 9}))
	lck.Release()

	msgs := rec.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, ntvfs.MsgOplockBreak, msgs[0].typ)
	assert.Equal(t, ntvfs.OplockBreak{Handle: a, Level: ntvfs.OplockLevel2}, msgs[0].payload)

	lck, err = db.Lock(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, lck.UpdateOplock(a, ntvfs.OplockLevel2))
	lck.Release()

	msgs = rec.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent{b, ntvfs.MsgPendingRetry, uint64(9)}, msgs[0])

	level, err = openOne(t, db, ntvfs.HandleID{Server: b, ID: 2}, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.OplockBatch)
	require.NoError(t, err)
	assert.Equal(t, ntvfs.OplockLevel2, level)
}

func TestAttributeOnlyOpenSkipsBreak(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	db := New(rec, Config{Oplocks: true})
	srv := ntvfs.NewServerID()

	_, err := openOne(t, db, ntvfs.HandleID{Server: srv, ID: 1}, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.OplockExclusive)
	require.NoError(t, err)
	level, err := openOne(t, db, ntvfs.HandleID{Server: srv, ID: 2}, ntvfs.FileReadAttributes, ntvfs.ShareAll, ntvfs.OplockBatch)
	require.NoError(t, err)
	assert.Equal(t, ntvfs.OplockNone, level)
	assert.Empty(t, rec.take())
}

func TestOverwriteBreaksLevel2ToNone(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	db := New(rec, Config{Oplocks: true})
	srv := ntvfs.NewServerID()
	a := ntvfs.HandleID{Server: srv, ID: 1}

	level, err := openOne(t, db, a, ntvfs.FileReadData, ntvfs.ShareAll, ntvfs.OplockLevel2)
	require.NoError(t, err)
	require.Equal(t, ntvfs.OplockLevel2, level)

	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	out, err := lck.Open(ntvfs.OpenCheck{AccessMask: ntvfs.FileWriteData, ShareAccess: ntvfs.ShareAll, Disposition: ntvfs.DispositionOverwrite})
	require.NoError(t, err)
	assert.Equal(t, ntvfs.Admitted, out)
	lck.Release()

	msgs := rec.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, ntvfs.OplockBreak{Handle: a, Level: ntvfs.OplockNone}, msgs[0].payload)
}

func TestDeleteOnCloseReportedOnce(t *testing.T) {
	t.Parallel()
	db := New(&recorder{}, Config{})
	srv := ntvfs.NewServerID()
	a := ntvfs.HandleID{Server: srv, ID: 1}
	b := ntvfs.HandleID{Server: srv, ID: 2}

	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	_, err = lck.Commit(ntvfs.OpenEntry{Handle: a, AccessMask: ntvfs.StdDelete, ShareAccess: ntvfs.ShareAll, Path: "/d", DeleteOnClose: true})
	require.NoError(t, err)
	_, err = lck.Commit(ntvfs.OpenEntry{Handle: b, AccessMask: ntvfs.FileReadData, ShareAccess: ntvfs.ShareAll, Path: "/d"})
	require.NoError(t, err)

	res, err := lck.Close(a)
	require.NoError(t, err)
	assert.Empty(t, res.DeletePath)
	assert.False(t, res.LastClose)

	st, err := db.FileInfo(key)
	require.NoError(t, err)
	assert.True(t, st.DeleteOnClose)

	_, err = lck.Open(ntvfs.OpenCheck{AccessMask: ntvfs.FileReadData, ShareAccess: ntvfs.ShareAll})
	assert.True(t, common.IsStatus(err, common.StatusDeletePending))

	res, err = lck.Close(b)
	require.NoError(t, err)
	assert.Equal(t, "/d", res.DeletePath)
	assert.True(t, res.LastClose)

	_, err = lck.Close(b)
	assert.Error(t, err)
	lck.Release()
	assert.Zero(t, db.Len())
}

func TestSetWriteTime(t *testing.T) {
	t.Parallel()
	db := New(&recorder{}, Config{})
	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	defer lck.Release()
	_, err = lck.Commit(ntvfs.OpenEntry{Handle: ntvfs.HandleID{ID: 1}})
	require.NoError(t, err)

	t1 := time.Unix(1000, 0)
	t2 := time.Unix(2000, 0)
	require.NoError(t, lck.SetWriteTime(t1, false))
	require.NoError(t, lck.SetWriteTime(t2, false))
	st, _ := db.FileInfo(key)
	assert.Equal(t, t1, st.WriteTime)

	require.NoError(t, lck.SetWriteTime(t2, true))
	st, _ = db.FileInfo(key)
	assert.Equal(t, t2, st.WriteTime)
}

func TestLockHonoursContext(t *testing.T) {
	t.Parallel()
	db := New(&recorder{}, Config{})
	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	defer lck.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = db.Lock(ctx, key)
	assert.True(t, common.IsStatus(err, common.StatusCancelled))
}

func TestRenameUpdatesPath(t *testing.T) {
	t.Parallel()
	db := New(&recorder{}, Config{})
	lck, err := db.Lock(context.Background(), key)
	require.NoError(t, err)
	defer lck.Release()
	_, err = lck.Commit(ntvfs.OpenEntry{Handle: ntvfs.HandleID{ID: 1}, Path: "/old"})
	require.NoError(t, err)
	require.NoError(t, lck.Rename("/new"))
	assert.Equal(t, "/new", lck.Path())
}
