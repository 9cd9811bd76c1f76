package brlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

type recorder struct {
	mu     sync.Mutex
	tokens []uint64
}

func (r *recorder) Register(ntvfs.ServerID, ntvfs.MsgType, func(any)) func() { return func() {} }

func (r *recorder) Send(_ ntvfs.ServerID, t ntvfs.MsgType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == ntvfs.MsgBRLRetry {
		r.tokens = append(r.tokens, payload.(uint64))
	}
	return nil
}

var key = ntvfs.BRLKey{Dev: 1, Ino: 2}

func handles(m *Manager) (ntvfs.BRLHandle, ntvfs.BRLHandle) {
	srv := ntvfs.NewServerID()
	return m.Open(key, ntvfs.HandleID{Server: srv, ID: 1}), m.Open(key, ntvfs.HandleID{Server: srv, ID: 2})
}

func TestConflicts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		first       ntvfs.LockType
		start, size uint64
		second      ntvfs.LockType
		s2, z2      uint64
		want        common.Status
	}{
		{"read read share", ntvfs.LockRead, 0, 10, ntvfs.LockRead, 5, 10, common.StatusOK},
		{"write blocks read", ntvfs.LockWrite, 0, 10, ntvfs.LockRead, 5, 10, common.StatusLockNotGranted},
		{"adjacent ranges", ntvfs.LockWrite, 0, 10, ntvfs.LockWrite, 10, 10, common.StatusOK},
		{"zero size inside range", ntvfs.LockWrite, 0, 10, ntvfs.LockWrite, 5, 0, common.StatusLockNotGranted},
		{"zero size at start", ntvfs.LockWrite, 0, 10, ntvfs.LockWrite, 0, 0, common.StatusOK},
		{"high offsets conflict", ntvfs.LockWrite, 0xEF000000, 1, ntvfs.LockWrite, 0xEF000000, 1, common.StatusFileLockConflict},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := New(&recorder{})
			a, b := handles(m)
			require.NoError(t, a.Lock(1, tt.start, tt.size, tt.first, nil))
			err := b.Lock(1, tt.s2, tt.z2, tt.second, nil)
			assert.Equal(t, tt.want, common.StatusOf(err))
		})
	}
}

func TestRepeatedFailureEscalates(t *testing.T) {
	t.Parallel()
	m := New(&recorder{})
	a, b := handles(m)
	require.NoError(t, a.Lock(1, 100, 10, ntvfs.LockWrite, nil))

	err := b.Lock(1, 100, 10, ntvfs.LockWrite, nil)
	assert.True(t, common.IsStatus(err, common.StatusLockNotGranted))
	err = b.Lock(1, 100, 10, ntvfs.LockWrite, nil)
	assert.True(t, common.IsStatus(err, common.StatusFileLockConflict))
}

func TestSameContextReadOverOwnWrite(t *testing.T) {
	t.Parallel()
	m := New(&recorder{})
	a, _ := handles(m)
	require.NoError(t, a.Lock(1, 0, 10, ntvfs.LockWrite, nil))
	assert.NoError(t, a.Lock(1, 0, 10, ntvfs.LockRead, nil))
	assert.Error(t, a.Lock(2, 0, 10, ntvfs.LockRead, nil), "other pid conflicts")
	assert.Equal(t, 2, a.Count())
}

func TestUnlockExactMatch(t *testing.T) {
	t.Parallel()
	m := New(&recorder{})
	a, b := handles(m)
	require.NoError(t, a.Lock(1, 0, 10, ntvfs.LockWrite, nil))

	assert.True(t, common.IsStatus(a.Unlock(1, 0, 5), common.StatusRangeNotLocked))
	assert.True(t, common.IsStatus(a.Unlock(2, 0, 10), common.StatusRangeNotLocked))
	assert.True(t, common.IsStatus(b.Unlock(1, 0, 10), common.StatusRangeNotLocked))
	require.NoError(t, a.Unlock(1, 0, 10))
	assert.Zero(t, a.Count())
}

func TestInvalidRange(t *testing.T) {
	t.Parallel()
	m := New(&recorder{})
	a, _ := handles(m)
	err := a.Lock(1, ^uint64(0)-1, 5, ntvfs.LockWrite, nil)
	assert.True(t, common.IsStatus(err, common.StatusInvalidLockRange))
	assert.NoError(t, a.Lock(1, ^uint64(0), 1, ntvfs.LockWrite, nil))
}

func TestPendingLockNotified(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	m := New(rec)
	a, b := handles(m)
	require.NoError(t, a.Lock(1, 0, 10, ntvfs.LockWrite, nil))

	w := ntvfs.Waiter{Server: ntvfs.NewServerID(), Token: 5}
	err := b.Lock(1, 5, 10, ntvfs.LockPendingWrite, &w)
	require.True(t, common.IsStatus(err, common.StatusLockNotGranted))
	assert.Equal(t, 1, b.Count(), "pending entries are not counted")

	require.NoError(t, a.Unlock(1, 0, 10))
	assert.Equal(t, []uint64{5}, rec.tokens)

	require.NoError(t, b.RemovePending(w))
	require.NoError(t, b.Lock(1, 5, 10, ntvfs.LockPendingWrite, &w), "free range grants at once")
	assert.Equal(t, 1, b.Count())
}

func TestCloseReleasesAndNotifies(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	m := New(rec)
	a, b := handles(m)
	require.NoError(t, a.Lock(1, 0, 10, ntvfs.LockWrite, nil))
	require.NoError(t, a.Lock(1, 20, 10, ntvfs.LockRead, nil))

	w := ntvfs.Waiter{Token: 11}
	require.Error(t, b.Lock(1, 0, 1, ntvfs.LockPendingWrite, &w))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, []uint64{11}, rec.tokens)
	assert.Zero(t, b.Count())
	assert.Error(t, a.Lock(1, 0, 1, ntvfs.LockWrite, nil))
}

func TestLocktest(t *testing.T) {
	t.Parallel()
	m := New(&recorder{})
	a, b := handles(m)
	require.NoError(t, a.Lock(1, 0, 10, ntvfs.LockRead, nil))

	assert.NoError(t, b.Locktest(1, 0, 10, ntvfs.LockRead))
	assert.True(t, common.IsStatus(b.Locktest(1, 0, 10, ntvfs.LockWrite), common.StatusFileLockConflict))
	assert.NoError(t, b.Locktest(1, 10, 10, ntvfs.LockWrite))
}
