package idmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	m := New()
	ids := []ntvfs.UnixID{
		{ID: 1000, Type: ntvfs.IDTypeUID},
		{ID: 100, Type: ntvfs.IDTypeGID},
		{ID: 0, Type: ntvfs.IDTypeUID},
	}
	sids, err := m.IDsToSIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "S-1-22-1-1000", sids[0].String())
	assert.Equal(t, "S-1-22-2-100", sids[1].String())
	assert.True(t, sids[2].Equal(ntvfs.SIDSystem))

	back, err := m.SIDsToIDs(context.Background(), sids)
	require.NoError(t, err)
	assert.Equal(t, ids, back)
}

func TestUnmappedSID(t *testing.T) {
	t.Parallel()
	m := New()
	_, err := m.SIDsToIDs(context.Background(), []ntvfs.SID{ntvfs.SIDWorld})
	assert.True(t, common.IsStatus(err, common.StatusNoneMapped))
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().IDsToSIDs(ctx, []ntvfs.UnixID{{ID: 1, Type: ntvfs.IDTypeUID}})
	assert.True(t, common.IsStatus(err, common.StatusCancelled))
}
