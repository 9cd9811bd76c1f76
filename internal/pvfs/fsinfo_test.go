package pvfs

import (
	"testing"

	"github.com/creachadair/cityhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/ntvfs"
)

func TestFSInfo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tune    func(*Options)
		set     uint32
		cleared uint32
	}{
		{"defaults", nil, ntvfs.FSNamedStreams | ntvfs.FSPersistentACLs, ntvfs.FSCaseSensitiveSearch | ntvfs.FSReadOnlyVolume},
		{"no streams", func(o *Options) { o.Streams = false }, ntvfs.FSPersistentACLs, ntvfs.FSNamedStreams},
		{"case sensitive read-only", func(o *Options) {
			o.CaseInsensitive = false
			o.ReadOnly = true
		}, ntvfs.FSCaseSensitiveSearch | ntvfs.FSReadOnlyVolume, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestShare(t, func(o *Options) {
				o.ShareName = "data"
				if tt.tune != nil {
					tt.tune(o)
				}
			})
			info, err := s.fs.Connect(nil).FSInfo(rootReq())
			require.NoError(t, err)

			assert.Equal(t, "NTFS", info.FSType)
			assert.Equal(t, "data", info.VolumeName)
			assert.Equal(t, cityhash.Hash32([]byte("data")), info.SerialNumber)
			assert.NotZero(t, info.BlockSize)
			assert.LessOrEqual(t, info.MaxNameLen, uint32(255))
			assert.Equal(t, tt.set, info.Attributes&tt.set)
			assert.Zero(t, info.Attributes&tt.cleared)
			assert.NotZero(t, info.Attributes&ntvfs.FSCasePreservedNames)
		})
	}
}
