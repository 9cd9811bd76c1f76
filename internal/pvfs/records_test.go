package pvfs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

func sampleSD() *ntvfs.SecurityDescriptor {
	owner := ntvfs.MustParseSID("S-1-22-1-1000")
	group := ntvfs.MustParseSID("S-1-22-2-100")
	return &ntvfs.SecurityDescriptor{
		Revision: 1,
		Control:  ntvfs.SDDACLPresent | ntvfs.SDSelfRelative,
		Owner:    &owner,
		Group:    &group,
		DACL: &ntvfs.ACL{Revision: 2, ACEs: []ntvfs.ACE{
			{Type: ntvfs.ACETypeAccessAllowed, AccessMask: ntvfs.FileAllAccess, Trustee: owner},
			{Type: ntvfs.ACETypeAccessDenied, Flags: ntvfs.ACEObjectInherit, AccessMask: ntvfs.StdDelete, Trustee: ntvfs.SIDWorld},
		}},
	}
}

func TestSecurityDescriptorRecord(t *testing.T) {
	t.Parallel()
	sd := sampleSD()
	b, err := encodeSD(sd)
	require.NoError(t, err)
	got, err := decodeSD(b)
	require.NoError(t, err)

	assert.Equal(t, sd.Control, got.Control)
	require.NotNil(t, got.Owner)
	assert.True(t, sd.Owner.Equal(*got.Owner))
	assert.True(t, sd.Group.Equal(*got.Group))
	require.NotNil(t, got.DACL)
	require.Len(t, got.DACL.ACEs, 2)
	assert.Equal(t, sd.DACL.ACEs[1].Flags, got.DACL.ACEs[1].Flags)
	assert.True(t, ntvfs.SIDWorld.Equal(got.DACL.ACEs[1].Trustee))
	assert.Nil(t, got.SACL)
}

func TestTruncatedRecordsAreCorrupt(t *testing.T) {
	t.Parallel()
	dos, err := encodeDOSAttrib(dosAttribRecord{Attrib: ntvfs.AttrHidden, CreateTime: 42, Flags: dosFlagCreateTime})
	require.NoError(t, err)
	eas, err := encodeEAList([]ntvfs.EA{{Name: "COLOR", Value: []byte("blue")}})
	require.NoError(t, err)
	streams, err := encodeStreamList([]streamEntry{{Name: "alt", Size: 10}})
	require.NoError(t, err)
	sd, err := encodeSD(sampleSD())
	require.NoError(t, err)

	decoders := map[string]struct {
		blob   []byte
		decode func([]byte) error
	}{
		"dos":     {dos, func(b []byte) error { _, err := decodeDOSAttrib(b); return err }},
		"eas":     {eas, func(b []byte) error { _, err := decodeEAList(b); return err }},
		"streams": {streams, func(b []byte) error { _, err := decodeStreamList(b); return err }},
		"sd":      {sd, func(b []byte) error { _, err := decodeSD(b); return err }},
	}
	for name, d := range decoders {
		require.NoError(t, d.decode(d.blob), name)
		err := d.decode(d.blob[:len(d.blob)-1])
		require.Error(t, err, name)
		assert.Equal(t, common.StatusInternalDBCorruption, common.StatusOf(err), name)

		bad := append([]byte{}, d.blob...)
		bad[0] = 0xEE
		assert.Equal(t, common.StatusInternalDBCorruption, common.StatusOf(d.decode(bad)), "%s version", name)
	}
}

func TestEAListLimits(t *testing.T) {
	t.Parallel()
	_, err := encodeEAList([]ntvfs.EA{{Name: string(make([]byte, 300))}})
	require.Error(t, err)
}

func TestDOSAttribRecordRoundTrip(t *testing.T) {
	t.Parallel()
	const max64 = ^uint64(0)
	tests := []struct {
		name string
		rec  dosAttribRecord
	}{
		{"zero", dosAttribRecord{}},
		{"attrib only", dosAttribRecord{Attrib: ntvfs.AttrHidden | ntvfs.AttrSystem}},
		{"all fields", dosAttribRecord{
			Flags:      dosFlagCreateTime | dosFlagChangeTime | dosFlagAllocSize,
			Attrib:     ntvfs.AttrArchive | ntvfs.AttrReadOnly,
			EASize:     ^uint32(0),
			Size:       max64,
			AllocSize:  max64,
			CreateTime: 133000000000000000,
			ChangeTime: max64,
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeDOSAttrib(tt.rec)
			require.NoError(t, err)
			got, err := decodeDOSAttrib(b)
			require.NoError(t, err)
			want := tt.rec
			want.Version = dosAttribVersion
			assert.Equal(t, want, got)

			again, err := encodeDOSAttrib(got)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}

func TestEAListRoundTrip(t *testing.T) {
	t.Parallel()
	longName := strings.Repeat("N", 255)
	tests := []struct {
		name string
		eas  []ntvfs.EA
	}{
		{"empty", []ntvfs.EA{}},
		{"zero flags and empty value", []ntvfs.EA{{Name: "A", Value: []byte{}}}},
		{"mixed", []ntvfs.EA{
			{Name: "COLOR", Value: []byte("blue")},
			{Flags: 0x80, Name: longName, Value: bytes.Repeat([]byte{0xFF}, 0xFFFF)},
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeEAList(tt.eas)
			require.NoError(t, err)
			got, err := decodeEAList(b)
			require.NoError(t, err)
			assert.Equal(t, tt.eas, got)

			again, err := encodeEAList(got)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}

func TestStreamListRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		streams []streamEntry
	}{
		{"empty", []streamEntry{}},
		{"zero values", []streamEntry{{Name: "s"}}},
		{"max sizes", []streamEntry{
			{Name: "alt", Size: 10, AllocSize: 4096},
			{Name: strings.Repeat("x", 1024), Flags: ^uint32(0), Size: ^uint64(0), AllocSize: ^uint64(0)},
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeStreamList(tt.streams)
			require.NoError(t, err)
			got, err := decodeStreamList(b)
			require.NoError(t, err)
			assert.Equal(t, tt.streams, got)

			again, err := encodeStreamList(got)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}

func TestSecurityDescriptorRoundTrip(t *testing.T) {
	t.Parallel()
	withSACL := sampleSD()
	withSACL.Control |= ntvfs.SDSACLPresent
	withSACL.SACL = &ntvfs.ACL{Revision: 2, ACEs: []ntvfs.ACE{
		{Type: ntvfs.ACETypeSystemAudit, Flags: 0xFF, AccessMask: ^uint32(0), Trustee: ntvfs.SIDWorld},
	}}
	empty := &ntvfs.SecurityDescriptor{Revision: 1, Control: ntvfs.SDSelfRelative}

	for name, sd := range map[string]*ntvfs.SecurityDescriptor{
		"dacl":  sampleSD(),
		"sacl":  withSACL,
		"empty": empty,
	} {
		t.Run(name, func(t *testing.T) {
			b, err := encodeSD(sd)
			require.NoError(t, err)
			got, err := decodeSD(b)
			require.NoError(t, err)
			assert.Equal(t, sd.Revision, got.Revision)
			assert.Equal(t, sd.Control, got.Control)
			assert.Equal(t, sd.DACL == nil, got.DACL == nil)
			assert.Equal(t, sd.SACL == nil, got.SACL == nil)

			again, err := encodeSD(got)
			require.NoError(t, err)
			assert.Equal(t, b, again)
		})
	}
}
