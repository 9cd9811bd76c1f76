package pvfs

import (
	"encoding/binary"
	"fmt"

	"github.com/NVIDIA/cstruct"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Every persisted record starts with a little endian version word followed
// by a fixed header. Variable length names and values follow their header.

const (
	dosAttribVersion  uint16 = 1
	eaListVersion     uint16 = 1
	streamListVersion uint16 = 1
	sdBlobVersion     uint16 = 1
)

// Flags of a DOS attribute record naming which optional fields are valid.
const (
	dosFlagCreateTime uint16 = 0x0001
	dosFlagChangeTime uint16 = 0x0002
	dosFlagAllocSize  uint16 = 0x0004
)

var byteOrder = cstruct.LittleEndian

// dosAttribRecord is the user.DosAttrib value.
type dosAttribRecord struct {
	Version    uint16
	Flags      uint16
	Attrib     uint32
	EASize     uint32
	Size       uint64
	AllocSize  uint64
	CreateTime uint64
	ChangeTime uint64
}

type listHeader struct {
	Version uint16
	Count   uint16
}

type eaEntryHeader struct {
	Flags    uint8
	NameLen  uint8
	ValueLen uint16
}

// streamEntryHeader describes one alternate data stream in user.DosStreams.
type streamEntryHeader struct {
	Flags     uint32
	Size      uint64
	AllocSize uint64
	NameLen   uint16
}

type sdHeader struct {
	Version  uint16
	Revision uint8
	Present  uint8
	Control  uint16
}

const (
	sdHasOwner uint8 = 1 << iota
	sdHasGroup
	sdHasDACL
	sdHasSACL
)

type sidHeader struct {
	Revision    uint8
	NumSubAuths uint8
	Authority   [6]uint8
}

type aclHeader struct {
	Revision uint16
	Count    uint16
}

type aceHeader struct {
	Type       uint8
	Flags      uint8
	AccessMask uint32
}

func corrupt(kind string, err error) error {
	return common.WithStatus(fmt.Errorf("decode %s: %w", kind, err), common.StatusInternalDBCorruption)
}

func corruptf(format string, a ...any) error {
	return common.NewError(common.StatusInternalDBCorruption, format, a...)
}

func encodeDOSAttrib(r dosAttribRecord) ([]byte, error) {
	r.Version = dosAttribVersion
	return cstruct.Pack(r, byteOrder)
}

func decodeDOSAttrib(b []byte) (dosAttribRecord, error) {
	var r dosAttribRecord
	if _, err := cstruct.Unpack(b, &r, byteOrder); err != nil {
		return r, corrupt("dos attributes", err)
	}
	if r.Version != dosAttribVersion {
		return r, corruptf("unknown dos attribute version %d", r.Version)
	}
	return r, nil
}

// unpackHeader decodes hdr at b[off:] and returns the offset past it.
func unpackHeader(b []byte, off int, hdr any) (int, error) {
	if off > len(b) {
		return off, corruptf("record truncated at %d", off)
	}
	n, err := cstruct.Unpack(b[off:], hdr, byteOrder)
	if err != nil {
		return off, corrupt("header", err)
	}
	return off + int(n), nil
}

// takeBytes returns the n bytes at b[off:].
func takeBytes(b []byte, off, n int) ([]byte, int, error) {
	if off+n > len(b) {
		return nil, off, corruptf("record truncated: need %d bytes at %d, have %d", n, off, len(b))
	}
	return b[off : off+n], off + n, nil
}

func appendPacked(dst []byte, hdr any) ([]byte, error) {
	p, err := cstruct.Pack(hdr, byteOrder)
	if err != nil {
		return nil, err
	}
	return append(dst, p...), nil
}

// encodeEAList packs eas into the user.DosEAs value.
func encodeEAList(eas []ntvfs.EA) ([]byte, error) {
	if len(eas) > 0xFFFF {
		return nil, common.NewError(common.StatusInvalidParameter, "too many EAs: %d", len(eas))
	}
	out, err := appendPacked(nil, listHeader{Version: eaListVersion, Count: uint16(len(eas))})
	if err != nil {
		return nil, err
	}
	for _, ea := range eas {
		if len(ea.Name) == 0 || len(ea.Name) > 0xFF {
			return nil, common.NewError(common.StatusInvalidEAName, "invalid EA name length %d", len(ea.Name))
		}
		if len(ea.Value) > 0xFFFF {
			return nil, common.NewError(common.StatusInvalidParameter, "EA %s value too long", ea.Name)
		}
		hdr := eaEntryHeader{Flags: ea.Flags, NameLen: uint8(len(ea.Name)), ValueLen: uint16(len(ea.Value))}
		if out, err = appendPacked(out, hdr); err != nil {
			return nil, err
		}
		out = append(out, ea.Name...)
		out = append(out, ea.Value...)
	}
	return out, nil
}

func decodeEAList(b []byte) ([]ntvfs.EA, error) {
	var lh listHeader
	off, err := unpackHeader(b, 0, &lh)
	if err != nil {
		return nil, err
	}
	if lh.Version != eaListVersion {
		return nil, corruptf("unknown EA list version %d", lh.Version)
	}
	eas := make([]ntvfs.EA, 0, lh.Count)
	for i := 0; i < int(lh.Count); i++ {
		var hdr eaEntryHeader
		if off, err = unpackHeader(b, off, &hdr); err != nil {
			return nil, err
		}
		var name, value []byte
		if name, off, err = takeBytes(b, off, int(hdr.NameLen)); err != nil {
			return nil, err
		}
		if value, off, err = takeBytes(b, off, int(hdr.ValueLen)); err != nil {
			return nil, err
		}
		eas = append(eas, ntvfs.EA{Flags: hdr.Flags, Name: string(name), Value: append([]byte{}, value...)})
	}
	return eas, nil
}

// streamEntry is one alternate data stream as recorded in user.DosStreams.
type streamEntry struct {
	Name      string
	Flags     uint32
	Size      uint64
	AllocSize uint64
}

func encodeStreamList(streams []streamEntry) ([]byte, error) {
	if len(streams) > 0xFFFF {
		return nil, common.NewError(common.StatusInvalidParameter, "too many streams: %d", len(streams))
	}
	out, err := appendPacked(nil, listHeader{Version: streamListVersion, Count: uint16(len(streams))})
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		if len(s.Name) > 0xFFFF {
			return nil, common.NewError(common.StatusNameTooLong, "stream name too long")
		}
		hdr := streamEntryHeader{Flags: s.Flags, Size: s.Size, AllocSize: s.AllocSize, NameLen: uint16(len(s.Name))}
		if out, err = appendPacked(out, hdr); err != nil {
			return nil, err
		}
		out = append(out, s.Name...)
	}
	return out, nil
}

func decodeStreamList(b []byte) ([]streamEntry, error) {
	var lh listHeader
	off, err := unpackHeader(b, 0, &lh)
	if err != nil {
		return nil, err
	}
	if lh.Version != streamListVersion {
		return nil, corruptf("unknown stream list version %d", lh.Version)
	}
	out := make([]streamEntry, 0, lh.Count)
	for i := 0; i < int(lh.Count); i++ {
		var hdr streamEntryHeader
		if off, err = unpackHeader(b, off, &hdr); err != nil {
			return nil, err
		}
		var name []byte
		if name, off, err = takeBytes(b, off, int(hdr.NameLen)); err != nil {
			return nil, err
		}
		out = append(out, streamEntry{Name: string(name), Flags: hdr.Flags, Size: hdr.Size, AllocSize: hdr.AllocSize})
	}
	return out, nil
}

// encodeSD packs a security descriptor in the binary layout used by the
// xattr ACL backend.
func encodeSD(sd *ntvfs.SecurityDescriptor) ([]byte, error) {
	hdr := sdHeader{Version: sdBlobVersion, Revision: sd.Revision, Control: sd.Control}
	if sd.Owner != nil {
		hdr.Present |= sdHasOwner
	}
	if sd.Group != nil {
		hdr.Present |= sdHasGroup
	}
	if sd.DACL != nil {
		hdr.Present |= sdHasDACL
	}
	if sd.SACL != nil {
		hdr.Present |= sdHasSACL
	}
	out, err := appendPacked(nil, hdr)
	if err != nil {
		return nil, err
	}
	for _, sid := range []*ntvfs.SID{sd.Owner, sd.Group} {
		if sid == nil {
			continue
		}
		if out, err = appendSID(out, *sid); err != nil {
			return nil, err
		}
	}
	for _, acl := range []*ntvfs.ACL{sd.DACL, sd.SACL} {
		if acl == nil {
			continue
		}
		if out, err = appendACL(out, acl); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendSID(dst []byte, sid ntvfs.SID) ([]byte, error) {
	if len(sid.SubAuths) > 15 {
		return nil, common.NewError(common.StatusInvalidSecurityDescr, "sid %s has too many sub-authorities", sid)
	}
	hdr := sidHeader{Revision: sid.Revision, NumSubAuths: uint8(len(sid.SubAuths))}
	for i := 0; i < 6; i++ {
		hdr.Authority[i] = uint8(sid.Authority >> (8 * (5 - i)))
	}
	dst, err := appendPacked(dst, hdr)
	if err != nil {
		return nil, err
	}
	for _, sa := range sid.SubAuths {
		dst = binary.LittleEndian.AppendUint32(dst, sa)
	}
	return dst, nil
}

func appendACL(dst []byte, acl *ntvfs.ACL) ([]byte, error) {
	if len(acl.ACEs) > 0xFFFF {
		return nil, common.NewError(common.StatusInvalidSecurityDescr, "acl has %d entries", len(acl.ACEs))
	}
	dst, err := appendPacked(dst, aclHeader{Revision: acl.Revision, Count: uint16(len(acl.ACEs))})
	if err != nil {
		return nil, err
	}
	for _, ace := range acl.ACEs {
		if dst, err = appendPacked(dst, aceHeader{Type: ace.Type, Flags: ace.Flags, AccessMask: ace.AccessMask}); err != nil {
			return nil, err
		}
		if dst, err = appendSID(dst, ace.Trustee); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func decodeSD(b []byte) (*ntvfs.SecurityDescriptor, error) {
	var hdr sdHeader
	off, err := unpackHeader(b, 0, &hdr)
	if err != nil {
		return nil, err
	}
	if hdr.Version != sdBlobVersion {
		return nil, corruptf("unknown security descriptor version %d", hdr.Version)
	}
	sd := &ntvfs.SecurityDescriptor{Revision: hdr.Revision, Control: hdr.Control}
	if hdr.Present&sdHasOwner != 0 {
		var sid ntvfs.SID
		if sid, off, err = readSID(b, off); err != nil {
			return nil, err
		}
		sd.Owner = &sid
	}
	if hdr.Present&sdHasGroup != 0 {
		var sid ntvfs.SID
		if sid, off, err = readSID(b, off); err != nil {
			return nil, err
		}
		sd.Group = &sid
	}
	if hdr.Present&sdHasDACL != 0 {
		if sd.DACL, off, err = readACL(b, off); err != nil {
			return nil, err
		}
	}
	if hdr.Present&sdHasSACL != 0 {
		if sd.SACL, _, err = readACL(b, off); err != nil {
			return nil, err
		}
	}
	return sd, nil
}

func readSID(b []byte, off int) (ntvfs.SID, int, error) {
	var hdr sidHeader
	off, err := unpackHeader(b, off, &hdr)
	if err != nil {
		return ntvfs.SID{}, off, err
	}
	sid := ntvfs.SID{Revision: hdr.Revision}
	for i := 0; i < 6; i++ {
		sid.Authority = sid.Authority<<8 | uint64(hdr.Authority[i])
	}
	raw, off, err := takeBytes(b, off, 4*int(hdr.NumSubAuths))
	if err != nil {
		return ntvfs.SID{}, off, err
	}
	for i := 0; i < int(hdr.NumSubAuths); i++ {
		sid.SubAuths = append(sid.SubAuths, binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return sid, off, nil
}

func readACL(b []byte, off int) (*ntvfs.ACL, int, error) {
	var hdr aclHeader
	off, err := unpackHeader(b, off, &hdr)
	if err != nil {
		return nil, off, err
	}
	acl := &ntvfs.ACL{Revision: hdr.Revision, ACEs: make([]ntvfs.ACE, 0, hdr.Count)}
	for i := 0; i < int(hdr.Count); i++ {
		var ah aceHeader
		if off, err = unpackHeader(b, off, &ah); err != nil {
			return nil, off, err
		}
		var sid ntvfs.SID
		if sid, off, err = readSID(b, off); err != nil {
			return nil, off, err
		}
		acl.ACEs = append(acl.ACEs, ntvfs.ACE{Type: ah.Type, Flags: ah.Flags, AccessMask: ah.AccessMask, Trustee: sid})
	}
	return acl, off, nil
}
