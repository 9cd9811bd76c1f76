// Package idmap maps local unix ids to security identifiers using the
// S-1-22 unix authority: S-1-22-1-<uid> for users and S-1-22-2-<gid> for
// groups.
package idmap

import (
	"context"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

const unixAuthority = 22

const (
	subUser  = 1
	subGroup = 2
)

// Mapper is stateless apart from fixed overrides.
type Mapper struct {
	toSID map[ntvfs.UnixID]ntvfs.SID
}

var _ ntvfs.IDMapper = (*Mapper)(nil)

// New returns a mapper. The local root user and group map to the well-known
// system and administrators SIDs.
func New() *Mapper {
	return &Mapper{toSID: map[ntvfs.UnixID]ntvfs.SID{
		{ID: 0, Type: ntvfs.IDTypeUID}: ntvfs.SIDSystem,
		{ID: 0, Type: ntvfs.IDTypeGID}: ntvfs.SIDBuiltinAdmins,
	}}
}

// UserSID returns the SID of uid.
func UserSID(uid uint32) ntvfs.SID {
	return ntvfs.SID{Revision: 1, Authority: unixAuthority, SubAuths: []uint32{subUser, uid}}
}

// GroupSID returns the SID of gid.
func GroupSID(gid uint32) ntvfs.SID {
	return ntvfs.SID{Revision: 1, Authority: unixAuthority, SubAuths: []uint32{subGroup, gid}}
}

func (m *Mapper) IDsToSIDs(ctx context.Context, ids []ntvfs.UnixID) ([]ntvfs.SID, error) {
	out := make([]ntvfs.SID, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, common.WithStatus(err, common.StatusCancelled)
		}
		if sid, ok := m.toSID[id]; ok {
			out[i] = sid
			continue
		}
		switch id.Type {
		case ntvfs.IDTypeUID:
			out[i] = UserSID(id.ID)
		case ntvfs.IDTypeGID:
			out[i] = GroupSID(id.ID)
		default:
			return nil, common.NewError(common.StatusInvalidParameter, "unknown id type %d", id.Type)
		}
	}
	return out, nil
}

// SIDsToIDs maps sids back to local ids. A SID outside the unix authority
// and the overrides fails the whole batch with StatusNoneMapped.
func (m *Mapper) SIDsToIDs(ctx context.Context, sids []ntvfs.SID) ([]ntvfs.UnixID, error) {
	out := make([]ntvfs.UnixID, len(sids))
	for i, sid := range sids {
		if err := ctx.Err(); err != nil {
			return nil, common.WithStatus(err, common.StatusCancelled)
		}
		id, ok := m.lookup(sid)
		if !ok {
			return nil, common.NewError(common.StatusNoneMapped, "no local id for %s", sid)
		}
		out[i] = id
	}
	return out, nil
}

func (m *Mapper) lookup(sid ntvfs.SID) (ntvfs.UnixID, bool) {
	for id, s := range m.toSID {
		if s.Equal(sid) {
			return id, true
		}
	}
	if sid.Revision != 1 || sid.Authority != unixAuthority || len(sid.SubAuths) != 2 {
		return ntvfs.UnixID{}, false
	}
	switch sid.SubAuths[0] {
	case subUser:
		return ntvfs.UnixID{ID: sid.SubAuths[1], Type: ntvfs.IDTypeUID}, true
	case subGroup:
		return ntvfs.UnixID{ID: sid.SubAuths[1], Type: ntvfs.IDTypeGID}, true
	}
	return ntvfs.UnixID{}, false
}
