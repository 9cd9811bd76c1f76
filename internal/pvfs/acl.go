package pvfs

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pvfs/internal/common"
	"pvfs/internal/idmap"
	"pvfs/internal/ntvfs"
)

// token returns the principals req acts as.
func (fs *FS) token(req *ntvfs.Request) ntvfs.Token {
	id := &req.Identity
	ids := []ntvfs.UnixID{{ID: id.UID, Type: ntvfs.IDTypeUID}, {ID: id.GID, Type: ntvfs.IDTypeGID}}
	for _, g := range id.Groups {
		ids = append(ids, ntvfs.UnixID{ID: g, Type: ntvfs.IDTypeGID})
	}
	sids, err := fs.idmap.IDsToSIDs(reqContext(req), ids)
	if err != nil || len(sids) != len(ids) {
		log.Debugf("[PVFS] id mapping for uid %d failed, using unix SIDs: %v", id.UID, err)
		sids = sids[:0]
		sids = append(sids, idmap.UserSID(id.UID), idmap.GroupSID(id.GID))
		for _, g := range id.Groups {
			sids = append(sids, idmap.GroupSID(g))
		}
	}
	tok := ntvfs.Token{User: sids[0], Privs: id.Privileges}
	tok.Groups = append(tok.Groups, sids[1:]...)
	tok.Groups = append(tok.Groups, ntvfs.SIDWorld, ntvfs.SIDAuthenticated)
	return tok
}

func reqContext(req *ntvfs.Request) context.Context {
	if req == nil || req.Ctx == nil {
		return context.Background()
	}
	return req.Ctx
}

func (fs *FS) ownerSIDs(ctx context.Context, st *fileStat) (ntvfs.SID, ntvfs.SID) {
	sids, err := fs.idmap.IDsToSIDs(ctx, []ntvfs.UnixID{
		{ID: st.UID, Type: ntvfs.IDTypeUID},
		{ID: st.GID, Type: ntvfs.IDTypeGID},
	})
	if err != nil || len(sids) != 2 {
		return idmap.UserSID(st.UID), idmap.GroupSID(st.GID)
	}
	return sids[0], sids[1]
}

// modeRights maps one rwx triplet to file rights.
func modeRights(bits uint32, dir bool) uint32 {
	var r uint32
	if bits&4 != 0 {
		r |= ntvfs.FileReadData | ntvfs.FileReadEA | ntvfs.FileReadAttributes | ntvfs.StdReadControl | ntvfs.StdSynchronize
	}
	if bits&2 != 0 {
		r |= ntvfs.FileWriteData | ntvfs.FileAppendData | ntvfs.FileWriteEA | ntvfs.FileWriteAttributes
		if dir {
			r |= ntvfs.FileDeleteChild
		}
	}
	if bits&1 != 0 {
		r |= ntvfs.FileExecute | ntvfs.StdSynchronize
	}
	return r
}

// defaultSD synthesizes a descriptor from the permission bits.
func (fs *FS) defaultSD(ctx context.Context, name *Filename) *ntvfs.SecurityDescriptor {
	owner, group := fs.ownerSIDs(ctx, &name.St)
	dir := name.St.IsDir()
	mode := name.St.Mode
	ownerMask := modeRights(mode>>6&7, dir) | ntvfs.StdWriteDAC | ntvfs.StdWriteOwner | ntvfs.StdDelete |
		ntvfs.StdReadControl | ntvfs.FileReadAttributes | ntvfs.FileWriteAttributes
	acl := &ntvfs.ACL{Revision: 2, ACEs: []ntvfs.ACE{
		{Type: ntvfs.ACETypeAccessAllowed, AccessMask: ntvfs.FileAllAccess, Trustee: ntvfs.SIDSystem},
		{Type: ntvfs.ACETypeAccessAllowed, AccessMask: ownerMask, Trustee: owner},
	}}
	if g := modeRights(mode>>3&7, dir); g != 0 {
		acl.ACEs = append(acl.ACEs, ntvfs.ACE{Type: ntvfs.ACETypeAccessAllowed, AccessMask: g, Trustee: group})
	}
	if o := modeRights(mode&7, dir); o != 0 {
		acl.ACEs = append(acl.ACEs, ntvfs.ACE{Type: ntvfs.ACETypeAccessAllowed, AccessMask: o, Trustee: ntvfs.SIDWorld})
	}
	return &ntvfs.SecurityDescriptor{
		Revision: 1,
		Control:  ntvfs.SDSelfRelative | ntvfs.SDDACLPresent,
		Owner:    &owner,
		Group:    &group,
		DACL:     acl,
	}
}

// loadSD returns the stored descriptor, or a synthesized one.
func (fs *FS) loadSD(ctx context.Context, name *Filename, fd int) (*ntvfs.SecurityDescriptor, error) {
	if fs.opts.EA {
		sd, err := fs.acl.Load(fs, name, fd)
		if err != nil {
			return nil, err
		}
		if sd != nil {
			return sd, nil
		}
	}
	return fs.defaultSD(ctx, name), nil
}

// mapGeneric expands generic rights into file rights.
func mapGeneric(mask uint32) uint32 {
	if mask&ntvfs.GenericRead != 0 {
		mask |= ntvfs.FileGenericRead
	}
	if mask&ntvfs.GenericWrite != 0 {
		mask |= ntvfs.FileGenericWrite
	}
	if mask&ntvfs.GenericExecute != 0 {
		mask |= ntvfs.FileGenericExec
	}
	if mask&ntvfs.GenericAll != 0 {
		mask |= ntvfs.FileAllAccess
	}
	return mask &^ (ntvfs.GenericRead | ntvfs.GenericWrite | ntvfs.GenericExecute | ntvfs.GenericAll)
}

// evaluate walks the DACL for tok. A missing DACL grants everything.
func evaluate(sd *ntvfs.SecurityDescriptor, tok *ntvfs.Token) uint32 {
	if sd.DACL == nil {
		return ntvfs.FileAllAccess
	}
	var granted, denied uint32
	for _, ace := range sd.DACL.ACEs {
		if ace.Flags&ntvfs.ACEInheritOnly != 0 || !tok.Contains(ace.Trustee) {
			continue
		}
		mask := mapGeneric(ace.AccessMask)
		switch ace.Type {
		case ntvfs.ACETypeAccessAllowed:
			granted |= mask &^ denied
		case ntvfs.ACETypeAccessDenied:
			denied |= mask &^ granted
		}
	}
	if sd.Owner != nil && tok.Contains(*sd.Owner) {
		granted |= ntvfs.StdReadControl | ntvfs.StdWriteDAC
	}
	return granted
}

// inheritSD computes the descriptor a new object below parent gets, or
// nil when parent has no stored descriptor to inherit from.
func (fs *FS) inheritSD(req *ntvfs.Request, parent *Filename, dir bool) (*ntvfs.SecurityDescriptor, error) {
	if !fs.opts.EA {
		return nil, nil
	}
	psd, err := fs.acl.Load(fs, parent, -1)
	if err != nil || psd == nil || psd.DACL == nil {
		return nil, err
	}
	tok := fs.token(req)
	owner := tok.User
	group := owner
	if len(tok.Groups) > 0 {
		group = tok.Groups[0]
	}
	acl := &ntvfs.ACL{Revision: psd.DACL.Revision}
	for _, ace := range psd.DACL.ACEs {
		var want uint8 = ntvfs.ACEObjectInherit
		if dir {
			want = ntvfs.ACEContainerInherit
		}
		if ace.Flags&want == 0 {
			if !dir || ace.Flags&ntvfs.ACEObjectInherit == 0 || ace.Flags&ntvfs.ACENoPropagateInherit != 0 {
				continue
			}
			// object-inherit entries travel through containers as
			// inherit-only
			ace.Flags = ace.Flags&ntvfs.ACEInheritFlags | ntvfs.ACEInheritOnly | ntvfs.ACEInherited
			acl.ACEs = append(acl.ACEs, ace)
			continue
		}
		switch {
		case ace.Trustee.Equal(ntvfs.SIDCreatorOwner):
			ace.Trustee = owner
		case ace.Trustee.Equal(ntvfs.SIDCreatorGroup):
			ace.Trustee = group
		}
		if !dir || ace.Flags&ntvfs.ACENoPropagateInherit != 0 {
			ace.Flags &^= ntvfs.ACEInheritFlags
		} else {
			ace.Flags &^= ntvfs.ACEInheritOnly
		}
		ace.Flags |= ntvfs.ACEInherited
		acl.ACEs = append(acl.ACEs, ace)
	}
	return &ntvfs.SecurityDescriptor{
		Revision: 1,
		Control:  ntvfs.SDSelfRelative | ntvfs.SDDACLPresent | ntvfs.SDDACLAutoInherit,
		Owner:    &owner,
		Group:    &group,
		DACL:     acl,
	}, nil
}

// applyNewSD stores the descriptor of a freshly created object: the one
// the client supplied, else one inherited from the parent.
func (fs *FS) applyNewSD(req *ntvfs.Request, parent, name *Filename, fd int, sd *ntvfs.SecurityDescriptor) error {
	if !fs.opts.EA {
		return nil
	}
	var err error
	if sd == nil {
		if sd, err = fs.inheritSD(req, parent, name.St.IsDir()); err != nil || sd == nil {
			return err
		}
	} else {
		base := fs.defaultSD(reqContext(req), name)
		sd = mergeSD(base, sd, ntvfs.SecInfoOwner|ntvfs.SecInfoGroup|ntvfs.SecInfoDACL|ntvfs.SecInfoSACL)
	}
	return fs.acl.Save(fs, name, fd, sd)
}

// mergeSD replaces the parts of cur selected by secinfo with those of upd.
func mergeSD(cur, upd *ntvfs.SecurityDescriptor, secinfo uint32) *ntvfs.SecurityDescriptor {
	out := cur.Clone()
	upd = upd.Clone()
	if secinfo&ntvfs.SecInfoOwner != 0 && upd.Owner != nil {
		out.Owner = upd.Owner
	}
	if secinfo&ntvfs.SecInfoGroup != 0 && upd.Group != nil {
		out.Group = upd.Group
	}
	if secinfo&ntvfs.SecInfoDACL != 0 {
		out.DACL = upd.DACL
		out.Control = out.Control&^(ntvfs.SDDACLPresent|ntvfs.SDDACLProtected|ntvfs.SDDACLAutoInherit) |
			upd.Control&(ntvfs.SDDACLProtected|ntvfs.SDDACLAutoInherit)
		if upd.DACL != nil {
			out.Control |= ntvfs.SDDACLPresent
		}
	}
	if secinfo&ntvfs.SecInfoSACL != 0 {
		out.SACL = upd.SACL
		out.Control &^= ntvfs.SDSACLPresent
		if upd.SACL != nil {
			out.Control |= ntvfs.SDSACLPresent
		}
	}
	return out
}

// filterSD returns the parts of sd selected by secinfo.
func filterSD(sd *ntvfs.SecurityDescriptor, secinfo uint32) *ntvfs.SecurityDescriptor {
	out := sd.Clone()
	if secinfo&ntvfs.SecInfoOwner == 0 {
		out.Owner = nil
	}
	if secinfo&ntvfs.SecInfoGroup == 0 {
		out.Group = nil
	}
	if secinfo&ntvfs.SecInfoDACL == 0 {
		out.DACL = nil
		out.Control &^= ntvfs.SDDACLPresent
	}
	if secinfo&ntvfs.SecInfoSACL == 0 {
		out.SACL = nil
		out.Control &^= ntvfs.SDSACLPresent
	}
	return out
}

// setSD applies a client supplied descriptor to an existing object. An
// owner or group change is carried to the file's ids where they map.
func (fs *FS) setSD(req *ntvfs.Request, name *Filename, fd int, secinfo uint32, upd *ntvfs.SecurityDescriptor) error {
	if !fs.opts.EA {
		return common.NewError(common.StatusNotSupported, "security descriptors need EA support")
	}
	ctx := reqContext(req)
	tok := fs.token(req)
	if secinfo&ntvfs.SecInfoOwner != 0 && upd.Owner != nil && !tok.User.Equal(*upd.Owner) &&
		!req.Identity.IsRoot() && !req.Identity.Has(ntvfs.PrivTakeOwnership) && !req.Identity.Has(ntvfs.PrivRestore) {
		return common.NewError(common.StatusInvalidOwner, "cannot give ownership to %s", upd.Owner)
	}
	cur, err := fs.loadSD(ctx, name, fd)
	if err != nil {
		return err
	}
	sd := mergeSD(cur, upd, secinfo)

	uid, gid := -1, -1
	if secinfo&ntvfs.SecInfoOwner != 0 && upd.Owner != nil {
		if ids, err := fs.idmap.SIDsToIDs(ctx, []ntvfs.SID{*upd.Owner}); err == nil && ids[0].Type == ntvfs.IDTypeUID {
			uid = int(ids[0].ID)
		}
	}
	if secinfo&ntvfs.SecInfoGroup != 0 && upd.Group != nil {
		if ids, err := fs.idmap.SIDsToIDs(ctx, []ntvfs.SID{*upd.Group}); err == nil && ids[0].Type == ntvfs.IDTypeGID {
			gid = int(ids[0].ID)
		}
	}
	if (uid >= 0 && uint32(uid) != name.St.UID) || (gid >= 0 && uint32(gid) != name.St.GID) {
		if err := withPrivilege(func() error {
			if fd >= 0 {
				return unix.Fchown(fd, uid, gid)
			}
			return unix.Lchown(name.FullName, uid, gid)
		}); err != nil {
			log.Debugf("[PVFS] chown of %s kept stored owner only: %v", name.FullName, err)
		}
	}
	return fs.acl.Save(fs, name, fd, sd)
}
