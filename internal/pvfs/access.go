package pvfs

import (
	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Rights every caller holds whatever the descriptor says.
const alwaysGranted = ntvfs.FileReadAttributes | ntvfs.StdSynchronize

// backupRights and restoreRights are granted by the matching privileges.
const (
	backupRights  = ntvfs.FileGenericRead | ntvfs.FileTraverse | ntvfs.StdReadControl
	restoreRights = ntvfs.FileGenericWrite | ntvfs.FileAddFile | ntvfs.FileAddSubdirectory |
		ntvfs.StdDelete | ntvfs.StdWriteDAC | ntvfs.StdWriteOwner
)

// grantedRights computes what req may do to name.
func (fs *FS) grantedRights(req *ntvfs.Request, name *Filename) (uint32, error) {
	id := &req.Identity
	if id.IsRoot() {
		return ntvfs.FileAllAccess | ntvfs.FlagSystemSecurity, nil
	}
	var granted uint32
	if fs.opts.EA {
		sd, err := fs.loadSD(reqContext(req), name, -1)
		if err != nil {
			return 0, err
		}
		tok := fs.token(req)
		granted = evaluate(sd, &tok)
	} else {
		granted = fs.unixRights(id, name)
	}
	if id.Has(ntvfs.PrivBackup) {
		granted |= backupRights
	}
	if id.Has(ntvfs.PrivRestore) {
		granted |= restoreRights
	}
	if id.Has(ntvfs.PrivSecurity) {
		granted |= ntvfs.FlagSystemSecurity
	}
	return granted | alwaysGranted, nil
}

// unixRights maps the permission bits of the caller's class.
func (fs *FS) unixRights(id *ntvfs.Identity, name *Filename) uint32 {
	st := &name.St
	dir := st.IsDir()
	switch {
	case id.UID == st.UID:
		return modeRights(st.Mode>>6&7, dir) | ntvfs.StdAll | ntvfs.FileWriteAttributes
	case id.InGroup(st.GID):
		return modeRights(st.Mode>>3&7, dir)
	}
	return modeRights(st.Mode&7, dir)
}

// accessCheck verifies the rights in *mask and expands it: generic bits are
// mapped and a maximum-allowed request becomes everything granted.
func (fs *FS) accessCheck(req *ntvfs.Request, name *Filename, mask *uint32) error {
	want := mapGeneric(*mask)
	if want&ntvfs.FlagSystemSecurity != 0 && !req.Identity.Has(ntvfs.PrivSecurity) && !req.Identity.IsRoot() {
		return common.NewError(common.StatusPrivilegeNotHeld, "system security access needs the security privilege")
	}
	granted, err := fs.grantedRights(req, name)
	if err != nil {
		return err
	}
	if want&ntvfs.FlagMaximumAllowed != 0 {
		want = want&^ntvfs.FlagMaximumAllowed | granted&ntvfs.FileAllAccess
		if fs.opts.ReadOnly {
			want &^= ntvfs.FileWriteData | ntvfs.FileAppendData | ntvfs.FileWriteEA |
				ntvfs.FileWriteAttributes | ntvfs.StdDelete | ntvfs.FileDeleteChild
		}
	}
	if missing := want &^ granted; missing != 0 {
		return common.NewError(common.StatusAccessDenied, "access 0x%x denied on %s", missing, name.OriginalName)
	}
	*mask = want
	return nil
}

// accessCheckSimple checks mask without expanding it.
func (fs *FS) accessCheckSimple(req *ntvfs.Request, name *Filename, mask uint32) error {
	return fs.accessCheck(req, name, &mask)
}

// accessCheckCreate checks that a file or directory may be added to
// parent.
func (fs *FS) accessCheckCreate(req *ntvfs.Request, parent *Filename, dir bool) error {
	if fs.opts.ReadOnly {
		return common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	right := ntvfs.FileAddFile
	if dir {
		right = ntvfs.FileAddSubdirectory
	}
	return fs.accessCheckSimple(req, parent, right)
}

// accessCheckDelete allows a delete through DELETE on the object or
// DELETE_CHILD on its directory.
func (fs *FS) accessCheckDelete(req *ntvfs.Request, name *Filename) error {
	if fs.opts.ReadOnly {
		return common.NewError(common.StatusMediaWriteProtected, "share is read-only")
	}
	err := fs.accessCheckSimple(req, name, ntvfs.StdDelete)
	if err == nil || !common.IsStatus(err, common.StatusAccessDenied) {
		return err
	}
	parent, perr := fs.resolveParent(name)
	if perr != nil {
		return err
	}
	if fs.accessCheckSimple(req, parent, ntvfs.FileDeleteChild) == nil {
		return nil
	}
	return err
}

// writeRights are the rights a read-only share never grants.
const writeRights = ntvfs.FileWriteData | ntvfs.FileAppendData | ntvfs.FileWriteEA |
	ntvfs.FileWriteAttributes | ntvfs.StdDelete | ntvfs.StdWriteDAC | ntvfs.StdWriteOwner |
	ntvfs.FileDeleteChild | ntvfs.GenericWrite | ntvfs.GenericAll
