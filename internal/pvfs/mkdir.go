package pvfs

import (
	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Mkdir creates a directory, optionally with an initial EA list. The new
// directory inherits the parent's ACL like any other create.
func (c *Conn) Mkdir(req *ntvfs.Request, wire string, eas []ntvfs.EA) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	name, err := c.fs.ResolveName(req, wire, 0)
	if err != nil {
		return err
	}
	if name.Exists {
		return common.NewError(common.StatusObjectNameCollision, "%s exists", wire)
	}
	res, err := c.createDirectory(req, &ntvfs.OpenArgs{
		Fname:         wire,
		AccessMask:    ntvfs.FileReadAttributes,
		ShareAccess:   ntvfs.ShareAll,
		Disposition:   ntvfs.DispositionCreate,
		CreateOptions: ntvfs.CreateDirectory,
		EAs:           eas,
	}, name)
	if err != nil {
		return err
	}
	if f := c.files[res.FileID]; f != nil {
		return c.closeFile(f)
	}
	return nil
}

// Rmdir removes an empty directory nobody has open.
func (c *Conn) Rmdir(req *ntvfs.Request, wire string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	fs := c.fs
	name, err := fs.ResolveName(req, wire, 0)
	if err != nil {
		return err
	}
	if !name.Exists {
		return common.NewError(common.StatusObjectNameNotFound, "%s not found", wire)
	}
	if !name.IsDir() {
		return common.NewError(common.StatusNotADirectory, "%s is not a directory", wire)
	}
	if name.FullName == fs.root {
		return common.NewError(common.StatusCannotDelete, "the share root cannot be removed")
	}
	if err := fs.accessCheckDelete(req, name); err != nil {
		return err
	}
	if empty, err := dirEmpty(name.FullName); err != nil {
		return err
	} else if !empty {
		return common.NewError(common.StatusDirectoryNotEmpty, "%s is not empty", wire)
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	if outcome, err := lck.Open(unlinkCheck); outcome != ntvfs.Admitted {
		return err
	}

	log.Debugf("[PVFS] Rmdir %s", name.FullName)
	fs.xattrUnlinkHook(fs.target(name, -1))
	if err := fs.removeAt(name.FullName, true); err != nil {
		return err
	}
	fs.notifyChange(name.FullName, ntvfs.NotifyActionRemoved, ntvfs.NotifyDirName)
	return nil
}
