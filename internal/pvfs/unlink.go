package pvfs

import (
	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// unlinkCheck is the admission an unlink needs: nobody may hold the file
// open, since the name goes away at once.
var unlinkCheck = ntvfs.OpenCheck{
	AccessMask:    ntvfs.StdDelete,
	ShareAccess:   ntvfs.ShareAll,
	DeleteOnClose: true,
	Disposition:   ntvfs.DispositionOpen,
}

// Unlink removes the files matching args.Pattern, or one stream of a file.
// Hidden and system files only match when args.Attrib includes them. A
// single name that is open elsewhere may be suspended until it is closed.
func (c *Conn) Unlink(req *ntvfs.Request, args *ntvfs.UnlinkArgs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlink(req, args)
}

func (c *Conn) unlink(req *ntvfs.Request, args *ntvfs.UnlinkArgs) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fs := c.fs
	name, err := fs.ResolveName(req, args.Pattern, ResolveWildcard|ResolveStream)
	if err != nil {
		return err
	}
	if name.StreamName != "" {
		return c.unlinkStream(req, name)
	}
	if !name.HasWildcard {
		if !name.Exists {
			return common.NewError(common.StatusObjectNameNotFound, "%s not found", args.Pattern)
		}
		return c.unlinkOne(req, name, uint32(args.Attrib), func() (any, error) {
			return nil, c.unlink(req, args)
		})
	}

	dir, err := fs.resolveParent(name)
	if err != nil {
		return err
	}
	parts := common.SplitWireName(args.Pattern)
	leaf := parts[len(parts)-1]
	cur, err := fs.openDir(dir.FullName, leaf)
	if err != nil {
		return err
	}
	defer cur.Close()

	deleted := 0
	var last error
	for {
		entry, _, ok, err := cur.next(func(n string) bool {
			return n != "." && n != ".." && fs.matchName(leaf, n)
		})
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n, err := fs.ResolvePartial(dir, entry)
		if err != nil {
			continue
		}
		if err := c.unlinkOne(req, n, uint32(args.Attrib), nil); err != nil {
			last = err
			continue
		}
		deleted++
	}
	if deleted == 0 {
		if last != nil {
			return last
		}
		return common.NewError(common.StatusNoSuchFile, "nothing matches %s", args.Pattern)
	}
	return nil
}

// unlinkOne removes a single file. A nil replay means the file is part of
// a wildcard delete and a conflict fails at once.
func (c *Conn) unlinkOne(req *ntvfs.Request, name *Filename, attrib uint32, replay func() (any, error)) error {
	fs := c.fs
	if name.IsDir() {
		return common.NewError(common.StatusFileIsADirectory, "%s is a directory", name.OriginalName)
	}
	if name.DOS.Attrib&^attrib&(ntvfs.AttrHidden|ntvfs.AttrSystem) != 0 {
		return common.NewError(common.StatusNoSuchFile, "%s excluded by search attributes", name.OriginalName)
	}
	if name.DOS.Attrib&ntvfs.AttrReadOnly != 0 {
		return common.NewError(common.StatusCannotDelete, "%s is read-only", name.OriginalName)
	}
	if err := fs.accessCheckDelete(req, name); err != nil {
		return err
	}

	lck, err := fs.odb.Lock(req.Ctx, name.odbKey())
	if err != nil {
		return err
	}
	defer lck.Release()
	switch outcome, err := lck.Open(unlinkCheck); outcome {
	case ntvfs.Admitted:
	case ntvfs.Retryable:
		if replay == nil {
			return err
		}
		return c.retryable(req, "unlink", lck, err, replay)
	default:
		return err
	}

	log.Debugf("[PVFS] Unlink %s", name.FullName)
	fs.xattrUnlinkHook(fs.target(name, -1))
	if err := fs.removeAt(name.FullName, false); err != nil {
		return err
	}
	fs.notifyChange(name.FullName, ntvfs.NotifyActionRemoved, ntvfs.NotifyFileName)
	return nil
}

func (c *Conn) unlinkStream(req *ntvfs.Request, name *Filename) error {
	fs := c.fs
	if name.HasWildcard {
		return common.NewError(common.StatusObjectNameInvalid, "wildcard stream delete")
	}
	if !name.Exists || !name.StreamExists {
		return common.NewError(common.StatusObjectNameNotFound, "stream %s not found", name.OriginalName)
	}
	if err := fs.accessCheckSimple(req, name, ntvfs.StdDelete); err != nil {
		return err
	}
	if err := fs.streamDelete(name, -1); err != nil {
		return err
	}
	fs.notifyChange(name.FullName, ntvfs.NotifyActionRemovedStream, ntvfs.NotifyStreamName)
	return nil
}
