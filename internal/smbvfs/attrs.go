package smbvfs

import (
	"github.com/macos-fuse-t/go-smb2/vfs"

	"pvfs/internal/ntvfs"
)

// unixMode derives permission bits from DOS attributes.
func unixMode(attrib uint32, dir bool) uint32 {
	mode := uint32(0644)
	if dir {
		mode = 0755
	}
	if attrib&ntvfs.AttrReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func (fs *FS) infoToAttributes(info *ntvfs.FileAllInfo) *vfs.Attributes {
	attrs := &vfs.Attributes{}
	attrs.SetFileHandle(vfs.VfsNode(info.FileID))
	attrs.SetInodeNumber(info.FileID)
	attrs.SetSizeBytes(info.Size)
	attrs.SetLinkCount(max(info.Nlink, 1))
	attrs.SetUID(fs.id.UID)
	attrs.SetGID(fs.id.GID)
	mode := unixMode(info.Attrib, info.Directory)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(mode))
	attrs.SetUnixMode(mode)
	attrs.SetLastDataModificationTime(info.WriteTime.Time())
	attrs.SetLastStatusChangeTime(info.ChangeTime.Time())
	attrs.SetAccessTime(info.AccessTime.Time())
	attrs.SetBirthTime(info.CreateTime.Time())
	attrs.SetChangeID(uint64(info.ChangeTime))

	if info.Directory {
		attrs.SetFileType(vfs.FileTypeDirectory)
	} else {
		attrs.SetFileType(vfs.FileTypeRegularFile)
	}
	return attrs
}

// entryToDirInfo builds a listing entry from a search result.
func entryToDirInfo(e *ntvfs.SearchEntry) vfs.DirInfo {
	di := vfs.DirInfo{Name: e.Name}
	di.SetFileHandle(vfs.VfsNode(e.FileID))
	di.SetInodeNumber(e.FileID)
	di.SetSizeBytes(e.Size)
	di.SetLastDataModificationTime(e.WriteTime.Time())
	di.SetLastStatusChangeTime(e.ChangeTime.Time())
	di.SetAccessTime(e.AccessTime.Time())
	di.SetBirthTime(e.CreateTime.Time())

	dir := e.Attrib&ntvfs.AttrDirectory != 0
	if dir {
		di.SetFileType(vfs.FileTypeDirectory)
	} else {
		di.SetFileType(vfs.FileTypeRegularFile)
	}
	mode := unixMode(e.Attrib, dir)
	di.SetPermissions(vfs.NewPermissionsFromMode(mode))
	di.SetUnixMode(mode)
	return di
}
