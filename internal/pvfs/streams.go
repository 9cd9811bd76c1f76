package pvfs

import (
	"errors"
	"strings"

	"github.com/creachadair/cityhash"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/storage"
)

// Alternate data streams are stored whole in one attribute each, listed in
// user.DosStreams with their sizes.

func streamAttr(stream string) string {
	return xattrStreamPrefix + stream + ":$DATA"
}

// streamID keys byte-range locks and share modes of a named stream. The
// unnamed stream is 0.
func streamID(stream string) uint32 {
	if stream == "" {
		return 0
	}
	id := cityhash.Hash32([]byte(strings.ToUpper(stream)))
	if id == 0 {
		id = 1
	}
	return id
}

func findStream(list []streamEntry, name string) int {
	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			return i
		}
	}
	return -1
}

func (fs *FS) loadStreams(name *Filename, fd int) ([]streamEntry, error) {
	b, err := fs.xattrLoad(fs.target(name, fd), xattrDosStreams)
	if errors.Is(err, storage.ErrNoAttr) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeStreamList(b)
}

func (fs *FS) saveStreams(name *Filename, fd int, list []streamEntry) error {
	t := fs.target(name, fd)
	if len(list) == 0 {
		return fs.xattrDelete(t, xattrDosStreams)
	}
	b, err := encodeStreamList(list)
	if err != nil {
		return err
	}
	return fs.xattrSave(t, xattrDosStreams, b)
}

// fillStream sets the stream's existence and size on name.
func (fs *FS) fillStream(name *Filename, fd int) error {
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	i := findStream(list, name.StreamName)
	if i < 0 {
		name.StreamExists = false
		name.DOS.Size = 0
		name.DOS.AllocSize = 0
		return nil
	}
	name.StreamExists = true
	name.StreamName = list[i].Name
	name.DOS.Size = list[i].Size
	name.DOS.AllocSize = fs.roundAlloc(max(list[i].AllocSize, list[i].Size))
	return nil
}

func (fs *FS) streamsEnabled() error {
	if !fs.opts.Streams || !fs.opts.EA {
		return common.NewError(common.StatusObjectNameInvalid, "alternate data streams are disabled")
	}
	return nil
}

// streamCreate adds an empty stream.
func (fs *FS) streamCreate(name *Filename, fd int) error {
	if err := fs.streamsEnabled(); err != nil {
		return err
	}
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	if i := findStream(list, name.StreamName); i >= 0 {
		name.StreamName = list[i].Name
		name.StreamExists = true
		return nil
	}
	if err := fs.xattrSave(fs.target(name, fd), streamAttr(name.StreamName), nil); err != nil {
		return err
	}
	list = append(list, streamEntry{Name: name.StreamName})
	if err := fs.saveStreams(name, fd, list); err != nil {
		return err
	}
	name.StreamExists = true
	name.DOS.Size = 0
	name.DOS.AllocSize = 0
	return nil
}

func (fs *FS) streamData(name *Filename, fd int) ([]byte, error) {
	b, err := fs.xattrLoad(fs.target(name, fd), streamAttr(name.StreamName))
	if errors.Is(err, storage.ErrNoAttr) {
		return nil, nil
	}
	return b, err
}

// storeStream replaces the stream's content and records its new size.
func (fs *FS) storeStream(name *Filename, fd int, data []byte) error {
	if err := fs.xattrSave(fs.target(name, fd), streamAttr(name.StreamName), data); err != nil {
		return err
	}
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	i := findStream(list, name.StreamName)
	if i < 0 {
		list = append(list, streamEntry{Name: name.StreamName})
		i = len(list) - 1
	}
	list[i].Size = uint64(len(data))
	if list[i].AllocSize < list[i].Size {
		list[i].AllocSize = 0
	}
	if err := fs.saveStreams(name, fd, list); err != nil {
		return err
	}
	name.StreamExists = true
	name.DOS.Size = uint64(len(data))
	name.DOS.AllocSize = fs.roundAlloc(max(list[i].AllocSize, list[i].Size))
	return nil
}

func (fs *FS) streamRead(name *Filename, fd int, buf []byte, off uint64) (int, error) {
	data, err := fs.streamData(name, fd)
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[off:]), nil
}

func (fs *FS) streamWrite(name *Filename, fd int, p []byte, off uint64) (int, error) {
	data, err := fs.streamData(name, fd)
	if err != nil {
		return 0, err
	}
	end := off + uint64(len(p))
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], p)
	if err := fs.storeStream(name, fd, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (fs *FS) streamTruncate(name *Filename, fd int, size uint64) error {
	data, err := fs.streamData(name, fd)
	if err != nil {
		return err
	}
	switch {
	case size < uint64(len(data)):
		data = data[:size]
	case size > uint64(len(data)):
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	default:
		return nil
	}
	return fs.storeStream(name, fd, data)
}

// streamSetAlloc records an allocation size, cutting the stream down when
// the new size is smaller than its data.
func (fs *FS) streamSetAlloc(name *Filename, fd int, size uint64) error {
	if size < name.DOS.Size {
		if err := fs.streamTruncate(name, fd, size); err != nil {
			return err
		}
	}
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	i := findStream(list, name.StreamName)
	if i < 0 {
		return common.NewError(common.StatusObjectNameNotFound, "stream %s not found", name.StreamName)
	}
	list[i].AllocSize = size
	if err := fs.saveStreams(name, fd, list); err != nil {
		return err
	}
	name.DOS.AllocSize = fs.roundAlloc(max(size, list[i].Size))
	return nil
}

func (fs *FS) streamDelete(name *Filename, fd int) error {
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	i := findStream(list, name.StreamName)
	if i < 0 {
		return common.NewError(common.StatusObjectNameNotFound, "stream %s not found", name.StreamName)
	}
	if err := fs.xattrDelete(fs.target(name, fd), streamAttr(list[i].Name)); err != nil {
		return err
	}
	list = append(list[:i], list[i+1:]...)
	if err := fs.saveStreams(name, fd, list); err != nil {
		return err
	}
	name.StreamExists = false
	return nil
}

// streamRename moves the stream of name to newStream. An existing target
// is replaced only with overwrite.
func (fs *FS) streamRename(name *Filename, fd int, newStream string, overwrite bool) error {
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return err
	}
	i := findStream(list, name.StreamName)
	if i < 0 {
		return common.NewError(common.StatusObjectNameNotFound, "stream %s not found", name.StreamName)
	}
	if j := findStream(list, newStream); j >= 0 && j != i {
		if !overwrite {
			return common.NewError(common.StatusObjectNameCollision, "stream %s exists", newStream)
		}
		if err := fs.xattrDelete(fs.target(name, fd), streamAttr(list[j].Name)); err != nil {
			return err
		}
		list = append(list[:j], list[j+1:]...)
		if j < i {
			i--
		}
	}
	data, err := fs.streamData(name, fd)
	if err != nil {
		return err
	}
	t := fs.target(name, fd)
	if err := fs.xattrSave(t, streamAttr(newStream), data); err != nil {
		return err
	}
	if err := fs.xattrDelete(t, streamAttr(list[i].Name)); err != nil {
		return err
	}
	list[i].Name = newStream
	if err := fs.saveStreams(name, fd, list); err != nil {
		return err
	}
	name.StreamName = newStream
	name.StreamID = streamID(newStream)
	return nil
}

// streamInfo lists the data streams of a file, the unnamed one first.
func (fs *FS) streamInfo(name *Filename, fd int) ([]ntvfs.StreamInfo, error) {
	var out []ntvfs.StreamInfo
	if !name.St.IsDir() {
		size := uint64(name.St.Size)
		out = append(out, ntvfs.StreamInfo{Name: "::$DATA", Size: size, AllocSize: fs.roundAlloc(size)})
	}
	if !fs.opts.Streams || !fs.opts.EA {
		return out, nil
	}
	list, err := fs.loadStreams(name, fd)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		out = append(out, ntvfs.StreamInfo{
			Name:      ":" + s.Name + ":$DATA",
			Size:      s.Size,
			AllocSize: fs.roundAlloc(max(s.AllocSize, s.Size)),
		})
	}
	return out, nil
}
