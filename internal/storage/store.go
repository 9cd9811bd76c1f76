// Copyright 2024 pvfs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists named attribute blobs for files of the share,
// either as native extended attributes or in a side database keyed by
// device and inode.
package storage

import (
	"fmt"

	"pvfs/internal/common"
)

// ErrNoAttr is returned when a named attribute does not exist. Callers fall
// back to defaults.
var ErrNoAttr = common.ErrNoAttr

// Target identifies the file an attribute belongs to. Native stores use Fd
// when it is valid and Path otherwise; side databases use Dev and Ino.
type Target struct {
	Path string
	Fd   int
	Dev  uint64
	Ino  uint64
}

// PathTarget addresses a file by path.
func PathTarget(path string, dev, ino uint64) Target {
	return Target{Path: path, Fd: -1, Dev: dev, Ino: ino}
}

// FdTarget addresses a file through an open descriptor.
func FdTarget(fd int, path string, dev, ino uint64) Target {
	return Target{Path: path, Fd: fd, Dev: dev, Ino: ino}
}

func (t Target) String() string {
	return fmt.Sprintf("%s(%x:%x)", t.Path, t.Dev, t.Ino)
}

// XattrStore stores attribute blobs.
type XattrStore interface {
	Get(t Target, name string) ([]byte, error)
	Set(t Target, name string, value []byte) error
	// Remove deletes one attribute. A missing attribute yields ErrNoAttr.
	Remove(t Target, name string) error
	List(t Target) ([]string, error)
	// DeleteAll drops every attribute of the file. Native stores have
	// nothing to do since the attributes vanish with the inode.
	DeleteAll(t Target) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNative = "native"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open returns the store for backend. Side databases live at dbPath.
func Open(backend, dbPath string) (XattrStore, error) {
	switch backend {
	case BackendNative, "":
		return NewNativeStore(), nil
	case BackendSQLite:
		return OpenSQLStore(dbPath, DBContextDaemon)
	case BackendBadger:
		return OpenBadgerStore(dbPath)
	}
	return nil, fmt.Errorf("unknown xattr backend %q", backend)
}
