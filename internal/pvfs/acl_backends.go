package pvfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
	"pvfs/internal/storage"
)

// ACLBackend persists security descriptors. Load returns nil when the file
// has none stored.
type ACLBackend interface {
	Name() string
	Load(fs *FS, name *Filename, fd int) (*ntvfs.SecurityDescriptor, error)
	Save(fs *FS, name *Filename, fd int, sd *ntvfs.SecurityDescriptor) error
}

var (
	aclMu       sync.RWMutex
	aclBackends = map[string]ACLBackend{}
)

// RegisterACLBackend makes b selectable by name. Names are unique.
func RegisterACLBackend(b ACLBackend) error {
	aclMu.Lock()
	defer aclMu.Unlock()
	if _, dup := aclBackends[b.Name()]; dup {
		return fmt.Errorf("acl backend %q already registered", b.Name())
	}
	aclBackends[b.Name()] = b
	return nil
}

// LookupACLBackend returns the backend registered under name.
func LookupACLBackend(name string) (ACLBackend, error) {
	aclMu.RLock()
	defer aclMu.RUnlock()
	b, ok := aclBackends[name]
	if !ok {
		return nil, fmt.Errorf("unknown acl backend %q (have %v)", name, aclBackendNamesLocked())
	}
	return b, nil
}

// ACLBackendNames lists the registered backends.
func ACLBackendNames() []string {
	aclMu.RLock()
	defer aclMu.RUnlock()
	return aclBackendNamesLocked()
}

func aclBackendNamesLocked() []string {
	names := make([]string, 0, len(aclBackends))
	for n := range aclBackends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	for _, b := range []ACLBackend{xattrACL{}, jsonACL{}} {
		if err := RegisterACLBackend(b); err != nil {
			panic(err)
		}
	}
}

func loadACLBlob(fs *FS, name *Filename, fd int) ([]byte, error) {
	b, err := fs.xattrLoad(fs.target(name, fd), ntaclAttr())
	if errors.Is(err, storage.ErrNoAttr) {
		return nil, nil
	}
	return b, err
}

// xattrACL stores the binary descriptor layout.
type xattrACL struct{}

func (xattrACL) Name() string { return "xattr" }

func (xattrACL) Load(fs *FS, name *Filename, fd int) (*ntvfs.SecurityDescriptor, error) {
	b, err := loadACLBlob(fs, name, fd)
	if err != nil || b == nil {
		return nil, err
	}
	return decodeSD(b)
}

func (xattrACL) Save(fs *FS, name *Filename, fd int, sd *ntvfs.SecurityDescriptor) error {
	b, err := encodeSD(sd)
	if err != nil {
		return err
	}
	return fs.xattrSave(fs.target(name, fd), ntaclAttr(), b)
}

// jsonACL stores a readable descriptor, for shares whose attributes are
// inspected by other tools.
type jsonACL struct{}

type jsonSD struct {
	Version  int       `json:"version"`
	Revision uint8     `json:"revision"`
	Control  uint16    `json:"control"`
	Owner    string    `json:"owner,omitempty"`
	Group    string    `json:"group,omitempty"`
	HasDACL  bool      `json:"has_dacl"`
	DACL     []jsonACE `json:"dacl,omitempty"`
	HasSACL  bool      `json:"has_sacl"`
	SACL     []jsonACE `json:"sacl,omitempty"`
}

type jsonACE struct {
	Type    uint8  `json:"type"`
	Flags   uint8  `json:"flags"`
	Mask    uint32 `json:"mask"`
	Trustee string `json:"trustee"`
}

func (jsonACL) Name() string { return "json" }

func toJSONACEs(acl *ntvfs.ACL) []jsonACE {
	out := make([]jsonACE, 0, len(acl.ACEs))
	for _, a := range acl.ACEs {
		out = append(out, jsonACE{Type: a.Type, Flags: a.Flags, Mask: a.AccessMask, Trustee: a.Trustee.String()})
	}
	return out
}

func fromJSONACEs(aces []jsonACE) (*ntvfs.ACL, error) {
	acl := &ntvfs.ACL{Revision: 2, ACEs: make([]ntvfs.ACE, 0, len(aces))}
	for _, a := range aces {
		sid, err := ntvfs.ParseSID(a.Trustee)
		if err != nil {
			return nil, corrupt("json acl", err)
		}
		acl.ACEs = append(acl.ACEs, ntvfs.ACE{Type: a.Type, Flags: a.Flags, AccessMask: a.Mask, Trustee: sid})
	}
	return acl, nil
}

func (jsonACL) Load(fs *FS, name *Filename, fd int) (*ntvfs.SecurityDescriptor, error) {
	b, err := loadACLBlob(fs, name, fd)
	if err != nil || b == nil {
		return nil, err
	}
	var j jsonSD
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, corrupt("json acl", err)
	}
	if j.Version != int(sdBlobVersion) {
		return nil, corruptf("unknown json acl version %d", j.Version)
	}
	sd := &ntvfs.SecurityDescriptor{Revision: j.Revision, Control: j.Control}
	if j.Owner != "" {
		sid, err := ntvfs.ParseSID(j.Owner)
		if err != nil {
			return nil, corrupt("json acl", err)
		}
		sd.Owner = &sid
	}
	if j.Group != "" {
		sid, err := ntvfs.ParseSID(j.Group)
		if err != nil {
			return nil, corrupt("json acl", err)
		}
		sd.Group = &sid
	}
	if j.HasDACL {
		if sd.DACL, err = fromJSONACEs(j.DACL); err != nil {
			return nil, err
		}
	}
	if j.HasSACL {
		if sd.SACL, err = fromJSONACEs(j.SACL); err != nil {
			return nil, err
		}
	}
	return sd, nil
}

func (jsonACL) Save(fs *FS, name *Filename, fd int, sd *ntvfs.SecurityDescriptor) error {
	j := jsonSD{Version: int(sdBlobVersion), Revision: sd.Revision, Control: sd.Control}
	if sd.Owner != nil {
		j.Owner = sd.Owner.String()
	}
	if sd.Group != nil {
		j.Group = sd.Group.String()
	}
	if sd.DACL != nil {
		j.HasDACL = true
		j.DACL = toJSONACEs(sd.DACL)
	}
	if sd.SACL != nil {
		j.HasSACL = true
		j.SACL = toJSONACEs(sd.SACL)
	}
	b, err := json.Marshal(j)
	if err != nil {
		return common.WithStatus(err, common.StatusInvalidSecurityDescr)
	}
	return fs.xattrSave(fs.target(name, fd), ntaclAttr(), b)
}
