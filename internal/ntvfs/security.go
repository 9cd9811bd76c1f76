package ntvfs

import (
	"fmt"
	"strconv"
	"strings"
)

// SID is a security identifier.
type SID struct {
	Revision  uint8
	Authority uint64
	SubAuths  []uint32
}

// Well-known principals.
var (
	SIDWorld         = SID{Revision: 1, Authority: 1, SubAuths: []uint32{0}}
	SIDCreatorOwner  = SID{Revision: 1, Authority: 3, SubAuths: []uint32{0}}
	SIDCreatorGroup  = SID{Revision: 1, Authority: 3, SubAuths: []uint32{1}}
	SIDAuthenticated = SID{Revision: 1, Authority: 5, SubAuths: []uint32{11}}
	SIDSystem        = SID{Revision: 1, Authority: 5, SubAuths: []uint32{18}}
	SIDBuiltinAdmins = SID{Revision: 1, Authority: 5, SubAuths: []uint32{32, 544}}
)

// String formats the SID in S-R-A-S1-S2 notation.
func (s SID) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", s.Revision, s.Authority)
	for _, sa := range s.SubAuths {
		fmt.Fprintf(&b, "-%d", sa)
	}
	return b.String()
}

// Equal compares two SIDs.
func (s SID) Equal(o SID) bool {
	if s.Revision != o.Revision || s.Authority != o.Authority || len(s.SubAuths) != len(o.SubAuths) {
		return false
	}
	for i := range s.SubAuths {
		if s.SubAuths[i] != o.SubAuths[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether s is the empty SID.
func (s SID) IsZero() bool {
	return s.Revision == 0 && s.Authority == 0 && len(s.SubAuths) == 0
}

// ParseSID parses S-R-A-S1-... notation.
func ParseSID(str string) (SID, error) {
	parts := strings.Split(str, "-")
	if len(parts) < 3 || !strings.EqualFold(parts[0], "S") {
		return SID{}, fmt.Errorf("invalid sid %q", str)
	}
	rev, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return SID{}, fmt.Errorf("invalid sid revision %q", str)
	}
	auth, err := strconv.ParseUint(parts[2], 10, 48)
	if err != nil {
		return SID{}, fmt.Errorf("invalid sid authority %q", str)
	}
	if len(parts)-3 > 15 {
		return SID{}, fmt.Errorf("too many sub-authorities in %q", str)
	}
	sid := SID{Revision: uint8(rev), Authority: auth}
	for _, p := range parts[3:] {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return SID{}, fmt.Errorf("invalid sub-authority in %q", str)
		}
		sid.SubAuths = append(sid.SubAuths, uint32(v))
	}
	return sid, nil
}

// MustParseSID is ParseSID for constants.
func MustParseSID(str string) SID {
	sid, err := ParseSID(str)
	if err != nil {
		panic(err)
	}
	return sid
}

// ACE types.
const (
	ACETypeAccessAllowed uint8 = 0
	ACETypeAccessDenied  uint8 = 1
	ACETypeSystemAudit   uint8 = 2
)

// ACE flags.
const (
	ACEObjectInherit      uint8 = 0x01
	ACEContainerInherit   uint8 = 0x02
	ACENoPropagateInherit uint8 = 0x04
	ACEInheritOnly        uint8 = 0x08
	ACEInherited          uint8 = 0x10

	ACEInheritFlags = ACEObjectInherit | ACEContainerInherit | ACENoPropagateInherit | ACEInheritOnly
)

// ACE is one access control entry.
type ACE struct {
	Type       uint8
	Flags      uint8
	AccessMask uint32
	Trustee    SID
}

// ACL is an ordered list of entries.
type ACL struct {
	Revision uint16
	ACEs     []ACE
}

// Security descriptor control bits.
const (
	SDOwnerDefaulted  uint16 = 0x0001
	SDGroupDefaulted  uint16 = 0x0002
	SDDACLPresent     uint16 = 0x0004
	SDDACLDefaulted   uint16 = 0x0008
	SDSACLPresent     uint16 = 0x0010
	SDDACLAutoInherit uint16 = 0x0400
	SDDACLProtected   uint16 = 0x1000
	SDSelfRelative    uint16 = 0x8000
)

// SecurityDescriptor is an NT security descriptor. Nil fields are absent.
type SecurityDescriptor struct {
	Revision uint8
	Control  uint16
	Owner    *SID
	Group    *SID
	DACL     *ACL
	SACL     *ACL
}

// Clone returns a deep copy.
func (sd *SecurityDescriptor) Clone() *SecurityDescriptor {
	if sd == nil {
		return nil
	}
	out := &SecurityDescriptor{Revision: sd.Revision, Control: sd.Control}
	if sd.Owner != nil {
		o := cloneSID(*sd.Owner)
		out.Owner = &o
	}
	if sd.Group != nil {
		g := cloneSID(*sd.Group)
		out.Group = &g
	}
	out.DACL = cloneACL(sd.DACL)
	out.SACL = cloneACL(sd.SACL)
	return out
}

func cloneSID(s SID) SID {
	s.SubAuths = append([]uint32(nil), s.SubAuths...)
	return s
}

func cloneACL(a *ACL) *ACL {
	if a == nil {
		return nil
	}
	out := &ACL{Revision: a.Revision, ACEs: make([]ACE, len(a.ACEs))}
	for i, ace := range a.ACEs {
		ace.Trustee = cloneSID(ace.Trustee)
		out.ACEs[i] = ace
	}
	return out
}

// Token is the set of principals a caller acts as.
type Token struct {
	User   SID
	Groups []SID
	Privs  Privilege
}

// Contains reports whether sid is the user or one of the groups.
func (t *Token) Contains(sid SID) bool {
	if t.User.Equal(sid) {
		return true
	}
	for _, g := range t.Groups {
		if g.Equal(sid) {
			return true
		}
	}
	return false
}
