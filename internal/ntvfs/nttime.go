package ntvfs

import "time"

// NTTime counts 100ns intervals since 1601-01-01 UTC.
type NTTime uint64

const ntEpochDelta = 116444736000000000

// NTTimeFrom converts a wall clock time. The zero time maps to 0.
func NTTimeFrom(t time.Time) NTTime {
	if t.IsZero() {
		return 0
	}
	return NTTime(t.UnixNano()/100 + ntEpochDelta)
}

// Time converts back to wall clock time.
func (t NTTime) Time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	ns := (int64(t) - ntEpochDelta) * 100
	return time.Unix(0, ns)
}

// IsSet reports whether t carries a value. Both 0 and all-ones mean "leave
// unchanged" in set-info requests.
func (t NTTime) IsSet() bool {
	return t != 0 && t != ^NTTime(0)
}
