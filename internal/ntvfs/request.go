package ntvfs

import (
	"context"
	"sync"
	"time"

	"pvfs/internal/common"
)

// ErrPending is returned by an operation that has suspended itself. The final
// result is delivered later through Request.OnComplete.
var ErrPending error = common.StatusPending

// Privilege is a bit set of administrative rights held by the caller.
type Privilege uint32

const (
	PrivBackup Privilege = 1 << iota
	PrivRestore
	PrivTakeOwnership
	PrivSecurity
)

// Identity is the calling principal as established by session setup.
type Identity struct {
	UID        uint32
	GID        uint32
	Groups     []uint32
	Privileges Privilege
}

// Has reports whether the identity holds all of p.
func (id *Identity) Has(p Privilege) bool {
	return id.Privileges&p == p
}

// IsRoot reports whether the identity is the local superuser.
func (id *Identity) IsRoot() bool {
	return id.UID == 0
}

// InGroup reports whether gid is the primary or a supplementary group.
func (id *Identity) InGroup(gid uint32) bool {
	if id.GID == gid {
		return true
	}
	for _, g := range id.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// Request carries the per-call context an operation needs: who is calling,
// which session and process the call belongs to, and how an asynchronous
// result is delivered.
type Request struct {
	Ctx       context.Context
	Identity  Identity
	SessionID uint64
	SMBPid    uint32
	Start     time.Time

	// AsyncAllowed is set when the caller accepts a pending reply.
	AsyncAllowed bool
	// Level2Oplocks is set when the client supports level II oplocks.
	Level2Oplocks bool
	// OnComplete receives the result of a suspended operation, exactly once.
	// result is the value the synchronous call would have returned, such as
	// an *OpenResult, or nil.
	OnComplete func(result any, err error)

	mu        sync.Mutex
	async     bool
	replaying bool
	completed bool
}

// NewRequest returns a request stamped with the current time.
func NewRequest(ctx context.Context, id Identity, session uint64, smbpid uint32) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{
		Ctx:       ctx,
		Identity:  id,
		SessionID: session,
		SMBPid:    smbpid,
		Start:     time.Now(),
	}
}

// CanSuspend reports whether the operation may park itself and reply later.
// A replayed attempt may park again; doing so marks the request async anew,
// which is how the replaying side tells a fresh suspension from a result.
func (r *Request) CanSuspend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.AsyncAllowed && !r.completed
}

// Replaying reports whether the current attempt is a replay.
func (r *Request) Replaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaying
}

// MarkAsync records that the request is now pending.
func (r *Request) MarkAsync() {
	r.mu.Lock()
	r.async = true
	r.mu.Unlock()
}

// IsAsync reports whether the request has been suspended.
func (r *Request) IsAsync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.async
}

// BeginReplay clears the async mark before a replayed attempt, so that the
// attempt parking itself again shows up as IsAsync. The returned func ends
// the replay.
func (r *Request) BeginReplay() func() {
	r.mu.Lock()
	r.async = false
	r.replaying = true
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.replaying = false
		r.mu.Unlock()
	}
}

// Complete delivers the terminal result of a suspended request. Calls after
// the first are ignored.
func (r *Request) Complete(result any, err error) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.completed = true
	fn := r.OnComplete
	r.mu.Unlock()
	if fn != nil {
		fn(result, err)
	}
}

// Completed reports whether Complete has run.
func (r *Request) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}
