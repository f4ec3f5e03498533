package enforcement

import (
	"context"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

// Enforcer permits or denies socket-level traffic. It is a pure consumer of verdicts.
type Enforcer interface {
	Apply(ctx context.Context, uid domain.UID, class domain.NetworkClass, v domain.Verdict) error
}

// Decider produces verdicts from live state.
type Decider interface {
	Decide(uid domain.UID, class domain.NetworkClass) domain.Verdict
}

// Key identifies one enforced verdict.
type Key struct {
	UID   domain.UID
	Class domain.NetworkClass
}

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity  int    // configured capacity (0 for disabled cache)
	Size      int    // current number of entries
	Hits      uint64 // total cache hits since construction
	Misses    uint64 // total cache misses since construction
	Evictions uint64 // total evictions since construction
}

// VerdictCache remembers the last verdict pushed per key so unchanged
// verdicts are not pushed twice.
type VerdictCache interface {
	Get(k Key) (domain.Verdict, bool)
	Put(k Key, v domain.Verdict)
	// Forget drops every class cached for uid.
	Forget(uid domain.UID)
	Stats() CacheStats
}

// PolicySource provides the current policy view. Its list members are
// re-evaluated on device-wide events.
type PolicySource interface {
	Snapshot() domain.PolicySnapshot
}

// UIDLister lists UIDs with tracked process state.
type UIDLister interface {
	UIDs() []domain.UID
}
