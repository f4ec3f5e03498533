package decision

import "github.com/haukened/netpolicyd/internal/netpolicy/domain"

// PolicySource provides the current immutable policy view.
type PolicySource interface {
	Snapshot() domain.PolicySnapshot
}

// ImportanceSource provides a UID's effective (debounced) process state.
type ImportanceSource interface {
	Snapshot(uid domain.UID) domain.ProcessState
}

// CapabilityChecker answers whether a UID may keep networking while
// restricted networking mode is on. The engine only queries it.
type CapabilityChecker interface {
	HasRestrictedNetworkingBypass(uid domain.UID) bool
}
