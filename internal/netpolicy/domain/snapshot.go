package domain

import (
	"sort"
)

type uidSet map[UID]struct{}

// PolicySnapshot is an immutable view of the global mode flags and every
// per-mode list. Updates go through WithMode and WithMembership, which return a
// new snapshot and share every list they did not touch.
//
// The zero value is not a usable snapshot; see Valid.
type PolicySnapshot struct {
	valid   bool
	version uint64
	modes   [modeCount]bool
	lists   [modeCount][listKindCount]uidSet
}

// NewPolicySnapshot returns an empty, valid snapshot at version 0 with every mode off.
func NewPolicySnapshot() PolicySnapshot {
	return PolicySnapshot{valid: true}
}

// Valid reports whether the snapshot was produced by NewPolicySnapshot or derived from one.
func (s PolicySnapshot) Valid() bool { return s.valid }

// Version increases by one on every effective change.
func (s PolicySnapshot) Version() uint64 { return s.version }

// Enabled reports whether mode m is on.
func (s PolicySnapshot) Enabled(m GlobalMode) bool {
	m.MustBeValid()
	return s.modes[m]
}

// Contains reports whether uid is a member of mode m's list k.
func (s PolicySnapshot) Contains(m GlobalMode, k ListKind, uid UID) bool {
	MustHaveList(m, k)
	_, ok := s.lists[m][k][uid]
	return ok
}

// Members returns the sorted members of mode m's list k.
func (s PolicySnapshot) Members(m GlobalMode, k ListKind) []UID {
	MustHaveList(m, k)
	set := s.lists[m][k]
	out := make([]UID, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Listed returns the sorted distinct UIDs that are a member of any list.
func (s PolicySnapshot) Listed() []UID {
	seen := make(uidSet)
	for m := range s.lists {
		for k := range s.lists[m] {
			for uid := range s.lists[m][k] {
				seen[uid] = struct{}{}
			}
		}
	}
	out := make([]UID, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithMode returns a snapshot with mode m set to enabled. The second result is
// false, and s is returned unchanged, when the flag already had that value.
func (s PolicySnapshot) WithMode(m GlobalMode, enabled bool) (PolicySnapshot, bool) {
	m.MustBeValid()
	if s.modes[m] == enabled {
		return s, false
	}
	next := s
	next.modes[m] = enabled
	next.version++
	return next, true
}

// WithMembership returns a snapshot where uid is (present=true) or is not a
// member of mode m's list k. The second result is false when membership was
// already as requested. Only the touched list is copied.
func (s PolicySnapshot) WithMembership(m GlobalMode, k ListKind, uid UID, present bool) (PolicySnapshot, bool) {
	MustHaveList(m, k)
	cur := s.lists[m][k]
	if _, ok := cur[uid]; ok == present {
		return s, false
	}
	set := make(uidSet, len(cur)+1)
	for u := range cur {
		set[u] = struct{}{}
	}
	if present {
		set[uid] = struct{}{}
	} else {
		delete(set, uid)
	}
	next := s
	next.lists[m][k] = set
	next.version++
	return next, true
}
