package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a ChangeEvent.
type ChangeKind uint8

const (
	// ModeChanged is emitted when a global mode flag flips. Its UID is AllUIDs.
	ModeChanged ChangeKind = iota
	// ListChanged is emitted when a UID joins or leaves a mode list.
	ListChanged
	// ImportanceChanged is emitted when a UID's effective process state changes.
	ImportanceChanged
)

// String returns a stable string representation of the kind.
func (k ChangeKind) String() string {
	switch k {
	case ModeChanged:
		return "mode"
	case ListChanged:
		return "list"
	case ImportanceChanged:
		return "importance"
	default:
		return fmt.Sprintf("ChangeKind(%d)", k)
	}
}

// ChangeEvent describes one effective mutation of policy or importance state.
//
// Fields are populated according to Kind:
// - ModeChanged: Mode, Present (new flag value)
// - ListChanged: UID, Mode, List, Present (membership after the change)
// - ImportanceChanged: UID, State (new effective state)
//
// Policy events also carry the Version of the PolicySnapshot they produced.
// Events of one mode are published in version order; events of different
// modes may be published out of order, and Version restores the order in
// which they took effect. Importance events have Version 0.
type ChangeEvent struct {
	ID      uuid.UUID
	Kind    ChangeKind
	UID     UID
	Mode    GlobalMode
	List    ListKind
	Present bool
	State   ProcessState
	Version uint64
	At      time.Time
}

// Affects reports whether the event may change verdicts for uid.
func (e ChangeEvent) Affects(uid UID) bool {
	return e.UID.IsWildcard() || uid.IsWildcard() || e.UID == uid
}

// NewModeEvent builds a device-wide ModeChanged event.
func NewModeEvent(m GlobalMode, enabled bool, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: ModeChanged, UID: AllUIDs, Mode: m, Present: enabled, At: at}
}

// NewListEvent builds a ListChanged event.
func NewListEvent(m GlobalMode, k ListKind, uid UID, present bool, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: ListChanged, UID: uid, Mode: m, List: k, Present: present, At: at}
}

// NewImportanceEvent builds an ImportanceChanged event.
func NewImportanceEvent(uid UID, state ProcessState, at time.Time) ChangeEvent {
	return ChangeEvent{Kind: ImportanceChanged, UID: uid, State: state, At: at}
}
