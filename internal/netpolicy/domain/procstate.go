package domain

import (
	"fmt"
	"strings"
)

// ProcessState is the importance of a UID's process, ordered from most to
// least important. Lower values are more foreground.
type ProcessState uint8

const (
	// Top is a visible, focused activity.
	Top ProcessState = iota
	// TopSleeping is a top activity while the device is asleep.
	TopSleeping
	// BoundForegroundService covers bound foreground services and anything
	// more important that is not top.
	BoundForegroundService
	// Background is every less important state, and the state of unknown UIDs.
	Background

	processStateCount
)

// String returns a stable string representation of the state.
func (s ProcessState) String() string {
	switch s {
	case Top:
		return "top"
	case TopSleeping:
		return "top_sleeping"
	case BoundForegroundService:
		return "bound_foreground_service"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("ProcessState(%d)", s)
	}
}

// Valid reports whether s is a known state.
func (s ProcessState) Valid() bool { return s < processStateCount }

// MustBeValid panics when s is not a known state.
func (s ProcessState) MustBeValid() {
	if !s.Valid() {
		panic(fmt.Sprintf("domain: invalid process state %d", s))
	}
}

// MoreImportantThan reports whether s is strictly more foreground than o.
func (s ProcessState) MoreImportantThan(o ProcessState) bool { return s < o }

// Below reports whether s is strictly less important than threshold.
func (s ProcessState) Below(threshold ProcessState) bool { return s > threshold }

// AtOrAbove reports whether s is threshold or more important.
func (s ProcessState) AtOrAbove(threshold ProcessState) bool { return s <= threshold }

// ParseProcessState converts a string into a ProcessState (case-insensitive).
func ParseProcessState(s string) (ProcessState, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "top":
		return Top, nil
	case "top_sleeping":
		return TopSleeping, nil
	case "bound_foreground_service", "bfgs", "foreground_service":
		return BoundForegroundService, nil
	case "background", "bg":
		return Background, nil
	default:
		return 0, fmt.Errorf("unsupported ProcessState: %q", s)
	}
}
