package domain

import (
	"fmt"
	"strings"
)

// GlobalMode identifies a device-wide restriction policy. Modes are
// independent; any subset may be enabled at once.
type GlobalMode uint8

const (
	// DataSaver restricts background traffic on metered networks.
	DataSaver GlobalMode = iota
	// BatterySaver restricts all traffic for UIDs outside its allow-list.
	BatterySaver
	// RestrictedNetworking blocks every UID lacking the bypass capability.
	RestrictedNetworking
	// BackgroundRestriction blocks all traffic for UIDs that have left the
	// foreground, unless they are on the battery saver allow-list.
	BackgroundRestriction

	modeCount
)

// ModeCount is the number of defined global modes.
const ModeCount = int(modeCount)

// GlobalModes lists every mode in declaration order.
var GlobalModes = []GlobalMode{DataSaver, BatterySaver, RestrictedNetworking, BackgroundRestriction}

// String returns a stable string representation of the mode.
func (m GlobalMode) String() string {
	switch m {
	case DataSaver:
		return "data_saver"
	case BatterySaver:
		return "battery_saver"
	case RestrictedNetworking:
		return "restricted_networking"
	case BackgroundRestriction:
		return "background_restriction"
	default:
		return fmt.Sprintf("GlobalMode(%d)", m)
	}
}

// Valid reports whether m is a known mode.
func (m GlobalMode) Valid() bool { return m < modeCount }

// ParseGlobalMode converts a string into a GlobalMode (case-insensitive, '-' and '_' are equivalent).
func ParseGlobalMode(s string) (GlobalMode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "data_saver", "restrict_background":
		return DataSaver, nil
	case "battery_saver", "power_saver":
		return BatterySaver, nil
	case "restricted_networking", "restricted_mode":
		return RestrictedNetworking, nil
	case "background_restriction", "background":
		return BackgroundRestriction, nil
	default:
		return 0, fmt.Errorf("unsupported GlobalMode: %q", s)
	}
}

// ListKind selects a mode's allow-list or deny-list.
type ListKind uint8

const (
	// Allow exempts a UID from a mode's default effect.
	Allow ListKind = iota
	// Deny forces a UID into a mode's restriction.
	Deny

	listKindCount
)

// String returns a stable string representation of the list kind.
func (k ListKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("ListKind(%d)", k)
	}
}

// Opposite returns the other list of the same mode.
func (k ListKind) Opposite() ListKind {
	if k == Allow {
		return Deny
	}
	return Allow
}

// ParseListKind converts a string into a ListKind.
// Accepts: "allow", "deny", "allowlist", "denylist" (case-insensitive).
func ParseListKind(s string) (ListKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "allowlist":
		return Allow, nil
	case "deny", "denylist":
		return Deny, nil
	default:
		return 0, fmt.Errorf("unsupported ListKind: %q", s)
	}
}

// HasList reports whether mode m owns a list of kind k.
//
// data_saver     - allow, deny
// battery_saver  - allow (also exempts from background_restriction)
// others         - none; restricted networking defers to the capability check
func HasList(m GlobalMode, k ListKind) bool {
	switch m {
	case DataSaver:
		return k == Allow || k == Deny
	case BatterySaver:
		return k == Allow
	default:
		return false
	}
}

// MustHaveList panics when (m, k) is not a valid combination.
func MustHaveList(m GlobalMode, k ListKind) {
	if !m.Valid() || k >= listKindCount || !HasList(m, k) {
		panic(fmt.Sprintf("domain: mode %s has no %s list", m, k))
	}
}

// MustBeValid panics when m is not a known mode.
func (m GlobalMode) MustBeValid() {
	if !m.Valid() {
		panic(fmt.Sprintf("domain: invalid global mode %d", m))
	}
}
