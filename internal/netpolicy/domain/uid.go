package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// UID is the numeric identity of an application principal.
type UID int32

// AllUIDs is the wildcard identity. It is used to subscribe to every change and
// as the subject of device-wide events (global mode toggles).
const AllUIDs UID = -1

// DefaultSystemUID is the privileged system identity used when none is configured.
const DefaultSystemUID UID = 1000

// IsWildcard reports whether u is the AllUIDs wildcard.
func (u UID) IsWildcard() bool { return u == AllUIDs }

// String returns the decimal form of the UID, or "*" for the wildcard.
func (u UID) String() string {
	if u.IsWildcard() {
		return "*"
	}
	return strconv.FormatInt(int64(u), 10)
}

// ParseUID converts a decimal string into a UID. Negative values are rejected;
// the wildcard is never a valid subject for a decision.
func ParseUID(s string) (UID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uid %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid uid %q: must not be negative", s)
	}
	return UID(n), nil
}
