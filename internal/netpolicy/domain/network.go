package domain

import (
	"fmt"
	"strings"
)

// NetworkClass is the metered attribute of the network being evaluated.
type NetworkClass uint8

const (
	// Metered networks are billed or limited and subject to data saver.
	Metered NetworkClass = iota
	// NonMetered networks are only subject to device-wide restrictions.
	NonMetered
)

// NetworkClasses lists every valid class in evaluation order.
var NetworkClasses = []NetworkClass{Metered, NonMetered}

// String returns a stable string representation of the class.
func (c NetworkClass) String() string {
	switch c {
	case Metered:
		return "metered"
	case NonMetered:
		return "non_metered"
	default:
		return fmt.Sprintf("NetworkClass(%d)", c)
	}
}

// Valid reports whether c is a known class.
func (c NetworkClass) Valid() bool { return c == Metered || c == NonMetered }

// ParseNetworkClass converts a string into a NetworkClass.
// Accepts: "metered", "non_metered", "non-metered", "unmetered" (case-insensitive).
func ParseNetworkClass(s string) (NetworkClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "metered":
		return Metered, nil
	case "non_metered", "non-metered", "unmetered":
		return NonMetered, nil
	default:
		return 0, fmt.Errorf("unsupported NetworkClass: %q", s)
	}
}

// MustBeValid panics when c is not a known class.
func (c NetworkClass) MustBeValid() {
	if !c.Valid() {
		panic(fmt.Sprintf("domain: invalid network class %d", c))
	}
}
