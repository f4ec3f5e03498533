package domain

import "fmt"

// ReasonCode identifies the rule that produced a verdict. The set is closed:
// every verdict carries exactly one of these.
type ReasonCode uint8

const (
	AllowedSystem ReasonCode = iota
	BlockedRestrictedMode
	BlockedPower
	AllowedNonMetered
	BlockedDenylist
	AllowedAllowlist
	AllowedTmpAllowlist
	BlockedBgRestrict
	AllowedDefault

	reasonCount
)

// ReasonCodes lists every reason in rule precedence order.
var ReasonCodes = []ReasonCode{
	AllowedSystem,
	BlockedRestrictedMode,
	BlockedPower,
	AllowedNonMetered,
	BlockedDenylist,
	AllowedAllowlist,
	AllowedTmpAllowlist,
	BlockedBgRestrict,
	AllowedDefault,
}

var reasonNames = [reasonCount]string{
	AllowedSystem:         "allowed_system",
	BlockedRestrictedMode: "blocked_restricted_mode",
	BlockedPower:          "blocked_power",
	AllowedNonMetered:     "allowed_non_metered",
	BlockedDenylist:       "blocked_denylist",
	AllowedAllowlist:      "allowed_allowlist",
	AllowedTmpAllowlist:   "allowed_tmp_allowlist",
	BlockedBgRestrict:     "blocked_bg_restrict",
	AllowedDefault:        "allowed_default",
}

// String returns a stable string representation of the reason.
func (r ReasonCode) String() string {
	if r < reasonCount {
		return reasonNames[r]
	}
	return fmt.Sprintf("ReasonCode(%d)", r)
}

// Blocked reports whether the reason denotes a blocking rule.
func (r ReasonCode) Blocked() bool {
	switch r {
	case BlockedRestrictedMode, BlockedPower, BlockedDenylist, BlockedBgRestrict:
		return true
	default:
		return false
	}
}

// Verdict is the outcome of evaluating a UID against the current policies.
// Pure value type, no external dependencies.
type Verdict struct {
	Blocked bool
	Reason  ReasonCode
}

// NewVerdict builds the verdict implied by reason.
func NewVerdict(reason ReasonCode) Verdict {
	return Verdict{Blocked: reason.Blocked(), Reason: reason}
}

// String renders the verdict as "blocked(reason)" or "allowed(reason)".
func (v Verdict) String() string {
	if v.Blocked {
		return "blocked(" + v.Reason.String() + ")"
	}
	return "allowed(" + v.Reason.String() + ")"
}
