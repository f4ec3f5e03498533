package decision

import (
	"fmt"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

// Inputs is everything a verdict depends on. Evaluate reads nothing else.
type Inputs struct {
	UID              domain.UID
	Class            domain.NetworkClass
	SystemUID        domain.UID
	Policy           domain.PolicySnapshot
	Process          domain.ProcessState
	RestrictedBypass bool
}

// evaluation carries state between rules of a single pass.
type evaluation struct {
	in          Inputs
	powerExempt bool
}

// rule inspects the evaluation and either matches with a reason or passes.
type rule struct {
	name  string
	match func(ev *evaluation) (domain.ReasonCode, bool)
}

// rules is evaluated top to bottom; the first match wins.
var rules = []rule{
	{"system", func(ev *evaluation) (domain.ReasonCode, bool) {
		return domain.AllowedSystem, ev.in.UID == ev.in.SystemUID
	}},
	{"restricted_networking", func(ev *evaluation) (domain.ReasonCode, bool) {
		on := ev.in.Policy.Enabled(domain.RestrictedNetworking)
		return domain.BlockedRestrictedMode, on && !ev.in.RestrictedBypass
	}},
	{"battery_saver", func(ev *evaluation) (domain.ReasonCode, bool) {
		if !ev.in.Policy.Enabled(domain.BatterySaver) {
			return 0, false
		}
		if ev.in.Policy.Contains(domain.BatterySaver, domain.Allow, ev.in.UID) {
			ev.powerExempt = true
			return 0, false
		}
		return domain.BlockedPower, true
	}},
	{"background_restriction", func(ev *evaluation) (domain.ReasonCode, bool) {
		if !ev.in.Policy.Enabled(domain.BackgroundRestriction) {
			return 0, false
		}
		if ev.in.Policy.Contains(domain.BatterySaver, domain.Allow, ev.in.UID) {
			return 0, false
		}
		return domain.BlockedPower, ev.in.Process.Below(domain.TopSleeping)
	}},
	{"non_metered", func(ev *evaluation) (domain.ReasonCode, bool) {
		return domain.AllowedNonMetered, ev.in.Class == domain.NonMetered
	}},
	{"data_saver", func(ev *evaluation) (domain.ReasonCode, bool) {
		p := ev.in.Policy
		if !p.Enabled(domain.DataSaver) || ev.powerExempt {
			return 0, false
		}
		switch {
		case p.Contains(domain.DataSaver, domain.Deny, ev.in.UID):
			return domain.BlockedDenylist, true
		case p.Contains(domain.DataSaver, domain.Allow, ev.in.UID):
			return domain.AllowedAllowlist, true
		case ev.in.Process.AtOrAbove(domain.BoundForegroundService):
			return domain.AllowedTmpAllowlist, true
		default:
			return domain.BlockedBgRestrict, true
		}
	}},
}

// Evaluate returns the verdict for in. It is deterministic and never blocks.
// Panics when in.Policy is the zero snapshot or in.Class or in.Process is unknown.
func Evaluate(in Inputs) domain.Verdict {
	v, _ := evaluate(in)
	return v
}

// evaluate also returns the name of the matching rule ("default" if none).
func evaluate(in Inputs) (domain.Verdict, string) {
	mustBeEvaluable(in)

	ev := evaluation{in: in}
	for _, r := range rules {
		if reason, ok := r.match(&ev); ok {
			return domain.NewVerdict(reason), r.name
		}
	}
	return domain.NewVerdict(domain.AllowedDefault), "default"
}

// RestrictedOnMeteredNetworks reports whether in.UID would be blocked on a
// metered network purely because it is in the background under data saver.
func RestrictedOnMeteredNetworks(in Inputs) bool {
	if !in.Policy.Valid() {
		panic("decision: evaluating against an invalid policy snapshot")
	}
	in.Process.MustBeValid()
	return in.Policy.Enabled(domain.DataSaver) &&
		!in.Policy.Contains(domain.DataSaver, domain.Allow, in.UID) &&
		in.Process.Below(domain.BoundForegroundService)
}

func mustBeEvaluable(in Inputs) {
	if !in.Policy.Valid() {
		panic("decision: evaluating against an invalid policy snapshot")
	}
	in.Class.MustBeValid()
	in.Process.MustBeValid()
}

// String renders in for logging.
func (in Inputs) String() string {
	return fmt.Sprintf("uid=%s class=%s process=%s bypass=%t version=%d",
		in.UID, in.Class, in.Process, in.RestrictedBypass, in.Policy.Version())
}
