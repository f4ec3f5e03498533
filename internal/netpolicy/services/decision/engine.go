package decision

import (
	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
)

// Engine answers verdict queries against live policy and importance state.
type Engine struct {
	policy     PolicySource
	importance ImportanceSource
	capability CapabilityChecker
	systemUID  domain.UID
	logger     log.Logger
	recorder   metrics.Recorder
}

type EngineOptions struct {
	Policy     PolicySource
	Importance ImportanceSource
	// Capability may be nil, in which case no UID bypasses restricted networking.
	Capability CapabilityChecker
	SystemUID  domain.UID
	Logger     log.Logger
	Recorder   metrics.Recorder
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		policy:     opts.Policy,
		importance: opts.Importance,
		capability: opts.Capability,
		systemUID:  opts.SystemUID,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
	}
	if e.logger == nil {
		e.logger = log.NewNoopLogger()
	}
	if e.recorder == nil {
		e.recorder = metrics.NewNoop()
	}
	return e
}

// Decide evaluates uid on a network of the given class. Panics on an unknown class.
func (e *Engine) Decide(uid domain.UID, class domain.NetworkClass) domain.Verdict {
	class.MustBeValid()

	in := e.inputs(uid, class)
	v, rule := evaluate(in)
	e.recorder.ObserveDecision(class, v.Reason)
	e.logger.Debug(map[string]any{
		"inputs":  in.String(),
		"rule":    rule,
		"verdict": v.String(),
	}, "Evaluated network policy")
	return v
}

// IsRestrictedOnMeteredNetworks reports whether uid is currently held back on
// metered networks by data saver because it is in the background.
func (e *Engine) IsRestrictedOnMeteredNetworks(uid domain.UID) bool {
	return RestrictedOnMeteredNetworks(e.inputs(uid, domain.Metered))
}

func (e *Engine) inputs(uid domain.UID, class domain.NetworkClass) Inputs {
	in := Inputs{
		UID:       uid,
		Class:     class,
		SystemUID: e.systemUID,
		Policy:    e.policy.Snapshot(),
		Process:   e.importance.Snapshot(uid),
	}
	// The capability collaborator is only consulted when its answer matters.
	if e.capability != nil && uid != e.systemUID && in.Policy.Enabled(domain.RestrictedNetworking) {
		in.RestrictedBypass = e.capability.HasRestrictedNetworkingBypass(uid)
	}
	return in
}
