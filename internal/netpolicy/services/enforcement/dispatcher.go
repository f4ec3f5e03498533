package enforcement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
)

// Dispatcher keeps the enforcer in step with the decision engine. It
// re-evaluates the UIDs a change event can affect and pushes only verdicts
// that differ from the last one pushed.
//
// The verdict cache is bounded and may be disabled, so it only suppresses
// duplicate pushes. The set of UIDs the enforcer holds a verdict for is kept
// separately and is what device-wide events re-evaluate.
type Dispatcher struct {
	decider  Decider
	enforcer Enforcer
	cache    VerdictCache
	policy   PolicySource
	tracked  UIDLister
	logger   log.Logger
	recorder metrics.Recorder

	mu     sync.Mutex
	pushed map[domain.UID]struct{}
}

type DispatcherOptions struct {
	Decider  Decider
	Enforcer Enforcer
	Cache    VerdictCache
	// Policy supplies list members, which are re-evaluated on device-wide
	// events even before their first push. Optional.
	Policy PolicySource
	// Tracked lists UIDs with importance state, treated like list members. Optional.
	Tracked  UIDLister
	Logger   log.Logger
	Recorder metrics.Recorder
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		decider:  opts.Decider,
		enforcer: opts.Enforcer,
		cache:    opts.Cache,
		policy:   opts.Policy,
		tracked:  opts.Tracked,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		pushed:   make(map[domain.UID]struct{}),
	}
	if d.logger == nil {
		d.logger = log.NewNoopLogger()
	}
	if d.recorder == nil {
		d.recorder = metrics.NewNoop()
	}
	return d
}

// Run handles events until ctx is cancelled or the stream closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := d.Handle(ctx, ev); err != nil {
				d.logger.Error(map[string]any{
					"event": ev.ID.String(),
					"kind":  ev.Kind.String(),
					"uid":   ev.UID.String(),
					"error": err.Error(),
				}, "Failed to enforce verdicts")
			}
		}
	}
}

// Handle reconciles every UID ev can affect.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	uids := []domain.UID{ev.UID}
	if ev.UID.IsWildcard() {
		uids = d.known()
	}

	var errs []error
	for _, uid := range uids {
		if err := d.reconcile(ctx, uid, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync evaluates uid on every network class and pushes the verdicts even if
// they match the last push.
func (d *Dispatcher) Sync(ctx context.Context, uid domain.UID) error {
	return d.reconcile(ctx, uid, true)
}

// Forget stops following uid once it no longer exists. Its cached verdicts
// are dropped and device-wide events no longer re-evaluate it unless it is
// listed or tracked. A later event for uid pushes afresh.
func (d *Dispatcher) Forget(uid domain.UID) {
	d.mu.Lock()
	delete(d.pushed, uid)
	d.mu.Unlock()
	d.cache.Forget(uid)
}

// Stats reports verdict cache counters.
func (d *Dispatcher) Stats() CacheStats { return d.cache.Stats() }

func (d *Dispatcher) reconcile(ctx context.Context, uid domain.UID, force bool) error {
	var errs []error
	for _, class := range domain.NetworkClasses {
		v := d.decider.Decide(uid, class)
		k := Key{UID: uid, Class: class}
		if !force {
			if last, ok := d.cache.Get(k); ok && last == v {
				continue
			}
		}
		if err := d.push(ctx, k, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) push(ctx context.Context, k Key, v domain.Verdict) error {
	err := d.enforcer.Apply(ctx, k.UID, k.Class, v)
	d.recorder.ObserveEnforcement(v, err)
	if err != nil {
		// Not cached, so the next event for this UID retries.
		return fmt.Errorf("apply %s to uid %s on %s: %w", v, k.UID, k.Class, err)
	}
	d.cache.Put(k, v)
	d.mu.Lock()
	d.pushed[k.UID] = struct{}{}
	d.mu.Unlock()
	d.logger.Debug(map[string]any{
		"uid":     k.UID.String(),
		"network": k.Class.String(),
		"verdict": v.String(),
	}, "Pushed verdict")
	return nil
}

// known returns the sorted union of pushed, listed and tracked UIDs.
func (d *Dispatcher) known() []domain.UID {
	d.mu.Lock()
	set := make(map[domain.UID]struct{}, len(d.pushed))
	for uid := range d.pushed {
		set[uid] = struct{}{}
	}
	d.mu.Unlock()

	if d.policy != nil {
		for _, uid := range d.policy.Snapshot().Listed() {
			set[uid] = struct{}{}
		}
	}
	if d.tracked != nil {
		for _, uid := range d.tracked.UIDs() {
			set[uid] = struct{}{}
		}
	}
	out := make([]domain.UID, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
