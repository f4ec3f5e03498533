package importance

import (
	"sort"
	"sync"
	"time"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
)

// Publisher receives one event per effective importance transition.
type Publisher interface {
	Publish(ev domain.ChangeEvent)
}

// Delays holds the debounce applied before a UID drops to a less important state.
type Delays struct {
	// Short applies when leaving BoundForegroundService.
	Short time.Duration
	// Long applies when leaving Top or TopSleeping.
	Long time.Duration
}

// For returns the debounce for leaving the effective state from.
func (d Delays) For(from domain.ProcessState) time.Duration {
	if from.AtOrAbove(domain.TopSleeping) {
		return d.Long
	}
	return d.Short
}

// Options configures a Tracker.
type Options struct {
	Delays    Delays
	Clock     clock.Clock
	Publisher Publisher
	Logger    log.Logger
	Recorder  metrics.Recorder
}

// Tracker records the effective (debounced) process state per UID.
//
// Promotions take effect at once. Demotions are scheduled on the clock and
// only become effective if nothing contradicts them before the delay
// elapses. Every entry has its own lock; both the timer callback and any
// cancelling report compare-and-clear the entry's pending transition under
// that lock, so each scheduled demotion is either applied once or cancelled.
type Tracker struct {
	entries  sync.Map // domain.UID -> *entry
	delays   Delays
	clock    clock.Clock
	pub      Publisher
	logger   log.Logger
	recorder metrics.Recorder
}

type entry struct {
	mu        sync.Mutex
	effective domain.ProcessState
	lastAt    time.Time
	pending   *transition
	removed   bool
}

type transition struct {
	target domain.ProcessState
	timer  clock.Timer
}

// New constructs a Tracker.
func New(opts Options) *Tracker {
	t := &Tracker{
		delays:   opts.Delays,
		clock:    opts.Clock,
		pub:      opts.Publisher,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if t.clock == nil {
		t.clock = clock.RealClock{}
	}
	if t.logger == nil {
		t.logger = log.NewNoopLogger()
	}
	if t.recorder == nil {
		t.recorder = metrics.NewNoop()
	}
	return t
}

// OnImportanceChanged records that uid moved to state at time at.
// Panics on an unknown state.
func (t *Tracker) OnImportanceChanged(uid domain.UID, state domain.ProcessState, at time.Time) {
	state.MustBeValid()

	e := t.lockEntry(uid)
	defer e.mu.Unlock()

	if at.Before(e.lastAt) {
		t.recorder.ObserveDebounce(metrics.DebounceStale)
		t.logger.Debug(map[string]any{
			"uid":   uid.String(),
			"state": state.String(),
			"at":    at,
			"last":  e.lastAt,
		}, "Ignoring stale importance report")
		return
	}
	e.lastAt = at

	switch {
	case state == e.effective:
		t.cancelPending(e)
	case state.MoreImportantThan(e.effective):
		t.cancelPending(e)
		t.apply(uid, e, state)
	default:
		t.schedule(uid, e, state, at)
	}
}

// schedule replaces any pending demotion with one to target. Must hold e.mu.
func (t *Tracker) schedule(uid domain.UID, e *entry, target domain.ProcessState, at time.Time) {
	t.cancelPending(e)

	delay := t.delays.For(e.effective)
	wait := at.Add(delay).Sub(t.clock.Now())
	if wait <= 0 {
		t.apply(uid, e, target)
		t.recorder.ObserveDebounce(metrics.DebounceApplied)
		return
	}

	p := &transition{target: target}
	p.timer = t.clock.AfterFunc(wait, func() { t.fire(uid, e, p) })
	e.pending = p
	t.recorder.ObserveDebounce(metrics.DebounceScheduled)

	t.logger.Debug(map[string]any{
		"uid":    uid.String(),
		"from":   e.effective.String(),
		"to":     target.String(),
		"wait":   wait.String(),
		"reason": "debounce",
	}, "Scheduled importance demotion")
}

// fire runs when a debounce timer elapses.
func (t *Tracker) fire(uid domain.UID, e *entry, p *transition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.pending != p {
		// Cancelled or replaced before we got the lock.
		return
	}
	e.pending = nil
	t.apply(uid, e, p.target)
	t.recorder.ObserveDebounce(metrics.DebounceApplied)
}

// cancelPending drops a scheduled demotion. Must hold e.mu.
func (t *Tracker) cancelPending(e *entry) {
	if e.pending == nil {
		return
	}
	e.pending.timer.Stop()
	e.pending = nil
	t.recorder.ObserveDebounce(metrics.DebounceCancelled)
}

// apply makes state effective and publishes the transition. Must hold e.mu.
func (t *Tracker) apply(uid domain.UID, e *entry, state domain.ProcessState) {
	if state == e.effective {
		return
	}
	from := e.effective
	e.effective = state
	t.logger.Debug(map[string]any{
		"uid":  uid.String(),
		"from": from.String(),
		"to":   state.String(),
	}, "Effective importance changed")
	if t.pub != nil {
		t.pub.Publish(domain.NewImportanceEvent(uid, state, t.clock.Now()))
	}
}

// IsBelow reports whether uid's effective state is strictly less important than threshold.
// Panics on an unknown threshold.
func (t *Tracker) IsBelow(uid domain.UID, threshold domain.ProcessState) bool {
	threshold.MustBeValid()
	return t.Snapshot(uid).Below(threshold)
}

// Snapshot returns uid's effective state; unknown UIDs are Background.
func (t *Tracker) Snapshot(uid domain.UID) domain.ProcessState {
	v, ok := t.entries.Load(uid)
	if !ok {
		return domain.Background
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.Background
	}
	return e.effective
}

// Pending reports whether uid has a scheduled demotion and its target.
func (t *Tracker) Pending(uid domain.UID) (domain.ProcessState, bool) {
	v, ok := t.entries.Load(uid)
	if !ok {
		return 0, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.pending == nil {
		return 0, false
	}
	return e.pending.target, true
}

// Forget evicts uid once its process is gone. A pending demotion is
// cancelled and the UID falls back to Background immediately.
func (t *Tracker) Forget(uid domain.UID) {
	v, ok := t.entries.Load(uid)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	t.cancelPending(e)
	t.apply(uid, e, domain.Background)
	e.removed = true
	t.entries.CompareAndDelete(uid, e)
}

// UIDs returns every tracked UID in ascending order.
func (t *Tracker) UIDs() []domain.UID {
	var out []domain.UID
	t.entries.Range(func(k, _ any) bool {
		out = append(out, k.(domain.UID))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close cancels every pending demotion without applying it.
func (t *Tracker) Close() {
	t.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		t.cancelPending(e)
		e.mu.Unlock()
		return true
	})
}

// lockEntry returns uid's live entry with its lock held, creating it if needed.
func (t *Tracker) lockEntry(uid domain.UID) *entry {
	for {
		v, _ := t.entries.LoadOrStore(uid, &entry{effective: domain.Background})
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		// Lost a race with Forget; retry with a fresh entry.
		e.mu.Unlock()
	}
}
