package policystore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

// ErrConflictingMembership is returned when a UID is added to a list while it
// is still a member of the opposite list of the same mode.
var ErrConflictingMembership = errors.New("uid is a member of the opposite list")

// Publisher receives one event per effective mutation.
type Publisher interface {
	Publish(ev domain.ChangeEvent)
}

// Store holds the global mode flags and per-mode lists.
//
// Readers load an immutable snapshot without locking. Writers are serialized
// per mode, build the next snapshot copy-on-write and swap it in with CAS, so
// writers to different modes never wait on each other and a snapshot never
// reflects half of an update.
type Store struct {
	current atomic.Pointer[domain.PolicySnapshot]
	locks   [domain.ModeCount]sync.Mutex
	pub     Publisher
	clock   clock.Clock
	logger  log.Logger
}

// Options configures a Store.
type Options struct {
	Publisher Publisher
	Clock     clock.Clock
	Logger    log.Logger
}

// New constructs an empty Store with every mode off.
func New(opts Options) *Store {
	s := &Store{pub: opts.Publisher, clock: opts.Clock, logger: opts.Logger}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	initial := domain.NewPolicySnapshot()
	s.current.Store(&initial)
	return s
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() domain.PolicySnapshot {
	return *s.current.Load()
}

// SetGlobalMode turns mode on or off and reports whether the flag changed.
// Panics on an unknown mode.
func (s *Store) SetGlobalMode(mode domain.GlobalMode, enabled bool) bool {
	mode.MustBeValid()

	mu := &s.locks[mode]
	mu.Lock()
	defer mu.Unlock()

	version, changed := s.update(func(cur domain.PolicySnapshot) (domain.PolicySnapshot, bool) {
		return cur.WithMode(mode, enabled)
	})
	if !changed {
		return false
	}

	s.logger.Info(map[string]any{
		"mode":    mode.String(),
		"enabled": enabled,
		"version": version,
	}, "Global mode changed")
	s.publish(domain.NewModeEvent(mode, enabled, s.clock.Now()), version)
	return true
}

// AddToList inserts uid into mode's list. It reports whether membership
// changed, and returns ErrConflictingMembership if uid is in the opposite
// list. Panics on an invalid (mode, list) combination.
func (s *Store) AddToList(mode domain.GlobalMode, list domain.ListKind, uid domain.UID) (bool, error) {
	domain.MustHaveList(mode, list)

	mu := &s.locks[mode]
	mu.Lock()
	defer mu.Unlock()

	if opp := list.Opposite(); domain.HasList(mode, opp) && s.Snapshot().Contains(mode, opp, uid) {
		return false, fmt.Errorf("add uid %s to %s %s list: %w", uid, mode, list, ErrConflictingMembership)
	}

	return s.setMembership(mode, list, uid, true), nil
}

// RemoveFromList deletes uid from mode's list and reports whether membership
// changed. Panics on an invalid (mode, list) combination.
func (s *Store) RemoveFromList(mode domain.GlobalMode, list domain.ListKind, uid domain.UID) bool {
	domain.MustHaveList(mode, list)

	mu := &s.locks[mode]
	mu.Lock()
	defer mu.Unlock()

	return s.setMembership(mode, list, uid, false)
}

// setMembership must be called with the mode lock held.
func (s *Store) setMembership(mode domain.GlobalMode, list domain.ListKind, uid domain.UID, present bool) bool {
	version, changed := s.update(func(cur domain.PolicySnapshot) (domain.PolicySnapshot, bool) {
		return cur.WithMembership(mode, list, uid, present)
	})
	if !changed {
		return false
	}

	s.logger.Debug(map[string]any{
		"mode":    mode.String(),
		"list":    list.String(),
		"uid":     uid.String(),
		"present": present,
		"version": version,
	}, "List membership changed")
	s.publish(domain.NewListEvent(mode, list, uid, present, s.clock.Now()), version)
	return true
}

// update applies fn to the latest snapshot until the CAS succeeds and returns
// the version installed. Writers of other modes may win the race in between;
// fn is simply re-applied on top.
func (s *Store) update(fn func(domain.PolicySnapshot) (domain.PolicySnapshot, bool)) (uint64, bool) {
	for {
		cur := s.current.Load()
		next, changed := fn(*cur)
		if !changed {
			return 0, false
		}
		if s.current.CompareAndSwap(cur, &next) {
			return next.Version(), true
		}
	}
}

func (s *Store) publish(ev domain.ChangeEvent, version uint64) {
	if s.pub != nil {
		ev.Version = version
		s.pub.Publish(ev)
	}
}
