package notifier

import (
	"sync"

	"github.com/google/uuid"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
)

// Notifier fans out ChangeEvents to subscribers. Publish never blocks on a
// slow subscriber: each subscription buffers without bound and drains through
// its own goroutine, so delivery is lossless and in publish order.
type Notifier struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	closed   bool
	logger   log.Logger
	recorder metrics.Recorder
}

// New constructs a Notifier. A nil logger discards logs and a nil recorder
// disables metrics.
func New(logger log.Logger, recorder metrics.Recorder) *Notifier {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Notifier{
		subs:     make(map[uint64]*Subscription),
		logger:   logger,
		recorder: recorder,
	}
}

// Subscribe registers interest in uid, or in everything when uid is domain.AllUIDs.
// Subscribing to a closed notifier returns an already closed subscription.
func (n *Notifier) Subscribe(uid domain.UID) *Subscription {
	s := newSubscription(uid)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		s.Close()
		return s
	}
	n.nextID++
	s.id = n.nextID
	s.owner = n
	n.subs[s.id] = s
	n.mu.Unlock()

	go s.pump()

	n.logger.Debug(map[string]any{"uid": uid.String(), "subscription": s.id}, "Subscriber registered")
	return s
}

// Publish delivers ev to every matching subscriber. Events without an ID get one.
func (n *Notifier) Publish(ev domain.ChangeEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	n.recorder.ObserveEvent(ev.Kind)
	for _, s := range n.subs {
		if ev.Affects(s.uid) {
			s.enqueue(ev)
		}
	}
}

// Close terminates every subscription. Later Publish calls are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	subs := n.subs
	n.subs = make(map[uint64]*Subscription)
	n.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Subscription is a stream of ChangeEvents for one UID or for all of them.
type Subscription struct {
	id    uint64
	uid   domain.UID
	owner *Notifier

	mu     sync.Mutex
	queue  []domain.ChangeEvent
	wake   chan struct{}
	out    chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
	closed bool
}

func newSubscription(uid domain.UID) *Subscription {
	return &Subscription{
		uid:  uid,
		wake: make(chan struct{}, 1),
		out:  make(chan domain.ChangeEvent),
		done: make(chan struct{}),
	}
}

// UID returns the subscribed identity.
func (s *Subscription) UID() domain.UID { return s.uid }

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan domain.ChangeEvent { return s.out }

// Close unregisters the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	if s.owner != nil {
		s.owner.remove(s.id)
	}
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.owner == nil {
			close(s.out)
		}
	})
}

func (s *Subscription) enqueue(ev domain.ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to out until the subscription closes.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = domain.ChangeEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
