package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Clock time %v outside [%v, %v]", now, before, after)
	}
}

func TestRealClock_AfterFuncFiresAndStops(t *testing.T) {
	clock := RealClock{}

	fired := make(chan struct{})
	clock.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var ran atomic.Bool
	tm := clock.AfterFunc(time.Hour, func() { ran.Store(true) })
	if !tm.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	if ran.Load() {
		t.Fatal("stopped timer ran")
	}
}

func TestMockClock_NowAndAdvance(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Fatalf("Expected %v, got %v", start, clock.Now())
	}
	clock.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !clock.Now().Equal(want) {
		t.Fatalf("Expected %v, got %v", want, clock.Now())
	}
}

func TestMockClock_TimersFireInDeadlineOrder(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))

	var order []string
	clock.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(10*time.Second, func() { order = append(order, "late") })

	clock.Advance(999 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("timers fired early: %v", order)
	}

	clock.Advance(5 * time.Second)
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected fire order: %v", order)
	}
	if clock.Pending() != 1 {
		t.Fatalf("pending=%d want=1", clock.Pending())
	}
}

func TestMockClock_StopPreventsFire(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))

	fired := false
	tm := clock.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("first Stop should succeed")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report already stopped")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestMockClock_CallbackMaySchedule(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))

	count := 0
	clock.AfterFunc(time.Second, func() {
		count++
		clock.AfterFunc(time.Second, func() { count++ })
	})

	clock.Advance(time.Second)
	if count != 1 {
		t.Fatalf("count=%d want=1", count)
	}
	clock.Advance(time.Second)
	if count != 2 {
		t.Fatalf("count=%d want=2", count)
	}
}

func TestClock_Interface_Compliance(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}
