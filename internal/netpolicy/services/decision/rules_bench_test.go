package decision

import (
	"testing"
	"time"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/importance"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/policystore"
)

// benchPolicy enables every mode and lists n UIDs on each list.
func benchPolicy(n int) domain.PolicySnapshot {
	s := domain.NewPolicySnapshot()
	for _, m := range domain.GlobalModes {
		s, _ = s.WithMode(m, true)
	}
	for i := 0; i < n; i++ {
		s, _ = s.WithMembership(domain.DataSaver, domain.Deny, domain.UID(20000+i), true)
		s, _ = s.WithMembership(domain.BatterySaver, domain.Allow, domain.UID(30000+i), true)
	}
	return s
}

// Benchmark the system UID short-circuit.
func BenchmarkEvaluate_System(b *testing.B) {
	in := Inputs{UID: systemUID, Class: domain.Metered, SystemUID: systemUID, Policy: benchPolicy(100), Process: domain.Background}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if v := Evaluate(in); v.Reason != domain.AllowedSystem {
			b.Fatalf("unexpected verdict %s", v)
		}
	}
}

// Benchmark a background UID on a metered network with every mode enabled.
func BenchmarkEvaluate(b *testing.B) {
	policy := benchPolicy(100)
	in := Inputs{UID: 30000, Class: domain.Metered, SystemUID: systemUID, Policy: policy, Process: domain.Background, RestrictedBypass: true}
	want := Evaluate(in)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if v := Evaluate(in); v != want {
			b.Fatalf("verdict changed: got %s, want %s", v, want)
		}
	}
}

// Benchmark the full rule chain falling through to the default verdict.
func BenchmarkEvaluate_Default(b *testing.B) {
	in := Inputs{UID: appUID, Class: domain.Metered, SystemUID: systemUID, Policy: domain.NewPolicySnapshot(), Process: domain.Top}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if v := Evaluate(in); v.Reason != domain.AllowedDefault {
			b.Fatalf("unexpected verdict %s", v)
		}
	}
}

// Benchmark Decide against live collaborators, including snapshot loads.
func BenchmarkEngine_Decide(b *testing.B) {
	store := policystore.New(policystore.Options{})
	store.SetGlobalMode(domain.DataSaver, true)
	if _, err := store.AddToList(domain.DataSaver, domain.Deny, appUID); err != nil {
		b.Fatalf("AddToList: %v", err)
	}
	tracker := importance.New(importance.Options{
		Delays: importance.Delays{Short: time.Second, Long: time.Second},
		Clock:  clock.NewMockClock(t0),
	})
	defer tracker.Close()
	engine := NewEngine(EngineOptions{Policy: store, Importance: tracker, SystemUID: systemUID})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if v := engine.Decide(appUID, domain.Metered); v.Reason != domain.BlockedDenylist {
			b.Fatalf("unexpected verdict %s", v)
		}
	}
}

// Benchmark concurrent Decide calls.
func BenchmarkEngine_DecideParallel(b *testing.B) {
	store := policystore.New(policystore.Options{})
	store.SetGlobalMode(domain.BatterySaver, true)
	tracker := importance.New(importance.Options{
		Delays: importance.Delays{Short: time.Second, Long: time.Second},
		Clock:  clock.NewMockClock(t0),
	})
	defer tracker.Close()
	engine := NewEngine(EngineOptions{Policy: store, Importance: tracker, SystemUID: systemUID})

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if v := engine.Decide(appUID, domain.NonMetered); v.Reason != domain.BlockedPower {
				b.Errorf("unexpected verdict %s", v)
				return
			}
		}
	})
}
