package policystore

import (
	"sync/atomic"
	"testing"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

// benchStore returns a store with every mode on and n UIDs per list.
func benchStore(b *testing.B, n int) *Store {
	b.Helper()
	s := New(Options{})
	for _, m := range domain.GlobalModes {
		s.SetGlobalMode(m, true)
	}
	for i := 0; i < n; i++ {
		if _, err := s.AddToList(domain.DataSaver, domain.Deny, domain.UID(20000+i)); err != nil {
			b.Fatalf("AddToList: %v", err)
		}
		if _, err := s.AddToList(domain.BatterySaver, domain.Allow, domain.UID(30000+i)); err != nil {
			b.Fatalf("AddToList: %v", err)
		}
	}
	return s
}

// Benchmark lock-free snapshot loads and a membership lookup.
func BenchmarkStore_Snapshot(b *testing.B) {
	s := benchStore(b, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !s.Snapshot().Contains(domain.DataSaver, domain.Deny, 20500) {
			b.Fatalf("expected uid 20500 on the deny list")
		}
	}
}

// Benchmark a mode flip, which copies and swaps the snapshot on every call.
func BenchmarkStore_SetGlobalMode(b *testing.B) {
	s := benchStore(b, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !s.SetGlobalMode(domain.DataSaver, i%2 == 1) {
			b.Fatalf("mode flip %d had no effect", i)
		}
	}
}

// Benchmark add/remove pairs against a populated list.
func BenchmarkStore_AddRemove(b *testing.B) {
	s := benchStore(b, 1000)
	uid := domain.UID(99999)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if changed, err := s.AddToList(domain.DataSaver, domain.Allow, uid); err != nil || !changed {
			b.Fatalf("AddToList: changed=%v err=%v", changed, err)
		}
		if !s.RemoveFromList(domain.DataSaver, domain.Allow, uid) {
			b.Fatalf("RemoveFromList had no effect")
		}
	}
}

// Benchmark snapshot reads while writers race on every mode.
func BenchmarkStore_ParallelReadsWithWriters(b *testing.B) {
	s := benchStore(b, 100)
	var n atomic.Uint64
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := n.Add(1)
			if i%16 == 0 {
				mode := domain.GlobalModes[int(i/16)%domain.ModeCount]
				s.SetGlobalMode(mode, i%32 == 0)
				continue
			}
			_ = s.Snapshot().Enabled(domain.BatterySaver)
		}
	})
}
