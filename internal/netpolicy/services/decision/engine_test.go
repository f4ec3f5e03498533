package decision

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/importance"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/policystore"
)

const (
	shortDelay = 2 * time.Second
	longDelay  = 10 * time.Second
)

var t0 = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

type MockCapabilityChecker struct {
	mock.Mock
}

func (m *MockCapabilityChecker) HasRestrictedNetworkingBypass(uid domain.UID) bool {
	args := m.Called(uid)
	return args.Bool(0)
}

type decisionKey struct {
	class  domain.NetworkClass
	reason domain.ReasonCode
}

// countingRecorder tallies decisions and ignores everything else.
type countingRecorder struct {
	metrics.Recorder
	mu        sync.Mutex
	decisions map[decisionKey]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{Recorder: metrics.NewNoop(), decisions: map[decisionKey]int{}}
}

func (r *countingRecorder) ObserveDecision(class domain.NetworkClass, reason domain.ReasonCode) {
	r.mu.Lock()
	r.decisions[decisionKey{class, reason}]++
	r.mu.Unlock()
}

func (r *countingRecorder) count(class domain.NetworkClass, reason domain.ReasonCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[decisionKey{class, reason}]
}

type harness struct {
	clock   *clock.MockClock
	store   *policystore.Store
	tracker *importance.Tracker
	engine  *Engine
	metrics *countingRecorder
}

func newHarness(t *testing.T, capability CapabilityChecker) *harness {
	t.Helper()
	clk := clock.NewMockClock(t0)
	store := policystore.New(policystore.Options{Clock: clk})
	tracker := importance.New(importance.Options{
		Delays: importance.Delays{Short: shortDelay, Long: longDelay},
		Clock:  clk,
	})
	t.Cleanup(tracker.Close)
	rec := newCountingRecorder()
	engine := NewEngine(EngineOptions{
		Policy:     store,
		Importance: tracker,
		Capability: capability,
		SystemUID:  systemUID,
		Recorder:   rec,
	})
	return &harness{clock: clk, store: store, tracker: tracker, engine: engine, metrics: rec}
}

// report feeds an importance change stamped with the mock clock's current time.
func (h *harness) report(uid domain.UID, state domain.ProcessState) {
	h.tracker.OnImportanceChanged(uid, state, h.clock.Now())
}

func TestEngine_BackgroundDataSaverFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.DataSaver, true)

	assert.Equal(t, domain.Verdict{Blocked: true, Reason: domain.BlockedBgRestrict}, h.engine.Decide(appUID, domain.Metered))
	assert.True(t, h.engine.IsRestrictedOnMeteredNetworks(appUID))

	h.report(appUID, domain.Top)
	assert.Equal(t, domain.Verdict{Blocked: false, Reason: domain.AllowedTmpAllowlist}, h.engine.Decide(appUID, domain.Metered))
	assert.False(t, h.engine.IsRestrictedOnMeteredNetworks(appUID))

	h.report(appUID, domain.Background)
	h.clock.Advance(longDelay - time.Millisecond)
	assert.False(t, h.engine.Decide(appUID, domain.Metered).Blocked, "verdict must hold until the debounce elapses")

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, domain.Verdict{Blocked: true, Reason: domain.BlockedBgRestrict}, h.engine.Decide(appUID, domain.Metered))
	assert.Equal(t, domain.AllowedNonMetered, h.engine.Decide(appUID, domain.NonMetered).Reason)
}

func TestEngine_ForegroundServiceUsesShortDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.DataSaver, true)

	h.report(appUID, domain.BoundForegroundService)
	assert.Equal(t, domain.AllowedTmpAllowlist, h.engine.Decide(appUID, domain.Metered).Reason)

	h.report(appUID, domain.Background)
	h.clock.Advance(shortDelay)
	assert.Equal(t, domain.BlockedBgRestrict, h.engine.Decide(appUID, domain.Metered).Reason)
}

func TestEngine_ReturnToForegroundCancelsBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.DataSaver, true)

	h.report(appUID, domain.Top)
	h.report(appUID, domain.Background)
	h.clock.Advance(longDelay / 2)
	h.report(appUID, domain.Top)
	h.clock.Advance(longDelay)

	assert.Equal(t, domain.AllowedTmpAllowlist, h.engine.Decide(appUID, domain.Metered).Reason)
}

func TestEngine_ListMembershipFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.DataSaver, true)
	h.report(appUID, domain.Top)

	_, err := h.store.AddToList(domain.DataSaver, domain.Deny, appUID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockedDenylist, h.engine.Decide(appUID, domain.Metered).Reason)

	require.True(t, h.store.RemoveFromList(domain.DataSaver, domain.Deny, appUID))
	_, err = h.store.AddToList(domain.DataSaver, domain.Allow, appUID)
	require.NoError(t, err)
	assert.Equal(t, domain.AllowedAllowlist, h.engine.Decide(appUID, domain.Metered).Reason)
}

func TestEngine_BatterySaverFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.BatterySaver, true)

	for _, class := range domain.NetworkClasses {
		assert.Equal(t, domain.BlockedPower, h.engine.Decide(appUID, class).Reason)
	}

	_, err := h.store.AddToList(domain.BatterySaver, domain.Allow, appUID)
	require.NoError(t, err)
	assert.Equal(t, domain.AllowedDefault, h.engine.Decide(appUID, domain.Metered).Reason)
	assert.Equal(t, domain.AllowedNonMetered, h.engine.Decide(appUID, domain.NonMetered).Reason)
}

func TestEngine_BackgroundRestrictionFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetGlobalMode(domain.BackgroundRestriction, true)

	assert.Equal(t, domain.BlockedPower, h.engine.Decide(appUID, domain.NonMetered).Reason)

	h.report(appUID, domain.Top)
	assert.Equal(t, domain.AllowedNonMetered, h.engine.Decide(appUID, domain.NonMetered).Reason)

	h.report(appUID, domain.Background)
	h.clock.Advance(longDelay)
	assert.Equal(t, domain.BlockedPower, h.engine.Decide(appUID, domain.NonMetered).Reason)
}

func TestEngine_RestrictedModeConsultsCapability(t *testing.T) {
	capability := new(MockCapabilityChecker)
	capability.On("HasRestrictedNetworkingBypass", appUID).Return(true)
	capability.On("HasRestrictedNetworkingBypass", appUID+1).Return(false)
	h := newHarness(t, capability)

	// Mode off: the collaborator is not asked.
	assert.Equal(t, domain.AllowedDefault, h.engine.Decide(appUID, domain.Metered).Reason)
	capability.AssertNotCalled(t, "HasRestrictedNetworkingBypass", appUID)

	h.store.SetGlobalMode(domain.RestrictedNetworking, true)
	assert.Equal(t, domain.AllowedNonMetered, h.engine.Decide(appUID, domain.NonMetered).Reason)
	for _, class := range domain.NetworkClasses {
		assert.Equal(t, domain.BlockedRestrictedMode, h.engine.Decide(appUID+1, class).Reason)
	}
	assert.Equal(t, domain.AllowedSystem, h.engine.Decide(systemUID, domain.Metered).Reason)

	capability.AssertExpectations(t)
	capability.AssertNotCalled(t, "HasRestrictedNetworkingBypass", systemUID)
}

func TestEngine_InvalidClassPanics(t *testing.T) {
	h := newHarness(t, nil)
	assert.Panics(t, func() { h.engine.Decide(appUID, domain.NetworkClass(9)) })
}

func TestEngine_CountsDecisions(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Decide(appUID, domain.Metered)
	h.engine.Decide(appUID, domain.Metered)
	h.engine.Decide(systemUID, domain.NonMetered)

	assert.Equal(t, 2, h.metrics.count(domain.Metered, domain.AllowedDefault))
	assert.Equal(t, 1, h.metrics.count(domain.NonMetered, domain.AllowedSystem))
	assert.Zero(t, h.metrics.count(domain.NonMetered, domain.AllowedNonMetered))
}

