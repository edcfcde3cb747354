package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/services"
	"github.com/karansahani78/sattrack/services/cache"
	"github.com/karansahani78/sattrack/services/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
)

func posAt(ts time.Time) *ds.Position {
	return &ds.Position{
		Timestamp: ts,
		Raw:       []byte(fmt.Sprintf(`{"timestamp":%q}`, ts.Format(time.RFC3339))),
	}
}

// seedFetcher serves one canned position per entity for the seed fetch.
type seedFetcher struct {
	mu        sync.Mutex
	positions map[common.EntityID]*ds.Position
	err       error
	fetched   []common.EntityID
}

func (f *seedFetcher) CurrentPosition(ctx context.Context, entity common.EntityID, obs *ds.Observer) (*ds.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, entity)
	if f.err != nil {
		return nil, f.err
	}
	return f.positions[entity], nil
}

func (f *seedFetcher) Track(ctx context.Context, entity common.EntityID, from, to time.Time, step time.Duration) ([]*ds.Position, error) {
	return nil, nil
}

// fakeBus implements the push-subscribe capability and lets tests fire
// position updates at whoever subscribed.
type fakeBus struct {
	mu         sync.Mutex
	callbacks  map[common.EntityID]services.PositionCallback
	subCount   int
	unsubCount int
}

func newFakeBus() *fakeBus {
	return &fakeBus{callbacks: make(map[common.EntityID]services.PositionCallback)}
}

func (b *fakeBus) Subscribe(ctx context.Context, entity common.EntityID, cb services.PositionCallback) services.UnsubscribeFunc {
	b.mu.Lock()
	b.callbacks[entity] = cb
	b.subCount++
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.callbacks, entity)
		b.unsubCount++
		b.mu.Unlock()
	}
}

func (b *fakeBus) push(entity common.EntityID, pos *ds.Position) {
	b.mu.Lock()
	cb := b.callbacks[entity]
	b.mu.Unlock()
	if cb != nil {
		cb(pos)
	}
}

// fakePoller records started loops and exposes their callbacks.
type fakePoller struct {
	mu       sync.Mutex
	started  []common.EntityID
	stopped  []common.EntityID
	onResult func(*ds.Position)
	onError  func(error)
}

func (p *fakePoller) Start(entity common.EntityID, interval time.Duration,
	onResult func(pos *ds.Position), onError func(err error)) func() {
	p.mu.Lock()
	p.started = append(p.started, entity)
	p.onResult = onResult
	p.onError = onError
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.stopped = append(p.stopped, entity)
		p.mu.Unlock()
	}
}

func (p *fakePoller) pollResult(pos *ds.Position) {
	p.mu.Lock()
	cb := p.onResult
	p.mu.Unlock()
	cb(pos)
}

func (p *fakePoller) pollError(err error) {
	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()
	cb(err)
}

type harness struct {
	fetcher *seedFetcher
	bus     *fakeBus
	poller  *fakePoller
	cache   services.PositionCache
	slot    services.SyncHandle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fetcher: &seedFetcher{positions: make(map[common.EntityID]*ds.Position)},
		bus:     newFakeBus(),
		poller:  &fakePoller{},
		cache:   cache.New(),
	}
	h.slot = NewSlot(context.Background(), h.fetcher, h.cache, h.bus,
		capability.New(slog.Default()), h.poller, 5*time.Second)
	t.Cleanup(h.slot.Stop)
	return h
}

func waitNotLoading(t *testing.T, s services.SyncHandle) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Snapshot().Loading },
		2*time.Second, 5*time.Millisecond)
}

func TestTrack_SeedsCacheFromRest(t *testing.T) {
	h := newHarness(t)
	seeded := posAt(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	h.fetcher.mu.Lock()
	h.fetcher.positions["25544"] = seeded
	h.fetcher.mu.Unlock()

	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	snap := h.slot.Snapshot()
	assert.Equal(t, common.EntityID("25544"), snap.Entity)
	require.NotNil(t, snap.Position)
	assert.Equal(t, seeded.Timestamp, snap.Position.Timestamp)
	assert.NoError(t, snap.Err)
}

func TestTrack_StartsPushAndPolling(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	h.bus.mu.Lock()
	subs := h.bus.subCount
	h.bus.mu.Unlock()
	assert.Equal(t, 1, subs)

	h.poller.mu.Lock()
	started := h.poller.started
	h.poller.mu.Unlock()
	assert.Equal(t, []common.EntityID{"25544"}, started)
}

func TestTrack_PushUpdatesFlowIntoCache(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h.bus.push("25544", posAt(ts))

	got, ok := h.cache.Read("25544")
	require.True(t, ok)
	assert.Equal(t, ts, got.Timestamp)
}

// Push and poll race into the same cache entry; the older record loses
// no matter which channel it arrived on.
func TestTrack_StalePollLosesToNewerPush(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("43226")
	waitNotLoading(t, h.slot)

	newer := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)
	older := newer.Add(-5 * time.Second)

	h.bus.push("43226", posAt(newer))
	h.poller.pollResult(posAt(older))

	got, _ := h.cache.Read("43226")
	assert.Equal(t, newer, got.Timestamp, "stale poll result must not clobber the push update")
}

func TestTrack_SeedFailureSurfacesError(t *testing.T) {
	h := newHarness(t)
	h.fetcher.mu.Lock()
	h.fetcher.err = errors.New("backend down")
	h.fetcher.mu.Unlock()

	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	snap := h.slot.Snapshot()
	assert.Error(t, snap.Err)
	assert.Nil(t, snap.Position)
}

// A poll success clears an earlier soft error; a poll failure sets it.
func TestTrack_PollErrorSetAndCleared(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	h.poller.pollError(errors.New("timeout"))
	assert.Error(t, h.slot.Snapshot().Err)

	h.poller.pollResult(posAt(time.Now()))
	assert.NoError(t, h.slot.Snapshot().Err)
}

func TestStop_TearsDownPushThenPolling(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	h.slot.Stop()

	h.bus.mu.Lock()
	unsubs := h.bus.unsubCount
	h.bus.mu.Unlock()
	assert.Equal(t, 1, unsubs)

	h.poller.mu.Lock()
	stopped := h.poller.stopped
	h.poller.mu.Unlock()
	assert.Equal(t, []common.EntityID{"25544"}, stopped)

	snap := h.slot.Snapshot()
	assert.Empty(t, snap.Entity)
	assert.False(t, snap.Loading)
}

// Retargeting the slot tears down the old entity before wiring the new
// one; the old entity's cache entry stays warm.
func TestTrack_SwitchEntity(t *testing.T) {
	h := newHarness(t)
	h.fetcher.mu.Lock()
	h.fetcher.positions["25544"] = posAt(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	h.fetcher.mu.Unlock()

	h.slot.Track("25544")
	waitNotLoading(t, h.slot)

	h.slot.Track("33591")
	waitNotLoading(t, h.slot)

	h.bus.mu.Lock()
	_, oldSub := h.bus.callbacks["25544"]
	_, newSub := h.bus.callbacks["33591"]
	h.bus.mu.Unlock()
	assert.False(t, oldSub, "old push subscription released")
	assert.True(t, newSub)

	assert.Equal(t, common.EntityID("33591"), h.slot.Snapshot().Entity)

	// Warm cache survives the switch.
	_, ok := h.cache.Read("25544")
	assert.True(t, ok)
}

func TestTrack_LateSeedForOldEntityIgnored(t *testing.T) {
	h := newHarness(t)
	h.slot.Track("25544")
	h.slot.Track("33591")
	waitNotLoading(t, h.slot)

	snap := h.slot.Snapshot()
	assert.Equal(t, common.EntityID("33591"), snap.Entity)
}

func TestTrack_EmptyEntityPanics(t *testing.T) {
	h := newHarness(t)
	assert.Panics(t, func() { h.slot.Track("") })
}

func TestStop_WithoutTrackIsNoOp(t *testing.T) {
	h := newHarness(t)
	assert.NotPanics(t, h.slot.Stop)
}

func TestPool_SharedSlotPerEntity(t *testing.T) {
	var mu sync.Mutex
	created := 0
	pool := NewPool(func() services.SyncHandle {
		mu.Lock()
		created++
		mu.Unlock()
		h := &fakeSlot{}
		return h
	})

	r1 := pool.Acquire("25544")
	r2 := pool.Acquire("25544")
	r3 := pool.Acquire("33591")

	mu.Lock()
	assert.Equal(t, 2, created, "one slot per distinct entity")
	mu.Unlock()

	r1()
	r2()
	r3()
}

func TestPool_LastReleaseStopsSlot(t *testing.T) {
	slot := &fakeSlot{}
	pool := NewPool(func() services.SyncHandle { return slot })

	r1 := pool.Acquire("25544")
	r2 := pool.Acquire("25544")

	r1()
	assert.Zero(t, slot.stopCalls(), "slot keeps running while a reference remains")

	r2()
	assert.Equal(t, 1, slot.stopCalls())
}

func TestPool_ReleaseIdempotent(t *testing.T) {
	slot := &fakeSlot{}
	pool := NewPool(func() services.SyncHandle { return slot })

	r1 := pool.Acquire("25544")
	r2 := pool.Acquire("25544")

	r1()
	r1()
	r1()
	assert.Zero(t, slot.stopCalls(), "double release must not steal the remaining reference")

	r2()
	assert.Equal(t, 1, slot.stopCalls())
}

func TestPool_ReacquireAfterFullRelease(t *testing.T) {
	var slots []*fakeSlot
	pool := NewPool(func() services.SyncHandle {
		s := &fakeSlot{}
		slots = append(slots, s)
		return s
	})

	release := pool.Acquire("25544")
	release()

	release2 := pool.Acquire("25544")
	defer release2()

	require.Len(t, slots, 2, "full release discards the slot; reacquire builds fresh")
	assert.Equal(t, 1, slots[0].stopCalls())
	assert.Zero(t, slots[1].stopCalls())
}

// Lifecycle hooks fire only on refcount edges, never on joins or
// partial releases.
func TestPool_LifecycleHooksFireOnEdges(t *testing.T) {
	pool := NewPool(func() services.SyncHandle { return &fakeSlot{} })

	var mu sync.Mutex
	var activated, released []common.EntityID
	pool.SetLifecycleHooks(
		func(entity common.EntityID) {
			mu.Lock()
			activated = append(activated, entity)
			mu.Unlock()
		},
		func(entity common.EntityID) {
			mu.Lock()
			released = append(released, entity)
			mu.Unlock()
		},
	)

	r1 := pool.Acquire("25544")
	r2 := pool.Acquire("25544")

	mu.Lock()
	assert.Equal(t, []common.EntityID{"25544"}, activated, "joining an active entity is not an edge")
	mu.Unlock()

	r1()
	mu.Lock()
	assert.Empty(t, released, "a partial release is not an edge")
	mu.Unlock()

	r2()
	mu.Lock()
	assert.Equal(t, []common.EntityID{"25544"}, released)
	mu.Unlock()
}

func TestPool_ShutdownStopsEverything(t *testing.T) {
	var slots []*fakeSlot
	pool := NewPool(func() services.SyncHandle {
		s := &fakeSlot{}
		slots = append(slots, s)
		return s
	})

	pool.Acquire("25544")
	pool.Acquire("33591")
	pool.Shutdown()

	for _, s := range slots {
		assert.Equal(t, 1, s.stopCalls())
	}
}

type fakeSlot struct {
	mu      sync.Mutex
	tracked []common.EntityID
	stops   int
}

func (s *fakeSlot) Track(entity common.EntityID) {
	s.mu.Lock()
	s.tracked = append(s.tracked, entity)
	s.mu.Unlock()
}

func (s *fakeSlot) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSlot) Snapshot() services.SyncSnapshot { return services.SyncSnapshot{} }

func (s *fakeSlot) stopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
