package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/services"
	"github.com/karansahani78/sattrack/services/capability"
	slogctx "github.com/veqryn/slog-context"
)

// slot coordinates the per-entity sync lifecycle for one logical
// consumer slot. Activation seeds the cache through the REST path,
// registers a push subscription through the capability guard and starts
// the polling fallback as a safety net. Deactivation unsubscribes push,
// then stops polling, before any new entity is activated; a slot never
// runs two syncs at once.
type slot struct {
	fetcher      services.PositionFetcher
	cache        services.PositionCache
	busCollab    any
	guard        *capability.Guard
	poller       services.PollingFallback
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	active  *activeSync
	loading bool
	lastErr error
}

type activeSync struct {
	entity     common.EntityID
	cancelSeed context.CancelFunc
	unsubPush  services.UnsubscribeFunc
	stopPoll   func()
}

func NewSlot(ctx context.Context,
	fetcher services.PositionFetcher,
	cache services.PositionCache,
	busCollab any,
	guard *capability.Guard,
	poller services.PollingFallback,
	pollInterval time.Duration) services.SyncHandle {

	return &slot{
		fetcher:      fetcher,
		cache:        cache,
		busCollab:    busCollab,
		guard:        guard,
		poller:       poller,
		pollInterval: pollInterval,
		logger:       slogctx.FromCtx(ctx).With("component", "sync-orchestrator"),
	}
}

func (s *slot) Track(entity common.EntityID) {
	if entity == "" {
		panic("orchestrator: empty entity id")
	}

	s.deactivate()

	seedCtx, cancelSeed := context.WithCancel(context.Background())
	sync := &activeSync{entity: entity, cancelSeed: cancelSeed}

	s.mu.Lock()
	s.active = sync
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()

	// Seed the cache once via REST so consumers have a value before the
	// first push or poll lands.
	go s.seed(seedCtx, sync)

	unsubPush := s.guard.Subscribe(context.Background(), s.busCollab, entity, func(pos *ds.Position) {
		s.cache.Update(entity, pos)
	})

	stopPoll := s.poller.Start(entity, s.pollInterval,
		func(pos *ds.Position) {
			s.cache.Update(entity, pos)
			s.setErr(sync, nil)
		},
		func(err error) {
			s.setErr(sync, err)
		},
	)

	s.mu.Lock()
	if s.active == sync {
		sync.unsubPush = unsubPush
		sync.stopPoll = stopPoll
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// Deactivated while we were wiring up; release what we created.
	unsubPush()
	stopPoll()
}

func (s *slot) seed(ctx context.Context, sync *activeSync) {
	pos, err := s.fetcher.CurrentPosition(ctx, sync.entity, nil)

	s.mu.Lock()
	if s.active != sync {
		// The slot moved on while the seed was in flight.
		s.mu.Unlock()
		return
	}
	s.loading = false
	if err != nil && ctx.Err() == nil {
		s.lastErr = err
	} else if err == nil {
		s.lastErr = nil
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("seed fetch failed", "entity", sync.entity, "err", err)
		}
		return
	}
	if pos != nil {
		s.cache.Update(sync.entity, pos)
	}
}

func (s *slot) setErr(sync *activeSync, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sync {
		return
	}
	s.lastErr = err
}

func (s *slot) Stop() {
	s.deactivate()
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// deactivate tears down the current sync: push first, then polling.
func (s *slot) deactivate() {
	s.mu.Lock()
	sync := s.active
	s.active = nil
	s.mu.Unlock()

	if sync == nil {
		return
	}
	sync.cancelSeed()
	if sync.unsubPush != nil {
		sync.unsubPush()
	}
	if sync.stopPoll != nil {
		sync.stopPoll()
	}
}

func (s *slot) Snapshot() services.SyncSnapshot {
	s.mu.Lock()
	sync := s.active
	loading := s.loading
	lastErr := s.lastErr
	s.mu.Unlock()

	snap := services.SyncSnapshot{Loading: loading, Err: lastErr}
	if sync != nil {
		snap.Entity = sync.entity
		if pos, ok := s.cache.Read(sync.entity); ok {
			snap.Position = pos
		}
	}
	return snap
}
