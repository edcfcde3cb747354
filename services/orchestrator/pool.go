package orchestrator

import (
	"sync"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/services"
)

// Pool refcounts sync slots per entity for consumers like the feed
// server, where many connections may track the same satellite. The
// first acquisition activates a slot; the last release deactivates it.
type Pool struct {
	newSlot func() services.SyncHandle

	mu         sync.Mutex
	entries    map[common.EntityID]*poolEntry
	onActivate func(entity common.EntityID)
	onLastGone func(entity common.EntityID)
}

type poolEntry struct {
	slot services.SyncHandle
	refs int
}

func NewPool(newSlot func() services.SyncHandle) *Pool {
	return &Pool{
		newSlot: newSlot,
		entries: make(map[common.EntityID]*poolEntry),
	}
}

// SetLifecycleHooks registers callbacks for refcount edges: onActivate
// when an entity goes from zero references to one, onLastGone when the
// last reference is released. Set before the first Acquire; the serve
// command uses them to keep the persisted watchlist in step with what
// is actually syncing.
func (p *Pool) SetLifecycleHooks(onActivate, onLastGone func(entity common.EntityID)) {
	p.mu.Lock()
	p.onActivate = onActivate
	p.onLastGone = onLastGone
	p.mu.Unlock()
}

// Acquire starts (or joins) syncing for entity. The returned release
// func is idempotent.
func (p *Pool) Acquire(entity common.EntityID) (release func()) {
	p.mu.Lock()
	entry, ok := p.entries[entity]
	if !ok {
		entry = &poolEntry{slot: p.newSlot()}
		p.entries[entity] = entry
		entry.slot.Track(entity)
	}
	entry.refs++
	onActivate := p.onActivate
	p.mu.Unlock()

	if !ok && onActivate != nil {
		onActivate(entity)
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.release(entity, entry) })
	}
}

func (p *Pool) release(entity common.EntityID, entry *poolEntry) {
	p.mu.Lock()
	entry.refs--
	last := entry.refs == 0
	if last && p.entries[entity] == entry {
		delete(p.entries, entity)
	}
	onLastGone := p.onLastGone
	p.mu.Unlock()

	if last {
		entry.slot.Stop()
		if onLastGone != nil {
			onLastGone(entity)
		}
	}
}

// Shutdown stops every active slot; used at process teardown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[common.EntityID]*poolEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.slot.Stop()
	}
}
