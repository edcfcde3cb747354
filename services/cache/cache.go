package cache

import (
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/metrics"
	"github.com/karansahani78/sattrack/services"
)

// positionCache is the process-wide last-known-position store. Both
// channels write into it; whichever delivers the newer record wins. An
// update older than the cached record is rejected and dropped, so an
// out-of-order late poll arrival cannot clobber a fresher push update.
// Equal timestamps are accepted for idempotent retries.
//
// Entries persist after the last unsubscribe: a re-subscribing consumer
// starts from the warm value. They are only gone when the process is.
type positionCache struct {
	entries *haxmap.Map[string, *ds.Position]
	// writeMu serializes the read-compare-write in Update; reads stay
	// lock-free on the haxmap.
	writeMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[common.EntityID]map[string]services.PositionCallback
}

func New() services.PositionCache {
	return &positionCache{
		entries:  haxmap.New[string, *ds.Position](),
		watchers: make(map[common.EntityID]map[string]services.PositionCallback),
	}
}

func (c *positionCache) Update(entity common.EntityID, pos *ds.Position) bool {
	if pos == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, ok := c.entries.Get(string(entity))
	if ok && pos.Timestamp.Before(current.Timestamp) {
		metrics.CacheUpdates.WithLabelValues(metrics.Hostname, "stale_rejected").Inc()
		return false
	}
	c.entries.Set(string(entity), pos)
	metrics.CacheUpdates.WithLabelValues(metrics.Hostname, "accepted").Inc()
	c.notify(entity, pos)
	return true
}

func (c *positionCache) Read(entity common.EntityID) (*ds.Position, bool) {
	return c.entries.Get(string(entity))
}

// Watch registers cb for every update of entity the cache accepts.
// Rejected stale records never notify, so watchers observe the same
// monotonic sequence Read does. The returned unsubscribe func is
// idempotent.
func (c *positionCache) Watch(entity common.EntityID, cb services.PositionCallback) services.UnsubscribeFunc {
	id := uuid.New().String()

	c.watchMu.Lock()
	entry, ok := c.watchers[entity]
	if !ok {
		entry = make(map[string]services.PositionCallback)
		c.watchers[entity] = entry
	}
	entry[id] = cb
	c.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			if entry, ok := c.watchers[entity]; ok {
				delete(entry, id)
				if len(entry) == 0 {
					delete(c.watchers, entity)
				}
			}
			c.watchMu.Unlock()
		})
	}
}

// notify runs on the writer's goroutine while writeMu is held, so
// watchers see accepted records in acceptance order. Callbacks must not
// call Update.
func (c *positionCache) notify(entity common.EntityID, pos *ds.Position) {
	c.watchMu.Lock()
	callbacks := make([]services.PositionCallback, 0, len(c.watchers[entity]))
	for _, cb := range c.watchers[entity] {
		callbacks = append(callbacks, cb)
	}
	c.watchMu.Unlock()

	for _, cb := range callbacks {
		cb(pos)
	}
}
