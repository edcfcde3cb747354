package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/metrics"
	"github.com/karansahani78/sattrack/services"
	slogctx "github.com/veqryn/slog-context"
)

// registry multiplexes many local callbacks over one network
// subscription per entity subject. The network subscription exists
// exactly while the local refcount is above zero: it is created on the
// 0->1 transition (immediately when connected, deferred through the
// connection manager's pending queue otherwise) and destroyed on 1->0.
type registry struct {
	conn   services.ConnectionManager
	logger *slog.Logger

	mu     sync.Mutex
	topics map[common.EntityID]*topicEntry
}

type topicEntry struct {
	// callbacks in registration order; dispatch walks this slice.
	subscribers []*subscriber
	// netSub is nil until the deferred create action has run.
	netSub services.BusSubscription
	// gone marks an entry destroyed before its deferred create ran, so
	// the queued action knows to release whatever it just created.
	gone bool
}

type subscriber struct {
	id string
	cb services.PositionCallback
}

func New(ctx context.Context, conn services.ConnectionManager) services.PushSubscriber {
	logger := slogctx.FromCtx(ctx).With("component", "subscription-registry")
	return &registry{
		conn:   conn,
		logger: logger,
		topics: make(map[common.EntityID]*topicEntry),
	}
}

// Subscribe registers cb for entity and returns its unsubscribe func.
// Calling the returned func more than once is a no-op after the first.
func (r *registry) Subscribe(ctx context.Context, entity common.EntityID, cb services.PositionCallback) services.UnsubscribeFunc {
	if entity == "" {
		// Programmer error; fail fast rather than creating a broken topic.
		panic("registry: empty entity id")
	}

	sub := &subscriber{id: uuid.New().String(), cb: cb}

	r.mu.Lock()
	entry, exists := r.topics[entity]
	if !exists {
		entry = &topicEntry{}
		r.topics[entity] = entry
	}
	entry.subscribers = append(entry.subscribers, sub)
	r.mu.Unlock()

	if !exists {
		r.conn.WhenConnected(func() { r.createNetworkSub(entity, entry) })
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.removeSubscriber(entity, entry, sub.id) })
	}
}

// createNetworkSub runs either inline (connected at subscribe time) or
// as a drained pending-queue action on the Connected transition.
func (r *registry) createNetworkSub(entity common.EntityID, entry *topicEntry) {
	subject := common.PositionSubjFormat(string(entity))
	netSub, err := r.conn.SubscribeSubject(subject, func(data []byte) {
		r.dispatch(entity, data)
	})
	if err != nil {
		r.logger.Error("network subscribe failed", "subject", subject, "err", err)
		r.mu.Lock()
		gone := entry.gone
		r.mu.Unlock()
		// The connection can drop between the manager's connected check
		// and the transport call. The topic still has subscribers, so
		// re-enqueue the create for the next Connected transition; a
		// failure while still connected is not retried.
		if !gone && r.conn.State() != services.Connected {
			r.conn.WhenConnected(func() { r.createNetworkSub(entity, entry) })
		}
		return
	}

	r.mu.Lock()
	if entry.gone {
		r.mu.Unlock()
		// Every local subscriber left while the action sat in the queue.
		_ = netSub.Unsubscribe()
		return
	}
	entry.netSub = netSub
	r.mu.Unlock()

	r.logger.Debug("network subscription created", "subject", subject)
}

func (r *registry) removeSubscriber(entity common.EntityID, entry *topicEntry, subID string) {
	r.mu.Lock()
	if entry.gone {
		r.mu.Unlock()
		return
	}
	for i, s := range entry.subscribers {
		if s.id == subID {
			entry.subscribers = append(entry.subscribers[:i], entry.subscribers[i+1:]...)
			break
		}
	}
	if len(entry.subscribers) > 0 {
		r.mu.Unlock()
		return
	}

	// Last subscriber gone: tear down the topic.
	if r.topics[entity] == entry {
		delete(r.topics, entity)
	}
	entry.gone = true
	netSub := entry.netSub
	entry.netSub = nil
	r.mu.Unlock()

	if netSub != nil {
		if err := netSub.Unsubscribe(); err != nil {
			r.logger.Warn("network unsubscribe failed", "entity", entity, "err", err)
		}
	}
}

// dispatch decodes one push payload and fans it out to every currently
// registered callback in registration order. A panicking callback is
// isolated so the rest still receive the message; a malformed payload
// is logged, counted and dropped.
func (r *registry) dispatch(entity common.EntityID, data []byte) {
	metrics.PushMessagesReceived.WithLabelValues(metrics.Hostname).Inc()

	pos, err := ds.DecodePosition(data)
	if err != nil {
		metrics.DecodeFailures.WithLabelValues(metrics.Hostname).Inc()
		r.logger.Error("dropping malformed push payload", "entity", entity, "err", err)
		return
	}

	r.mu.Lock()
	entry, ok := r.topics[entity]
	if !ok {
		// Teardown raced an in-flight message; deliver to nobody.
		r.mu.Unlock()
		return
	}
	callbacks := make([]services.PositionCallback, len(entry.subscribers))
	for i, s := range entry.subscribers {
		callbacks[i] = s.cb
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.invoke(entity, cb, pos)
	}
}

func (r *registry) invoke(entity common.EntityID, cb services.PositionCallback, pos *ds.Position) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber callback panicked", "entity", entity, "panic", rec)
		}
	}()
	cb(pos)
}
