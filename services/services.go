package services

import (
	"context"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
)

// ConnState is the lifecycle of the one shared bus connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// BusSubscription is one live network subscription on the transport.
type BusSubscription interface {
	Unsubscribe() error
}

// BusTransport is the raw message-bus handle. Only the connection
// manager may hold one; everything else goes through the registry.
type BusTransport interface {
	Connect(ctx context.Context) error
	Subscribe(subject string, handler func(data []byte)) (BusSubscription, error)
	Publish(subject string, data []byte) error
	// Ping performs a transport round trip; an error means the
	// connection is unusable and must be torn down.
	Ping(timeout time.Duration) error
	Close() error
	// SetClosedHandler registers the callback fired when the transport
	// drops, whatever the cause. Must be set before Connect.
	SetClosedHandler(func(err error))
}

// ConnectionManager maintains the shared connection: explicit state
// machine, heartbeat, fixed-delay reconnection without a retry cap, and
// the FIFO queue of subscribe actions deferred while not connected.
type ConnectionManager interface {
	// Connect is idempotent; calling it while connecting or connected
	// is a no-op.
	Connect()
	// Shutdown is terminal. It tears down subscriptions and the
	// transport; the manager never reconnects afterwards.
	Shutdown(ctx context.Context) error
	State() ConnState
	// WhenConnected runs action immediately when connected, otherwise
	// enqueues it to run exactly once on the next Connected transition,
	// in FIFO order.
	WhenConnected(action func())
	// SubscribeSubject creates a network subscription. Valid only while
	// connected; callers defer through WhenConnected.
	SubscribeSubject(subject string, handler func(data []byte)) (BusSubscription, error)
}

// PositionCallback receives decoded push updates for one entity.
type PositionCallback func(pos *ds.Position)

// UnsubscribeFunc releases one local subscription. Safe to call more
// than once; only the first call has an effect.
type UnsubscribeFunc func()

// PushSubscriber is the optional capability of a bus collaborator to
// deliver per-entity push updates. Collaborators that have not grown
// the capability yet simply do not implement it; the capability guard
// turns that into a no-op subscription.
type PushSubscriber interface {
	Subscribe(ctx context.Context, entity common.EntityID, cb PositionCallback) UnsubscribeFunc
}

// PositionCache is the process-wide last-known-position store written
// by both channels.
type PositionCache interface {
	// Update stores pos unless a newer record is already cached for the
	// entity. Returns false when the update was rejected as stale.
	Update(entity common.EntityID, pos *ds.Position) bool
	Read(entity common.EntityID) (*ds.Position, bool)
	// Watch registers cb for every accepted update of entity, whichever
	// channel delivered it. Rejected stale updates never notify. The
	// returned func unregisters the watcher and is safe to call twice.
	Watch(entity common.EntityID, cb PositionCallback) UnsubscribeFunc
}

// PositionFetcher is the REST pull channel. A not-found backend status
// yields (nil, nil): no data yet is not an error.
type PositionFetcher interface {
	CurrentPosition(ctx context.Context, entity common.EntityID, obs *ds.Observer) (*ds.Position, error)
	Track(ctx context.Context, entity common.EntityID, from, to time.Time, step time.Duration) ([]*ds.Position, error)
}

// PollingFallback refetches an entity on a fixed interval, independent
// of push availability.
type PollingFallback interface {
	// Start fetches once immediately, then on every interval tick until
	// the returned stop function is called. Stop aborts any in-flight
	// fetch; no result or error callback fires after it returns.
	Start(entity common.EntityID, interval time.Duration,
		onResult func(pos *ds.Position), onError func(err error)) (stop func())
}

// SyncHandle is one logical UI slot tracking at most one entity.
type SyncHandle interface {
	// Track activates syncing for entity, first deactivating whatever
	// the slot was tracking before.
	Track(entity common.EntityID)
	Stop()
	Snapshot() SyncSnapshot
}

// SyncSnapshot is what consumers poll to render.
type SyncSnapshot struct {
	Entity   common.EntityID
	Position *ds.Position
	// Loading is true only while the initial seed fetch is in flight.
	Loading bool
	// Err holds the last REST failure, cleared by the next successful
	// seed or poll. Push-channel trouble never surfaces here.
	Err error
}

// StateStore persists the bounded watchlist of tracked entity ids
// across sessions. Volatile position data is never persisted.
type StateStore interface {
	AddWatchedEntity(ctx context.Context, entity common.EntityID) error
	RemoveWatchedEntity(ctx context.Context, entity common.EntityID) error
	ListWatchedEntities(ctx context.Context) ([]common.EntityID, error)
	Close()
}
