package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/services"
	"github.com/karansahani78/sattrack/services/orchestrator"
)

// feedBridge owns one dashboard connection: it reads control-plane
// messages from the client and wires each tracked entity to a sync-pool
// acquisition plus a cache watch that relays accepted positions back
// over the websocket. Relaying off the cache rather than the raw push
// stream means clients keep receiving poll-driven updates when push is
// down, and never see a record the cache rejected as stale.
type feedBridge struct {
	connID    string
	conn      *websocket.Conn
	pool      *orchestrator.Pool
	cache     services.PositionCache
	feedConns FeedConnManager
	logger    *slog.Logger

	// tracked is only touched from the read loop goroutine.
	tracked map[common.EntityID]*trackedEntity
}

type trackedEntity struct {
	release func()
	unwatch services.UnsubscribeFunc
}

func newFeedBridge(connID string, conn *websocket.Conn,
	pool *orchestrator.Pool, cache services.PositionCache,
	feedConns FeedConnManager, logger *slog.Logger) *feedBridge {

	return &feedBridge{
		connID:    connID,
		conn:      conn,
		pool:      pool,
		cache:     cache,
		feedConns: feedConns,
		logger:    logger.With("conn-id", connID),
	}
}

// processClientMessages blocks until the connection dies, then releases
// every tracking the client still held.
func (b *feedBridge) processClientMessages(ctx context.Context) {
	b.tracked = make(map[common.EntityID]*trackedEntity)
	defer b.stopAll()

	for {
		_, message, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Warn("unexpected close", "err", err)
			}
			return
		}

		var clientMsg ds.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			b.logger.Warn("dropping undecodable client message", "err", err)
			continue
		}
		if !clientMsg.IsControlPlaneMessage {
			continue
		}

		var cpMsg ds.ControlPlaneMessage
		if err := json.Unmarshal(clientMsg.Payload, &cpMsg); err != nil {
			b.logger.Warn("dropping undecodable control message", "err", err)
			continue
		}
		if err := b.handleControlOp(cpMsg.ControlPlaneOp, cpMsg.Payload); err != nil {
			b.logger.Warn("control op failed", "op", cpMsg.ControlPlaneOp, "err", err)
		}
	}
}

func (b *feedBridge) handleControlOp(op ds.ControlPlaneOp, payload []byte) error {
	var tp ds.TrackingPayload
	if err := json.Unmarshal(payload, &tp); err != nil {
		return err
	}
	if tp.EntityID == "" {
		return fmt.Errorf("empty entity id")
	}

	switch op {
	case ds.StartTracking:
		b.startTracking(tp.EntityID)
		return nil
	case ds.StopTracking:
		b.stopTracking(tp.EntityID)
		return nil
	default:
		return fmt.Errorf("unknown control op: %d", op)
	}
}

func (b *feedBridge) startTracking(entity common.EntityID) {
	if _, exists := b.tracked[entity]; exists {
		return
	}

	release := b.pool.Acquire(entity)
	unwatch := b.cache.Watch(entity, func(pos *ds.Position) {
		b.send(entity, pos)
	})
	b.tracked[entity] = &trackedEntity{release: release, unwatch: unwatch}

	// Warm start: the cache may hold a value from an earlier consumer.
	if pos, ok := b.cache.Read(entity); ok {
		b.send(entity, pos)
	}
}

func (b *feedBridge) stopTracking(entity common.EntityID) {
	te, exists := b.tracked[entity]
	if !exists {
		return
	}
	delete(b.tracked, entity)
	te.unwatch()
	te.release()
}

func (b *feedBridge) stopAll() {
	for entity := range b.tracked {
		b.stopTracking(entity)
	}
}

func (b *feedBridge) send(entity common.EntityID, pos *ds.Position) {
	msg, err := json.Marshal(ds.FeedMessage{EntityID: entity, Position: pos})
	if err != nil {
		b.logger.Error("marshal feed message", "err", err)
		return
	}
	b.feedConns.WriteJSON(b.connID, msg)
}
