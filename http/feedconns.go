package http

import (
	"time"

	"github.com/alphadose/haxmap"
	"github.com/gorilla/websocket"
)

const feedWriteWait = 10 * time.Second

// FeedConnManager serializes writes to dashboard websocket connections.
// Each connection gets a dedicated writer goroutine fed by a buffered
// channel, so registry callbacks never block on a slow client.
type FeedConnManager interface {
	Register(connID string, conn *websocket.Conn)
	Unregister(connID string)
	// WriteJSON queues data for connID; a full queue drops the message
	// rather than stalling the producer.
	WriteJSON(connID string, data []byte) bool
}

type writeRequest struct {
	data []byte
}

type connWithWriter struct {
	conn    *websocket.Conn
	writeCh chan writeRequest
	closeCh chan struct{}
}

type feedConnManager struct {
	connections *haxmap.Map[string, *connWithWriter]
}

func NewFeedConnManager() FeedConnManager {
	return &feedConnManager{
		connections: haxmap.New[string, *connWithWriter](),
	}
}

func (m *feedConnManager) Register(connID string, conn *websocket.Conn) {
	cw := &connWithWriter{
		conn:    conn,
		writeCh: make(chan writeRequest, 256),
		closeCh: make(chan struct{}),
	}
	m.connections.Set(connID, cw)
	go m.writerLoop(cw)
}

func (m *feedConnManager) writerLoop(cw *connWithWriter) {
	for {
		select {
		case <-cw.closeCh:
			return
		case req := <-cw.writeCh:
			cw.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := cw.conn.WriteMessage(websocket.TextMessage, req.data); err != nil {
				// The read loop notices the dead connection and
				// unregisters us; nothing to do here.
				return
			}
		}
	}
}

func (m *feedConnManager) Unregister(connID string) {
	if cw, ok := m.connections.Get(connID); ok {
		close(cw.closeCh)
		m.connections.Del(connID)
	}
}

func (m *feedConnManager) WriteJSON(connID string, data []byte) bool {
	cw, ok := m.connections.Get(connID)
	if !ok {
		return false
	}
	select {
	case cw.writeCh <- writeRequest{data: data}:
		return true
	default:
		// Slow consumer; drop instead of blocking the dispatch path.
		return false
	}
}
