package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/karansahani78/sattrack/services"
	"github.com/nats-io/nats.go"
)

const defaultConnectTimeout = 5 * time.Second

// NatsTransport is the bus transport behind the push channel. Client-side
// reconnection is disabled on purpose: the connection manager owns the
// retry state machine, the transport only dials and reports closure.
type NatsTransport struct {
	url string

	mu            sync.Mutex
	nc            *nats.Conn
	closedHandler func(err error)
}

func NewNatsTransport(url string) services.BusTransport {
	return &NatsTransport{url: url}
}

func (n *NatsTransport) SetClosedHandler(handler func(err error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closedHandler = handler
}

func (n *NatsTransport) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.nc != nil && n.nc.IsConnected() {
		return nil
	}

	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	nc, err := nats.Connect(n.url,
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.ClosedHandler(func(conn *nats.Conn) {
			n.mu.Lock()
			handler := n.closedHandler
			n.mu.Unlock()
			if handler != nil {
				handler(conn.LastError())
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	n.nc = nc
	return nil
}

func (n *NatsTransport) Subscribe(subject string, handler func(data []byte)) (services.BusSubscription, error) {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()

	if nc == nil {
		return nil, fmt.Errorf("nats subscribe: not connected")
	}

	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (n *NatsTransport) Publish(subject string, data []byte) error {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()

	if nc == nil {
		return fmt.Errorf("nats publish: not connected")
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NatsTransport) Ping(timeout time.Duration) error {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()

	if nc == nil {
		return fmt.Errorf("nats ping: not connected")
	}
	if err := nc.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats ping: %w", err)
	}
	return nil
}

func (n *NatsTransport) Close() error {
	n.mu.Lock()
	nc := n.nc
	n.nc = nil
	// The explicit close must not feed back into the reconnect loop.
	n.closedHandler = nil
	n.mu.Unlock()

	if nc == nil || nc.IsClosed() {
		return nil
	}

	done := make(chan struct{})
	nc.SetClosedHandler(func(_ *nats.Conn) {
		close(done)
	})

	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}

	<-done
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}
