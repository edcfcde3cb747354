package connmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	set "github.com/duke-git/lancet/v2/datastructure/set"
	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/metrics"
	"github.com/karansahani78/sattrack/services"
	slogctx "github.com/veqryn/slog-context"
)

const heartbeatTimeout = 5 * time.Second

// connManager drives the one shared bus connection through an explicit
// Disconnected/Connecting/Connected state machine. Transport failure is
// never surfaced to callers: the manager logs, waits the fixed reconnect
// delay and dials again, indefinitely. Degraded availability is the
// accepted failure mode while the polling fallback keeps data flowing.
type connManager struct {
	transport         services.BusTransport
	clock             common.Clock
	reconnectDelay    time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu       sync.Mutex
	state    services.ConnState
	pending  []func()
	active   map[string]*activeSub
	running  bool
	shutdown bool
	closedCh chan struct{} // signalled when the current connection drops

	shutdownCh chan struct{}
	runDone    chan struct{}
}

type activeSub struct {
	subject string
	handler func(data []byte)
	sub     services.BusSubscription // nil while disconnected
}

func New(ctx context.Context,
	transport services.BusTransport,
	clock common.Clock,
	reconnectDelay, heartbeatInterval time.Duration) services.ConnectionManager {

	logger := slogctx.FromCtx(ctx).With("component", "conn-manager")
	c := &connManager{
		transport:         transport,
		clock:             clock,
		reconnectDelay:    reconnectDelay,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
		state:             services.Disconnected,
		active:            make(map[string]*activeSub),
		shutdownCh:        make(chan struct{}),
		runDone:           make(chan struct{}),
	}
	transport.SetClosedHandler(c.onTransportClosed)
	return c
}

// Connect is idempotent: a second call while connecting or connected
// does nothing.
func (c *connManager) Connect() {
	c.mu.Lock()
	if c.shutdown || c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.state = services.Connecting
	c.mu.Unlock()

	go c.run()
}

func (c *connManager) State() services.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run owns every state transition after the initial Connecting. One
// goroutine per manager lifetime; it exits only on Shutdown.
func (c *connManager) run() {
	defer close(c.runDone)

	for {
		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			return
		}
		c.state = services.Connecting
		c.closedCh = make(chan struct{})
		closedCh := c.closedCh
		c.mu.Unlock()

		err := c.transport.Connect(context.Background())
		if err != nil {
			c.logger.Warn("bus connect failed", "err", err)
			c.setDisconnected()
			if !c.waitReconnectDelay() {
				return
			}
			continue
		}

		c.logger.Info("bus connected")
		c.resubscribeActive()

		c.mu.Lock()
		c.state = services.Connected
		queued := c.pending
		c.pending = nil
		c.mu.Unlock()

		// Drain deferred subscribe actions exactly once, FIFO.
		for _, action := range queued {
			action()
		}

		c.heartbeatLoop(closedCh)

		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Warn("bus connection lost, scheduling reconnect", "delay", c.reconnectDelay)
		c.setDisconnected()
		metrics.BusReconnects.WithLabelValues(metrics.Hostname).Inc()
		if !c.waitReconnectDelay() {
			return
		}
	}
}

// heartbeatLoop pings the transport until the connection drops or the
// manager shuts down. A failed ping counts as a transport failure and
// tears the connection down.
func (c *connManager) heartbeatLoop(closedCh chan struct{}) {
	ticker := c.clock.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closedCh:
			return
		case <-ticker.C():
			if err := c.transport.Ping(heartbeatTimeout); err != nil {
				c.logger.Warn("heartbeat failed", "err", err)
				_ = c.transport.Close()
				c.signalClosed(closedCh)
				return
			}
		}
	}
}

func (c *connManager) onTransportClosed(err error) {
	c.mu.Lock()
	closedCh := c.closedCh
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("transport closed", "err", err)
	}
	if closedCh != nil {
		c.signalClosed(closedCh)
	}
}

func (c *connManager) signalClosed(closedCh chan struct{}) {
	select {
	case <-closedCh:
	default:
		close(closedCh)
	}
}

func (c *connManager) setDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = services.Disconnected
	// Network handles died with the connection; keep the records so the
	// subjects come back on reconnect.
	for _, as := range c.active {
		as.sub = nil
	}
}

// waitReconnectDelay blocks for the fixed delay, returning false when
// shutdown interrupts the wait.
func (c *connManager) waitReconnectDelay() bool {
	timer := c.clock.NewTimer(c.reconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-c.shutdownCh:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.shutdown
}

// resubscribeActive re-establishes every subject that was live before
// the connection dropped. The lancet set diff keeps the log honest when
// only part of the watch list needs recreating.
func (c *connManager) resubscribeActive() {
	c.mu.Lock()
	required := set.New[string]()
	established := set.New[string]()
	for subject, as := range c.active {
		required.Add(subject)
		if as.sub != nil {
			established.Add(subject)
		}
	}
	records := make([]*activeSub, 0, len(c.active))
	for _, as := range c.active {
		if as.sub == nil {
			records = append(records, as)
		}
	}
	c.mu.Unlock()

	if required.Equal(established) {
		return
	}

	for _, as := range records {
		sub, err := c.transport.Subscribe(as.subject, as.handler)
		if err != nil {
			c.logger.Error("resubscribe failed", "subject", as.subject, "err", err)
			continue
		}
		c.mu.Lock()
		if _, still := c.active[as.subject]; still {
			as.sub = sub
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()
		// Unsubscribed while we were recreating it.
		_ = sub.Unsubscribe()
	}
}

// WhenConnected runs action now when connected, otherwise appends it to
// the FIFO pending queue drained on the next Connected transition.
func (c *connManager) WhenConnected(action func()) {
	c.mu.Lock()
	if c.state == services.Connected {
		c.mu.Unlock()
		action()
		return
	}
	c.pending = append(c.pending, action)
	c.mu.Unlock()
}

func (c *connManager) SubscribeSubject(subject string, handler func(data []byte)) (services.BusSubscription, error) {
	sub, err := c.transport.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	as := &activeSub{subject: subject, handler: handler, sub: sub}
	c.mu.Lock()
	c.active[subject] = as
	c.mu.Unlock()

	return &managedSub{manager: c, subject: subject}, nil
}

type managedSub struct {
	manager *connManager
	subject string
	once    sync.Once
}

func (m *managedSub) Unsubscribe() error {
	var err error
	m.once.Do(func() {
		c := m.manager
		c.mu.Lock()
		as, ok := c.active[m.subject]
		delete(c.active, m.subject)
		c.mu.Unlock()
		if ok && as.sub != nil {
			err = as.sub.Unsubscribe()
		}
	})
	return err
}

// Shutdown is terminal: it stops the reconnect loop, drops every
// subscription record and closes the transport. Used only at process
// teardown.
func (c *connManager) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	wasRunning := c.running
	closedCh := c.closedCh
	c.state = services.Disconnected
	c.pending = nil
	c.active = make(map[string]*activeSub)
	c.mu.Unlock()

	close(c.shutdownCh)

	if closedCh != nil {
		c.signalClosed(closedCh)
	}

	err := c.transport.Close()

	if wasRunning {
		select {
		case <-c.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
