package connmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/mocks"
	"github.com/karansahani78/sattrack/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testReconnectDelay    = 5 * time.Second
	testHeartbeatInterval = 30 * time.Second
)

type fakeTransport struct {
	mu            sync.Mutex
	connectErrs   []error // consumed front to back; nil entries succeed
	connectCalls  int
	closedHandler func(err error)
	pingErr       error
	closeCalls    int
	subscribed    []string
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Subscribe(subject string, handler func(data []byte)) (services.BusSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, subject)
	return &fakeSub{}, nil
}

func (f *fakeTransport) Publish(subject string, data []byte) error { return nil }

func (f *fakeTransport) Ping(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeTransport) SetClosedHandler(handler func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedHandler = handler
}

func (f *fakeTransport) dropConnection(err error) {
	f.mu.Lock()
	handler := f.closedHandler
	f.mu.Unlock()
	handler(err)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeTransport) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

type fakeSub struct{ unsubCalls int }

func (s *fakeSub) Unsubscribe() error {
	s.unsubCalls++
	return nil
}

func setup(t *testing.T, transport *fakeTransport) (services.ConnectionManager, *common.ManualClock) {
	t.Helper()
	clock := common.NewManualClock(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	m := New(context.Background(), transport, clock, testReconnectDelay, testHeartbeatInterval)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, clock
}

func waitForState(t *testing.T, m services.ConnectionManager, want services.ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "expected state %s", want)
}

func TestConnect_TransitionsToConnected(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)

	assert.Equal(t, services.Disconnected, m.State())
	m.Connect()
	waitForState(t, m, services.Connected)
	assert.Equal(t, 1, transport.calls())
}

func TestConnect_Idempotent(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)

	m.Connect()
	m.Connect()
	m.Connect()
	waitForState(t, m, services.Connected)

	assert.Equal(t, 1, transport.calls(), "repeat Connect must not dial again")
}

// Deferred subscribe actions are drained exactly once, in FIFO order,
// on the transition into Connected.
func TestWhenConnected_DrainsQueueInOrder(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.WhenConnected(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	mu.Lock()
	assert.Empty(t, order, "actions must not run while disconnected")
	mu.Unlock()

	m.Connect()
	waitForState(t, m, services.Connected)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, order)
	mu.Unlock()
}

func TestWhenConnected_RunsImmediatelyWhenConnected(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)
	m.Connect()
	waitForState(t, m, services.Connected)

	ran := false
	m.WhenConnected(func() { ran = true })
	assert.True(t, ran)
}

func TestConnect_RetriesAfterFixedDelay(t *testing.T) {
	transport := &fakeTransport{connectErrs: []error{errors.New("dial refused")}}
	m, clock := setup(t, transport)

	m.Connect()

	// First attempt fails; the manager parks in Disconnected until the
	// reconnect timer fires.
	require.Eventually(t, func() bool { return transport.calls() == 1 },
		2*time.Second, 5*time.Millisecond)
	waitForState(t, m, services.Disconnected)

	require.Eventually(t, func() bool {
		clock.Advance(testReconnectDelay)
		return m.State() == services.Connected
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, transport.calls(), 2)
}

func TestTransportClosure_ReconnectsAndResubscribes(t *testing.T) {
	transport := &fakeTransport{}
	m, clock := setup(t, transport)
	m.Connect()
	waitForState(t, m, services.Connected)

	_, err := m.SubscribeSubject("pos.25544", func([]byte) {})
	require.NoError(t, err)

	transport.dropConnection(errors.New("broken pipe"))

	require.Eventually(t, func() bool {
		clock.Advance(testReconnectDelay)
		return m.State() == services.Connected && transport.calls() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// The subject watched before the drop is re-established.
	require.Eventually(t, func() bool {
		subjects := transport.subjects()
		count := 0
		for _, s := range subjects {
			if s == "pos.25544" {
				count++
			}
		}
		return count == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatFailure_TearsDownConnection(t *testing.T) {
	transport := &fakeTransport{}
	m, clock := setup(t, transport)
	m.Connect()
	waitForState(t, m, services.Connected)

	transport.mu.Lock()
	transport.pingErr = errors.New("flush timeout")
	transport.mu.Unlock()

	require.Eventually(t, func() bool {
		clock.Advance(testHeartbeatInterval)
		transport.mu.Lock()
		closed := transport.closeCalls > 0
		transport.mu.Unlock()
		return closed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeSubject_UnsubscribeIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)
	m.Connect()
	waitForState(t, m, services.Connected)

	sub, err := m.SubscribeSubject("pos.25544", func([]byte) {})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
}

func TestSubscribeSubject_TransportError(t *testing.T) {
	transport := new(mocks.MockBusTransport)
	transport.On("SetClosedHandler", mock.Anything).Return()
	transport.On("Connect", mock.Anything).Return(nil)
	transport.On("Subscribe", "pos.25544", mock.Anything).
		Return(nil, errors.New("subject rejected"))
	transport.On("Ping", mock.Anything).Return(nil)
	transport.On("Close").Return(nil)

	clock := common.NewManualClock(time.Unix(0, 0))
	m := New(context.Background(), transport, clock, testReconnectDelay, testHeartbeatInterval)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	m.Connect()
	waitForState(t, m, services.Connected)

	_, err := m.SubscribeSubject("pos.25544", func([]byte) {})
	require.Error(t, err)
	transport.AssertCalled(t, "Subscribe", "pos.25544", mock.Anything)
}

func TestShutdown_IsTerminal(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := setup(t, transport)
	m.Connect()
	waitForState(t, m, services.Connected)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, services.Disconnected, m.State())

	// No reconnect after shutdown.
	m.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, transport.calls())
}

func TestShutdown_InterruptsReconnectWait(t *testing.T) {
	transport := &fakeTransport{connectErrs: []error{errors.New("dial refused")}}
	m, _ := setup(t, transport)
	m.Connect()

	require.Eventually(t, func() bool { return transport.calls() == 1 },
		2*time.Second, 5*time.Millisecond)
	waitForState(t, m, services.Disconnected)

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on the reconnect timer")
	}
}
