package common

import (
	"sync"
	"time"
)

// Clock abstracts time for components driven by timers (reconnect delay,
// heartbeat, poll interval) so their policies can be unit-tested without
// real sleeps.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock is the wall-clock implementation used outside tests.
type RealClock struct{}

func NewRealClock() Clock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

func (RealClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

type realTicker struct{ t *time.Ticker }

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }

type realTimer struct{ t *time.Timer }

func (rt realTimer) C() <-chan time.Time { return rt.t.C }
func (rt realTimer) Stop() bool          { return rt.t.Stop() }

// ManualClock is a test clock advanced explicitly with Advance. Timers and
// tickers fire when the manual time passes their deadline.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	ch       chan time.Time
	deadline time.Time
	period   time.Duration // 0 for timers
	stopped  bool
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and fires every timer or ticker whose
// deadline has passed.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	var fired []*manualWaiter
	for _, w := range m.waiters {
		for !w.stopped && !w.deadline.After(now) {
			fired = append(fired, w)
			if w.period > 0 {
				w.deadline = w.deadline.Add(w.period)
			} else {
				w.stopped = true
			}
		}
	}
	m.mu.Unlock()

	for _, w := range fired {
		select {
		case w.ch <- now:
		default:
		}
	}
}

func (m *ManualClock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{ch: make(chan time.Time, 1), deadline: m.now.Add(d), period: d}
	m.waiters = append(m.waiters, w)
	return manualTicker{m, w}
}

func (m *ManualClock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{ch: make(chan time.Time, 1), deadline: m.now.Add(d)}
	m.waiters = append(m.waiters, w)
	return manualTimer{m, w}
}

type manualTicker struct {
	clock *ManualClock
	w     *manualWaiter
}

func (mt manualTicker) C() <-chan time.Time { return mt.w.ch }

func (mt manualTicker) Stop() {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	mt.w.stopped = true
}

type manualTimer struct {
	clock *ManualClock
	w     *manualWaiter
}

func (mt manualTimer) C() <-chan time.Time { return mt.w.ch }

func (mt manualTimer) Stop() bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()
	wasRunning := !mt.w.stopped
	mt.w.stopped = true
	return wasRunning
}
