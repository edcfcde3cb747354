package capability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/services"
)

// Guard tolerates a bus collaborator whose surface may still be missing
// optional capabilities: the bus client evolves independently and can
// lag the dashboard. A capability the collaborator does not implement
// degrades to "feature currently inactive" instead of a crash.
//
// Capabilities are modeled as optional interfaces. The guard
// type-asserts at call time and, when the assertion fails, logs a
// warning once per capability and hands back a working no-op
// unsubscribe func. It never panics and never returns an error.
type Guard struct {
	logger *slog.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

func New(logger *slog.Logger) *Guard {
	return &Guard{
		logger: logger.With("component", "capability-guard"),
		warned: make(map[string]struct{}),
	}
}

// Subscribe delegates to collab's push-subscribe capability when it is
// present, and is a no-op subscription otherwise.
func (g *Guard) Subscribe(ctx context.Context, collab any, entity common.EntityID, cb services.PositionCallback) services.UnsubscribeFunc {
	return Call(g, collab, "Subscribe", func(ps services.PushSubscriber) services.UnsubscribeFunc {
		return ps.Subscribe(ctx, entity, cb)
	})
}

// Call is the reusable combinator underneath every guarded capability:
// assert the capability interface, delegate when present, warn once and
// no-op when absent.
func Call[T any](g *Guard, collab any, name string, invoke func(capability T) services.UnsubscribeFunc) services.UnsubscribeFunc {
	impl, ok := collab.(T)
	if !ok {
		g.warnOnce(name)
		return func() {}
	}
	return invoke(impl)
}

func (g *Guard) warnOnce(name string) {
	g.mu.Lock()
	_, seen := g.warned[name]
	g.warned[name] = struct{}{}
	g.mu.Unlock()
	if !seen {
		g.logger.Warn("bus collaborator lacks capability, subscription inactive", "capability", name)
	}
}
