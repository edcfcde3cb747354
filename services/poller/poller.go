package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/metrics"
	"github.com/karansahani78/sattrack/services"
	slogctx "github.com/veqryn/slog-context"
)

// poller is the pull channel: per-entity interval refetch, independent
// of push availability. Every fetch runs under a context cancelled by
// the stop func, so an in-flight request from a stale tick can never
// deliver after the caller has moved on.
type poller struct {
	fetcher services.PositionFetcher
	clock   common.Clock
	logger  *slog.Logger
}

func New(ctx context.Context, fetcher services.PositionFetcher, clock common.Clock) services.PollingFallback {
	return &poller{
		fetcher: fetcher,
		clock:   clock,
		logger:  slogctx.FromCtx(ctx).With("component", "polling-fallback"),
	}
}

func (p *poller) Start(entity common.EntityID, interval time.Duration,
	onResult func(pos *ds.Position), onError func(err error)) func() {

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		p.fetchOnce(ctx, entity, onResult, onError)

		ticker := p.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				p.fetchOnce(ctx, entity, onResult, onError)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (p *poller) fetchOnce(ctx context.Context, entity common.EntityID,
	onResult func(pos *ds.Position), onError func(err error)) {

	start := p.clock.Now()
	pos, err := p.fetcher.CurrentPosition(ctx, entity, nil)
	metrics.PollLatencyHist.WithLabelValues(metrics.Hostname).
		Observe(float64(p.clock.Now().Sub(start).Milliseconds()))

	// A cancelled loop delivers nothing, not even an error: the caller
	// has moved on and a late write would be a zombie update.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		// Soft error: report and keep the loop running.
		p.logger.Warn("poll fetch failed", "entity", entity, "err", err)
		if onError != nil {
			onError(err)
		}
		return
	}
	if pos == nil {
		// No data yet for this entity; an empty result, not an error.
		return
	}
	if onResult != nil {
		onResult(pos)
	}
}
