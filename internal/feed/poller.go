package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/streamid"
)

// KeySource supplies the keys to refresh on each tick. *Manager satisfies it.
type KeySource interface {
	Keys() []domain.SubscriptionKey
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval         time.Duration            // tick period (default: 3s)
	Concurrency      int                      // max concurrent snapshot reads (default: 8)
	Timeout          time.Duration            // per-read timeout (default: 5s)
	OnlyWhenDegraded bool                     // skip ticks while quality is good
	Watch            []domain.SubscriptionKey // always refreshed
}

// DefaultPollerConfig returns the reference cadence.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    3 * time.Second,
		Concurrency: 8,
		Timeout:     5 * time.Second,
	}
}

// PollStats counts poller outcomes since start.
type PollStats struct {
	Ticks   int64 `json:"ticks"`
	Skipped int64 `json:"skipped"`
	Applied int64 `json:"applied"`
	Absent  int64 `json:"absent"`
	Errors  int64 `json:"errors"`
}

// Poller refreshes subscribed entities from bulk snapshots on a fixed tick,
// independent of push delivery. Results go through the same Applier as push
// records.
type Poller struct {
	cfg     PollerConfig
	reader  domain.SnapshotReader
	deriver *streamid.Deriver
	keys    KeySource
	applier *Applier
	conn    *ConnectionState
	logger  *slog.Logger

	ticks, skipped, applied, absent, errs atomic.Int64
}

// NewPoller creates a Poller. keys may be nil when only Watch keys are polled.
func NewPoller(cfg PollerConfig, reader domain.SnapshotReader, deriver *streamid.Deriver, keys KeySource, applier *Applier, conn *ConnectionState, logger *slog.Logger) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		reader:  reader,
		deriver: deriver,
		keys:    keys,
		applier: applier,
		conn:    conn,
		logger:  logger.With(slog.String("component", "poller")),
	}
}

// Run polls immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Bool("only_when_degraded", p.cfg.OnlyWhenDegraded),
	)
	defer p.logger.Info("poller stopped")

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single refresh cycle. A failed read is logged and counted;
// it never aborts the rest of the cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	p.ticks.Add(1)
	if p.cfg.OnlyWhenDegraded && p.conn != nil && p.conn.Quality() == domain.QualityGood {
		p.skipped.Add(1)
		p.logger.Debug("poll skipped, push delivery healthy")
		return
	}

	keys := p.refreshSet()
	if len(keys) == 0 {
		p.logger.Debug("nothing to poll")
		return
	}

	start := time.Now()
	var applied, absent, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, k := range keys {
		g.Go(func() error {
			switch err := p.pollKey(gctx, k); {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, domain.ErrNotFound):
				absent.Add(1)
			case gctx.Err() != nil:
			default:
				failed.Add(1)
				p.logger.Warn("poll fetch failed",
					slog.String("key", k.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.applied.Add(applied.Load())
	p.absent.Add(absent.Load())
	p.errs.Add(failed.Load())
	p.logger.Debug("poll cycle complete",
		slog.Int("keys", len(keys)),
		slog.Int64("applied", applied.Load()),
		slog.Int64("absent", absent.Load()),
		slog.Int64("errors", failed.Load()),
		slog.Duration("duration", time.Since(start)),
	)
}

// pollKey re-derives the stream and schema ids and applies the snapshot.
func (p *Poller) pollKey(ctx context.Context, k domain.SubscriptionKey) error {
	stream, err := p.deriver.ForKey(k)
	if err != nil {
		return err
	}
	schema, _ := streamid.SchemaFor(k.Kind)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	rec, err := p.reader.GetByKey(ctx, schema, stream)
	if err != nil {
		return err
	}
	if len(rec) == 0 {
		return domain.ErrNotFound
	}
	err = p.applier.Apply(k, rec, SourcePoll)
	if errors.Is(err, domain.ErrMalformedRecord) {
		// Partial records have still been applied.
		return nil
	}
	return err
}

// refreshSet returns the watch and manager keys, deduplicated. Trade streams
// carry a single immutable trade, so re-reading one would only append the
// same trade to the history again; they are left to push delivery.
func (p *Poller) refreshSet() []domain.SubscriptionKey {
	seen := make(map[domain.SubscriptionKey]bool)
	var out []domain.SubscriptionKey
	add := func(k domain.SubscriptionKey) {
		if k.Kind != domain.KindTrade && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range p.cfg.Watch {
		add(k)
	}
	if p.keys != nil {
		for _, k := range p.keys.Keys() {
			add(k)
		}
	}
	return out
}

// Stats returns cumulative counters.
func (p *Poller) Stats() PollStats {
	return PollStats{
		Ticks:   p.ticks.Load(),
		Skipped: p.skipped.Load(),
		Applied: p.applied.Load(),
		Absent:  p.absent.Load(),
		Errors:  p.errs.Load(),
	}
}
