// Package collector wires one venue's pipeline together — adapter,
// book store, scheduler, subscription manager, snapshotter, writers,
// metrics — and owns its lifetime.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/clobwatch/internal/book"
	"github.com/rickgao/clobwatch/internal/config"
	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/scheduler"
	"github.com/rickgao/clobwatch/internal/snapshot"
	"github.com/rickgao/clobwatch/internal/storage"
	"github.com/rickgao/clobwatch/internal/subs"
	"github.com/rickgao/clobwatch/internal/universe"
	"github.com/rickgao/clobwatch/internal/venue"
)

// reconcileEvery is how often deferred subscription work retries
// between rotations.
const reconcileEvery = 10 * time.Second

// staleAfter tags snapshot rows whose book stopped updating.
const staleAfter = 2 * time.Minute

// Collector runs the full pipeline for one venue.
type Collector struct {
	cfg       *config.Config
	vcfg      *config.VenueConfig
	venueName string

	venue    venue.Venue
	index    *universe.Index
	store    *book.Store
	writer   *storage.Writer
	trades   *storage.TradeWriter
	sched    *scheduler.Scheduler
	subs     *subs.Manager
	snap     *snapshot.Snapshotter
	metrics  *metrics.Metrics
	reporter *metrics.Reporter
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New wires a collector for one venue. The venue adapter and universe
// index are injected so mock mode swaps cleanly.
func New(cfg *config.Config, venueName string, vcfg *config.VenueConfig, v venue.Venue, index *universe.Index, m *metrics.Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	store := book.NewStore()
	writer := storage.NewWriter(storage.WriterConfig{
		Root:          cfg.Storage.Root,
		Venue:         venueName,
		FlushRows:     cfg.Storage.FlushRows,
		FlushInterval: time.Duration(cfg.Storage.FlushSeconds) * time.Second,
		BucketMinutes: cfg.Storage.BucketMinutes,
	}, m, logger)
	trades := storage.NewTradeWriter(cfg.Storage.Root, venueName, cfg.Storage.BucketMinutes, logger)

	sched := scheduler.New(scheduler.Config{
		MaxSubs:              vcfg.MaxSubs,
		HotSize:              vcfg.HotSize(),
		RotationPeriod:       vcfg.RotationPeriod(),
		ExcludeTitlePatterns: vcfg.ExcludeTitlePatterns,
		MinHoursUntilClose:   vcfg.MinHoursUntilClose,
	}, venueName, index, logger)

	manager := subs.NewManager(v, vcfg.ChurnLimitPerMinute, logger)

	snap := snapshot.New(snapshot.Config{
		Venue:        venueName,
		TopK:         cfg.Storage.TopK,
		HotInterval:  vcfg.HotInterval(),
		WarmInterval: vcfg.WarmInterval(),
		StaleAfter:   staleAfter,
	}, store, writer, logger)

	reporter := metrics.NewReporter(m, time.Minute, logger)
	reporter.Subscriptions = manager.Count
	reporter.BufferedRows = writer.BufferedRows

	return &Collector{
		cfg:       cfg,
		vcfg:      vcfg,
		venueName: venueName,
		venue:     v,
		index:     index,
		store:     store,
		writer:    writer,
		trades:    trades,
		sched:     sched,
		subs:      manager,
		snap:      snap,
		metrics:   m,
		reporter:  reporter,
		logger:    logger,
	}
}

// Run executes the pipeline until ctx is cancelled, then shuts down
// in order: snapshot timers, adapter, pumps, writers (final flush),
// reporter (final summary).
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("starting collector",
		"venue", c.venueName,
		"max_subs", c.vcfg.MaxSubs,
		"hot_size", c.vcfg.HotSize(),
		"rotation_period", c.vcfg.RotationPeriod(),
		"churn_limit_per_min", c.vcfg.ChurnLimitPerMinute,
		"universe_tokens", c.index.Len(),
	)

	if err := c.writer.Start(ctx); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}
	if err := c.trades.Start(ctx); err != nil {
		return fmt.Errorf("start trade writer: %w", err)
	}

	if err := c.venue.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", c.venueName, err)
	}

	// Pumps drain the adapter channels for the life of the process.
	c.wg.Add(2)
	go c.eventLoop()
	go c.tradeLoop()

	// Initial rotation before the snapshot timers start, so the first
	// ticks already have tiers to sample.
	c.rotate()

	if err := c.snap.Start(ctx); err != nil {
		return fmt.Errorf("start snapshotter: %w", err)
	}
	if err := c.reporter.Start(ctx); err != nil {
		return fmt.Errorf("start reporter: %w", err)
	}

	ticker := time.NewTicker(reconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-ticker.C:
			if c.cfg.RotationEnabled() && c.sched.ShouldRotate() {
				c.rotate()
			} else {
				// Retry work deferred by the churn budget.
				c.reconcile()
			}
		}
	}
}

// rotate recomputes the desired sets from universe and stats, hands
// the tiers to the snapshotter, and reconciles subscriptions.
func (c *Collector) rotate() {
	stats, err := scheduler.LoadStats(c.cfg.Storage.Root, c.venueName, time.Now())
	if err != nil {
		c.logger.Warn("stats load failed, ranking without stats",
			"venue", c.venueName, "error", err)
	}

	hot, warm := c.sched.Desired(stats)
	c.snap.UpdateSets(hot, warm)
	c.reconcile()
	c.sched.MarkRotated()
}

func (c *Collector) reconcile() {
	hotTok := c.index.Tokens(c.sched.Hot())
	warmTok := c.index.Tokens(c.sched.Warm())
	ops, err := c.subs.Reconcile(hotTok, warmTok)
	if err != nil {
		c.logger.Warn("reconcile failed", "venue", c.venueName, "error", err)
		return
	}
	if ops > 0 {
		c.metrics.SetSubscriptions(c.subs.Count())
	}
}

// eventLoop applies book events in receive order. Per-key ordering
// holds because one goroutine drains the channel.
func (c *Collector) eventLoop() {
	defer c.wg.Done()
	for ev := range c.venue.Events() {
		received := ev.ReceivedAt.UnixMilli()
		if ev.Snapshot {
			c.store.ApplySnapshot(ev.Key, ev.Bids, ev.Asks, ev.Seq, received, ev.SourceTS)
		} else {
			c.store.ApplyDelta(ev.Key, ev.Changes, ev.Seq, received)
		}
		c.metrics.RecordUpdate(ev.Key, ev.VenueSeq)
	}
}

func (c *Collector) tradeLoop() {
	defer c.wg.Done()
	for ev := range c.venue.Trades() {
		c.trades.Write(ev)
	}
}

func (c *Collector) shutdown() error {
	c.logger.Info("shutting down collector", "venue", c.venueName)
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.snap.Stop(stopCtx)

	if err := c.venue.Close(); err != nil {
		c.logger.Warn("venue close failed", "venue", c.venueName, "error", err)
	}
	c.wg.Wait() // pumps exit once the adapter channels close

	c.trades.Stop(stopCtx)
	c.writer.Stop(stopCtx)
	c.reporter.Stop(stopCtx)

	c.logger.Info("collector stopped", "venue", c.venueName)
	return nil
}
