// Package snapshot samples the book store on the HOT and WARM
// cadences and turns each key's depth into a row for the columnar
// writer.
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/clobwatch/internal/book"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/schema"
)

// RowSink receives finished snapshot rows.
type RowSink interface {
	Write(row schema.Row)
}

// Config holds the sampling cadences and depth limit.
type Config struct {
	Venue        string
	TopK         int
	HotInterval  time.Duration
	WarmInterval time.Duration

	// StaleAfter tags rows whose book has not updated within this
	// horizon. Zero disables stale tagging.
	StaleAfter time.Duration
}

// Snapshotter runs two tick loops over the current HOT and WARM key
// sets. Keys with no book state produce "empty" rows — attendance is
// a signal, so absence is recorded rather than skipped.
type Snapshotter struct {
	cfg    Config
	store  *book.Store
	sink   RowSink
	logger *slog.Logger

	mu   sync.RWMutex
	hot  map[model.Key]struct{}
	warm map[model.Key]struct{}
	// crossedLogged dedupes crossed-book logs to one per key per UTC day.
	crossedLogged map[model.Key]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time // test hook
}

// New creates a snapshotter reading from store into sink.
func New(cfg Config, store *book.Store, sink RowSink, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		cfg:           cfg,
		store:         store,
		sink:          sink,
		logger:        logger,
		hot:           make(map[model.Key]struct{}),
		warm:          make(map[model.Key]struct{}),
		crossedLogged: make(map[model.Key]string),
		now:           time.Now,
	}
}

// Start launches the HOT and WARM tick loops.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.loop(s.cfg.HotInterval, s.hotKeys)
	go s.loop(s.cfg.WarmInterval, s.warmKeys)
	s.logger.Info("snapshotter started",
		"venue", s.cfg.Venue,
		"hot_interval", s.cfg.HotInterval,
		"warm_interval", s.cfg.WarmInterval,
	)
	return nil
}

// Stop cancels both tick loops.
func (s *Snapshotter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("snapshotter stop timed out", "venue", s.cfg.Venue)
	}
	return nil
}

// UpdateSets replaces the HOT and WARM key sets after a scheduler
// rotation.
func (s *Snapshotter) UpdateSets(hot, warm map[model.Key]struct{}) {
	s.mu.Lock()
	s.hot = copySet(hot)
	s.warm = copySet(warm)
	s.mu.Unlock()
}

func (s *Snapshotter) hotKeys() []model.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setKeys(s.hot)
}

func (s *Snapshotter) warmKeys() []model.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setKeys(s.warm)
}

func (s *Snapshotter) loop(interval time.Duration, keys func() []model.Key) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(keys())
		}
	}
}

// tick samples every key in the tier once. Row order within a tick is
// arbitrary; ts_recv is captured per row so rows for one key stay
// monotonic.
func (s *Snapshotter) tick(keys []model.Key) {
	for _, key := range keys {
		s.sink.Write(s.sample(key))
	}
}

func (s *Snapshotter) sample(key model.Key) schema.Row {
	now := s.now()
	tsRecv := now.UnixMilli()

	depth, ok := s.store.Snapshot(key, s.cfg.TopK)
	if !ok {
		return schema.EmptyRow(tsRecv, s.cfg.Venue, key)
	}

	row := schema.NewRow(tsRecv, s.cfg.Venue, key, depth.Seq, depth.Bids, depth.Asks, depth.SourceTS)
	row.CapToTopK(s.cfg.TopK)

	if depth.Crossed {
		row.MarkCrossed()
		s.logCrossedOnce(key, now)
	} else if s.cfg.StaleAfter > 0 && depth.LastUpdateMS > 0 &&
		tsRecv-depth.LastUpdateMS > s.cfg.StaleAfter.Milliseconds() {
		row.MarkStale()
	}
	return row
}

func (s *Snapshotter) logCrossedOnce(key model.Key, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	s.mu.Lock()
	logged := s.crossedLogged[key] == day
	if !logged {
		s.crossedLogged[key] = day
	}
	s.mu.Unlock()
	if !logged {
		s.logger.Warn("crossed book",
			"venue", s.cfg.Venue,
			"market_id", key.MarketID,
			"outcome_id", key.OutcomeID,
		)
	}
}

func copySet(in map[model.Key]struct{}) map[model.Key]struct{} {
	out := make(map[model.Key]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func setKeys(in map[model.Key]struct{}) []model.Key {
	out := make([]model.Key, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	return out
}
