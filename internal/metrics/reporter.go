package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reporter logs a metrics summary on a fixed interval and a final
// summary on stop. Subscription and buffer sizes are pulled through
// provider callbacks so the reporter holds no component references.
type Reporter struct {
	metrics  *Metrics
	interval time.Duration
	logger   *slog.Logger

	// Providers; nil providers report zero.
	Subscriptions func() int
	BufferedRows  func() int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter creates a reporter for one venue's metrics.
func NewReporter(m *Metrics, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		metrics:  m,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic reporting.
func (r *Reporter) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop halts reporting and logs the final summary.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	r.report("final metrics")
	return nil
}

func (r *Reporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.report("metrics")
		}
	}
}

func (r *Reporter) report(msg string) {
	s := r.metrics.Snapshot()
	subs, buffered := 0, 0
	if r.Subscriptions != nil {
		subs = r.Subscriptions()
	}
	if r.BufferedRows != nil {
		buffered = r.BufferedRows()
	}
	r.metrics.SetSubscriptions(subs)
	r.metrics.SetBufferedRows(buffered)

	r.logger.Info(msg,
		"venue", r.metrics.Venue(),
		"messages", s.Messages,
		"updates", s.Updates,
		"subscriptions", subs,
		"buffered_rows", buffered,
		"parse_errors", s.ParseErrors,
		"unknown_tokens", s.UnknownTokens,
		"dropped_frames", s.DroppedFrames,
		"transport_errors", s.TransportErrors,
		"writer_drops", s.WriterDrops,
		"seq_gaps", s.SeqGaps,
		"out_of_order", s.OutOfOrder,
		"keys_with_gaps", s.KeysWithGaps,
	)
}
