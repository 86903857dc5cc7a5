package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/schema"
	"github.com/rickgao/clobwatch/internal/timebucket"
)

const (
	snapshotTable  = "orderbook_snapshots"
	snapshotPrefix = "snapshots_"
	writeRetries   = 3
	retryBackoff   = 250 * time.Millisecond
)

// WriterConfig controls buffering and partitioning for one venue's
// snapshot output.
type WriterConfig struct {
	Root          string
	Venue         string
	FlushRows     int
	FlushInterval time.Duration
	BucketMinutes int
}

// WriterStats counts writer activity.
type WriterStats struct {
	RowsBuffered int64
	RowsWritten  int64
	FilesWritten int64
	Flushes      int64
	WriteErrors  int64
	RowsDropped  int64
}

type partition struct {
	bucket  timebucket.Bucket
	rows    []schema.Record
	firstAt time.Time
}

// Writer buffers snapshot rows per time bucket and flushes them as
// parquet files. Write never blocks longer than a buffer append plus,
// when a size threshold trips or a row opens a newer bucket, the
// synchronous writes of the partitions that became due.
type Writer struct {
	cfg     WriterConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	parts map[timebucket.Bucket]*partition
	// fileSeqs counts flushes per bucket label so re-flushes within
	// one bucket get distinct file names.
	fileSeqs map[string]int
	stats    WriterStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a snapshot writer.
func NewWriter(cfg WriterConfig, m *metrics.Metrics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		parts:    make(map[timebucket.Bucket]*partition),
		fileSeqs: make(map[string]int),
	}
}

// Start begins the time-based flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.flushLoop()
	w.logger.Info("snapshot writer started",
		"venue", w.cfg.Venue,
		"flush_rows", w.cfg.FlushRows,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the flush loop and flushes all buffers.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping snapshot writer", "venue", w.cfg.Venue)
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("snapshot writer stop timed out", "venue", w.cfg.Venue)
	}
	w.Flush()
	return nil
}

// Write buffers one row. A row landing in a new bucket flushes older
// buckets (rollover); a buffer reaching FlushRows flushes itself.
func (w *Writer) Write(row schema.Row) {
	bucket := timebucket.FromMillis(row.TsRecv, w.cfg.BucketMinutes)

	w.mu.Lock()
	p, ok := w.parts[bucket]
	if !ok {
		p = &partition{bucket: bucket, firstAt: time.Now()}
		w.parts[bucket] = p
	}
	p.rows = append(p.rows, row.Record())
	w.stats.RowsBuffered++

	var due []*partition
	for b, other := range w.parts {
		if b.Before(bucket) {
			due = append(due, other)
			delete(w.parts, b)
		}
	}
	if len(p.rows) >= w.cfg.FlushRows {
		due = append(due, p)
		delete(w.parts, bucket)
	}
	w.mu.Unlock()

	w.flushPartitions(due)
}

// BufferedRows returns the current buffer size across partitions.
func (w *Writer) BufferedRows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range w.parts {
		n += len(p.rows)
	}
	return n
}

// Flush writes out every buffered partition.
func (w *Writer) Flush() {
	w.mu.Lock()
	var due []*partition
	for b, p := range w.parts {
		due = append(due, p)
		delete(w.parts, b)
	}
	w.mu.Unlock()
	w.flushPartitions(due)
}

// Stats returns a copy of the counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushExpired()
		}
	}
}

func (w *Writer) flushExpired() {
	now := time.Now()
	w.mu.Lock()
	var due []*partition
	for b, p := range w.parts {
		if len(p.rows) > 0 && now.Sub(p.firstAt) >= w.cfg.FlushInterval {
			due = append(due, p)
			delete(w.parts, b)
		}
	}
	w.mu.Unlock()
	w.flushPartitions(due)
}

func (w *Writer) flushPartitions(due []*partition) {
	sort.Slice(due, func(i, j int) bool { return due[i].bucket.Before(due[j].bucket) })
	for _, p := range due {
		if len(p.rows) == 0 {
			continue
		}
		w.flushOne(p)
	}
}

func (w *Writer) flushOne(p *partition) {
	label := p.bucket.Label()

	w.mu.Lock()
	seq := w.fileSeqs[label]
	w.fileSeqs[label]++
	w.pruneFileSeqs(label)
	w.mu.Unlock()

	dir := p.bucket.Dir(w.cfg.Root, snapshotTable, w.cfg.Venue)
	name := snapshotPrefix + label
	if seq == 0 {
		// A final file or an orphaned .tmp left by an earlier process
		// may already hold the bare label; leave it untouched.
		bare := filepath.Join(dir, name+".parquet")
		if _, err := os.Stat(bare); err == nil {
			seq = 1
		} else if _, err := os.Stat(bare + ".tmp"); err == nil {
			seq = 1
		}
	}
	if seq > 0 {
		name += "_" + uuid.NewString()[:8]
	}
	final := filepath.Join(dir, name+".parquet")

	start := time.Now()
	err := writeWithRetries(func() error {
		return writeSnapshotFile(dir, final, p.rows)
	})

	w.mu.Lock()
	w.stats.Flushes++
	w.stats.RowsBuffered -= int64(len(p.rows))
	if err != nil {
		w.stats.WriteErrors++
		w.stats.RowsDropped += int64(len(p.rows))
		w.mu.Unlock()
		// Dropping the buffer is deliberate: unbounded retry would
		// grow memory without bound while the disk is sick.
		w.metrics.RecordWriterDrop()
		w.logger.Error("flush failed, dropping partition buffer",
			"venue", w.cfg.Venue,
			"file", final,
			"rows", len(p.rows),
			"error", err,
		)
		return
	}
	w.stats.RowsWritten += int64(len(p.rows))
	w.stats.FilesWritten++
	w.mu.Unlock()

	elapsed := time.Since(start)
	if elapsed > 30*time.Second {
		w.logger.Warn("slow flush", "venue", w.cfg.Venue, "file", final, "duration", elapsed)
	}
	w.logger.Debug("flushed partition",
		"venue", w.cfg.Venue,
		"file", final,
		"rows", len(p.rows),
		"duration", elapsed,
	)
}

// pruneFileSeqs, once more than 8 counters are held, drops the
// counters of every bucket earlier than current; labels sort
// chronologically so a lexicographic compare suffices.
func (w *Writer) pruneFileSeqs(current string) {
	if len(w.fileSeqs) <= 8 {
		return
	}
	for label := range w.fileSeqs {
		if label < current {
			delete(w.fileSeqs, label)
		}
	}
}

func writeWithRetries(write func() error) error {
	var err error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		time.Sleep(retryBackoff * time.Duration(attempt))
	}
	return err
}

// writeSnapshotFile writes rows to {final}.tmp, fsyncs, and renames.
func writeSnapshotFile(dir, final string, rows []schema.Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	tmp := final + ".tmp"

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(schema.Record), 2)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	enc := schema.ListEncodingJSON
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{
		Key:   schema.ListEncodingKey,
		Value: &enc,
	})

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("finalize parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := fsync(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func fsync(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open for fsync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}
