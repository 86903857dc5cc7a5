package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/timebucket"
)

const (
	tradeTable      = "trades"
	tradePrefix     = "trades_"
	tradeFlushRows  = 500
	tradeFlushEvery = 5 * time.Second
)

// tradeRecord is the parquet row for one trade event. Venue string
// fields are kept verbatim; absent values stay empty.
type tradeRecord struct {
	TsRecv      int64  `parquet:"name=ts_recv, type=INT64"`
	Venue       string `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID    string `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutcomeID   string `parquet:"name=outcome_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetID     string `parquet:"name=asset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType   string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size        string `parquet:"name=size, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side        string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimestampMS *int64 `parquet:"name=timestamp_ms, type=INT64, repetitiontype=OPTIONAL"`
	TxHash      string `parquet:"name=transaction_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// TradeWriter buffers trade events and flushes them to the trades
// partition layout with the same tmp+rename discipline as snapshots.
type TradeWriter struct {
	root          string
	venue         string
	bucketMinutes int
	logger        *slog.Logger

	mu        sync.Mutex
	buf       []tradeRecord
	lastFlush time.Time
	written   int64
	dropped   int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTradeWriter creates a trade writer.
func NewTradeWriter(root, venue string, bucketMinutes int, logger *slog.Logger) *TradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeWriter{
		root:          root,
		venue:         venue,
		bucketMinutes: bucketMinutes,
		logger:        logger,
		lastFlush:     time.Now(),
	}
}

// Start begins the time-based flush loop.
func (t *TradeWriter) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.flushLoop()
	return nil
}

// Stop halts the loop and flushes the buffer.
func (t *TradeWriter) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	t.Flush()
	return nil
}

// Write buffers one trade event.
func (t *TradeWriter) Write(ev model.TradeEvent) {
	rec := tradeRecord{
		TsRecv:    ev.ReceivedAt,
		Venue:     t.venue,
		MarketID:  ev.Key.MarketID,
		OutcomeID: ev.Key.OutcomeID,
		AssetID:   ev.AssetID,
		EventType: ev.EventType,
		Price:     ev.Price,
		Size:      ev.Size,
		Side:      ev.Side,
		Timestamp: ev.Timestamp,
		TxHash:    ev.TxHash,
	}
	if ev.TimestampMS != 0 {
		ms := ev.TimestampMS
		rec.TimestampMS = &ms
	}

	t.mu.Lock()
	t.buf = append(t.buf, rec)
	full := len(t.buf) >= tradeFlushRows
	t.mu.Unlock()

	if full {
		t.Flush()
	}
}

// Flush writes the buffered trades.
func (t *TradeWriter) Flush() {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.lastFlush = time.Now()
		t.mu.Unlock()
		return
	}
	batch := t.buf
	t.buf = nil
	t.lastFlush = time.Now()
	t.mu.Unlock()

	bucket := timebucket.FromMillis(batch[0].TsRecv, t.bucketMinutes)
	dir := bucket.Dir(t.root, tradeTable, t.venue)
	final := filepath.Join(dir, tradePrefix+bucket.Label()+".parquet")
	if _, err := os.Stat(final); err == nil {
		// Another flush already closed a file for this bucket.
		final = filepath.Join(dir, tradePrefix+bucket.Label()+"_"+uuid.NewString()[:8]+".parquet")
	}

	err := writeWithRetries(func() error {
		return writeTradeFile(dir, final, batch)
	})

	t.mu.Lock()
	if err != nil {
		t.dropped += int64(len(batch))
	} else {
		t.written += int64(len(batch))
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("trade flush failed, dropping batch",
			"venue", t.venue,
			"rows", len(batch),
			"error", err,
		)
		return
	}
	t.logger.Debug("flushed trades", "venue", t.venue, "file", final, "rows", len(batch))
}

// Written returns the number of persisted trade rows.
func (t *TradeWriter) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

func (t *TradeWriter) flushLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			due := len(t.buf) > 0 && time.Since(t.lastFlush) >= tradeFlushEvery
			t.mu.Unlock()
			if due {
				t.Flush()
			}
		}
	}
}

func writeTradeFile(dir, final string, rows []tradeRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	tmp := final + ".tmp"

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(tradeRecord), 2)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

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
