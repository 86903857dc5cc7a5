package collector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/clobwatch/internal/config"
	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/universe"
	"github.com/rickgao/clobwatch/internal/venue"
)

// TestRun_MockEndToEnd drives the whole pipeline against the mock
// venue: rotate, subscribe, ingest, snapshot, flush on shutdown.
func TestRun_MockEndToEnd(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Root:          root,
			TopK:          10,
			FlushRows:     10_000,
			FlushSeconds:  3600, // rely on the shutdown flush
			BucketMinutes: 5,
		},
	}
	vcfg := &config.VenueConfig{
		Enabled:                true,
		MaxSubs:                20,
		RotationPeriodSecs:     3600,
		SnapshotIntervalMSHot:  50,
		SnapshotIntervalMSWarm: 100,
		ChurnLimitPerMinute:    100,
	}

	m := metrics.New("collector-" + t.Name())
	mock := venue.NewMock("mock", 25, m)
	index := universe.NewIndex(mock.Universe())

	c := New(cfg, "mock", vcfg, mock, index, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(2 * time.Second)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not stop within 30s")
	}

	// Subscription capacity was respected.
	if got := c.subs.Count(); got > vcfg.MaxSubs {
		t.Errorf("subscriptions = %d, exceeds max_subs %d", got, vcfg.MaxSubs)
	}
	if got := c.subs.Count(); got == 0 {
		t.Error("no subscriptions after initial reconcile")
	}

	// Snapshot rows flushed on shutdown into the partition layout.
	var parquetFiles, tmpFiles int
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		switch {
		case strings.HasSuffix(path, ".tmp"):
			tmpFiles++
		case strings.HasSuffix(path, ".parquet"):
			parquetFiles++
			if !strings.Contains(path, "venue=mock") {
				t.Errorf("file outside venue partition: %s", path)
			}
		}
		return nil
	})
	if parquetFiles == 0 {
		t.Error("no parquet files written")
	}
	if tmpFiles != 0 {
		t.Errorf("tmp files left behind: %d", tmpFiles)
	}

	// The adapter produced updates and the store applied them.
	if s := m.Snapshot(); s.Updates == 0 {
		t.Error("no updates applied")
	}
	if c.store.Len() == 0 {
		t.Error("book store empty after run")
	}
}

// TestRotate_ReconcilesWithinBudget checks that a single rotation
// never exceeds the churn budget.
func TestRotate_ReconcilesWithinBudget(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Root:          root,
			TopK:          10,
			FlushRows:     10_000,
			FlushSeconds:  3600,
			BucketMinutes: 5,
		},
	}
	vcfg := &config.VenueConfig{
		Enabled:                true,
		MaxSubs:                20,
		RotationPeriodSecs:     3600,
		SnapshotIntervalMSHot:  1000,
		SnapshotIntervalMSWarm: 1000,
		ChurnLimitPerMinute:    5,
	}

	m := metrics.New("collector-" + t.Name())
	mock := venue.NewMock("mock", 30, m)
	index := universe.NewIndex(mock.Universe())
	c := New(cfg, "mock", vcfg, mock, index, m, nil)

	if err := mock.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	c.rotate()
	if got := c.subs.ChurnInWindow(); got > 5 {
		t.Errorf("churn in window = %d, exceeds limit 5", got)
	}
	if got := c.subs.Count(); got > 5 {
		t.Errorf("subscriptions = %d, want <= churn budget on first cycle", got)
	}
}
