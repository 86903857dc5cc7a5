package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/schema"
)

var testKey = model.Key{MarketID: "0xabc", OutcomeID: "1"}

func testRow(tsRecv int64, seq int64) schema.Row {
	return schema.NewRow(tsRecv, "testvenue", testKey, seq,
		[]model.PriceLevel{{Price: 0.50, Size: 100}},
		[]model.PriceLevel{{Price: 0.53, Size: 150}}, 0)
}

func newTestWriter(t *testing.T, flushRows int) (*Writer, string) {
	t.Helper()
	root := t.TempDir()
	w := NewWriter(WriterConfig{
		Root:          root,
		Venue:         "testvenue",
		FlushRows:     flushRows,
		FlushInterval: time.Hour, // time trigger disabled for tests
		BucketMinutes: 5,
	}, metrics.New("storage-"+t.Name()), nil)
	return w, root
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func readRecords(t *testing.T, path string) []schema.Record {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(schema.Record), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	recs := make([]schema.Record, int(pr.GetNumRows()))
	if err := pr.Read(&recs); err != nil {
		t.Fatalf("read records: %v", err)
	}
	return recs
}

const ts0 = int64(1_705_300_000_000) // 2024-01-15T06:26:40Z

func TestWriter_SizeFlushAndAtomicity(t *testing.T) {
	w, root := newTestWriter(t, 3)

	for i := 0; i < 3; i++ {
		w.Write(testRow(ts0+int64(i), int64(i+1)))
	}

	files := listFiles(t, root)
	if len(files) != 1 {
		t.Fatalf("files = %v, want exactly one", files)
	}
	if strings.HasSuffix(files[0], ".tmp") {
		t.Fatalf("flush left a .tmp behind: %s", files[0])
	}
	if !strings.Contains(files[0], "venue=testvenue") || !strings.Contains(files[0], "date=2024-01-15") {
		t.Errorf("unexpected partition path: %s", files[0])
	}

	recs := readRecords(t, files[0])
	if len(recs) != 3 {
		t.Fatalf("rows in file = %d, want 3", len(recs))
	}
	if recs[0].Venue != "testvenue" || recs[0].MarketID != "0xabc" {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].BidPx != "[0.5]" {
		t.Errorf("BidPx = %q, want JSON list", recs[0].BidPx)
	}

	stats := w.Stats()
	if stats.RowsWritten != 3 || stats.FilesWritten != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriter_ListEncodingMetadata(t *testing.T) {
	w, root := newTestWriter(t, 1)
	w.Write(testRow(ts0, 1))

	files := listFiles(t, root)
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}

	fr, err := local.NewLocalFileReader(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(schema.Record), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()

	found := false
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Key == schema.ListEncodingKey && kv.Value != nil && *kv.Value == schema.ListEncodingJSON {
			found = true
		}
	}
	if !found {
		t.Error("footer missing list-encoding metadata")
	}
}

func TestWriter_BucketRollover(t *testing.T) {
	// Rows straddling a bucket boundary land in distinct
	// files and no row crosses.
	w, root := newTestWriter(t, 1000)

	before := time.Date(2024, 1, 15, 1, 4, 59, 0, time.UTC).UnixMilli()
	after := time.Date(2024, 1, 15, 1, 5, 1, 0, time.UTC).UnixMilli()

	w.Write(testRow(before, 1))
	w.Write(testRow(after, 2)) // rollover flushes the older bucket
	w.Flush()

	files := listFiles(t, root)
	if len(files) != 2 {
		t.Fatalf("files = %v, want two", files)
	}

	var first, second string
	for _, f := range files {
		switch {
		case strings.Contains(f, "T01-00.parquet"):
			first = f
		case strings.Contains(f, "T01-05.parquet"):
			second = f
		}
	}
	if first == "" || second == "" {
		t.Fatalf("expected T01-00 and T01-05 files, got %v", files)
	}
	if !strings.Contains(first, "hour=01") || !strings.Contains(second, "hour=01") {
		t.Errorf("hour partition wrong: %v", files)
	}

	if recs := readRecords(t, first); len(recs) != 1 || recs[0].Seq != 1 {
		t.Errorf("first bucket rows = %+v, want the seq=1 row only", recs)
	}
	if recs := readRecords(t, second); len(recs) != 1 || recs[0].Seq != 2 {
		t.Errorf("second bucket rows = %+v, want the seq=2 row only", recs)
	}
}

func TestWriter_ReflushSameBucketDistinctFiles(t *testing.T) {
	w, root := newTestWriter(t, 2)

	for i := 0; i < 4; i++ {
		w.Write(testRow(ts0+int64(i), int64(i+1)))
	}

	files := listFiles(t, root)
	if len(files) != 2 {
		t.Fatalf("files = %v, want two files for two flushes", files)
	}
	if files[0] == files[1] {
		t.Error("re-flush reused the same file name")
	}
	total := len(readRecords(t, files[0])) + len(readRecords(t, files[1]))
	if total != 4 {
		t.Errorf("total rows = %d, want 4", total)
	}
}

func TestWriter_StrayTmpIgnored(t *testing.T) {
	// A crash leaves only a .tmp; subsequent writes keep
	// working and final files never collide with it.
	w, root := newTestWriter(t, 1)

	bucketDir := filepath.Join(root, "orderbook_snapshots", "venue=testvenue", "date=2024-01-15", "hour=06")
	if err := os.MkdirAll(bucketDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(bucketDir, "snapshots_2024-01-15T06-25.parquet.tmp")
	if err := os.WriteFile(stray, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	w.Write(testRow(ts0, 1))

	var finals, tmps int
	for _, f := range listFiles(t, root) {
		if strings.HasSuffix(f, ".tmp") {
			tmps++
		} else {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("final files = %d, want 1", finals)
	}
	if tmps != 1 {
		t.Errorf("tmp files = %d, want the stray only", tmps)
	}
}

func TestWriter_SourceTSRoundTrip(t *testing.T) {
	w, root := newTestWriter(t, 1)
	row := schema.NewRow(ts0, "testvenue", testKey, 1,
		[]model.PriceLevel{{Price: 0.5, Size: 1}},
		[]model.PriceLevel{{Price: 0.6, Size: 1}}, 987654321)
	w.Write(row)

	files := listFiles(t, root)
	recs := readRecords(t, files[0])
	if len(recs) != 1 {
		t.Fatalf("rows = %d, want 1", len(recs))
	}
	if recs[0].SourceTS == nil || *recs[0].SourceTS != 987654321 {
		t.Errorf("SourceTS = %v, want 987654321", recs[0].SourceTS)
	}
}

func TestTradeWriter_Flush(t *testing.T) {
	root := t.TempDir()
	tw := NewTradeWriter(root, "testvenue", 5, nil)

	tw.Write(model.TradeEvent{
		AssetID:     "tok1",
		Key:         testKey,
		EventType:   "last_trade_price",
		Price:       "0.51",
		Size:        "25",
		Side:        "BUY",
		TimestampMS: ts0,
		ReceivedAt:  ts0,
	})
	tw.Flush()

	files := listFiles(t, root)
	if len(files) != 1 {
		t.Fatalf("files = %v, want one", files)
	}
	if !strings.Contains(files[0], filepath.Join("trades", "venue=testvenue")) {
		t.Errorf("trade file path = %s", files[0])
	}
	if strings.HasSuffix(files[0], ".tmp") {
		t.Errorf("trade flush left tmp: %s", files[0])
	}
	if got := tw.Written(); got != 1 {
		t.Errorf("Written = %d, want 1", got)
	}

	// A second flush into the same bucket must not clobber the first.
	tw.Write(model.TradeEvent{AssetID: "tok1", Key: testKey, EventType: "trade", ReceivedAt: ts0 + 1})
	tw.Flush()
	if got := len(listFiles(t, root)); got != 2 {
		t.Errorf("files after second flush = %d, want 2", got)
	}
}
