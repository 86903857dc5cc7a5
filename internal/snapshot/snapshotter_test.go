package snapshot

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/clobwatch/internal/book"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/schema"
)

type captureSink struct {
	mu   sync.Mutex
	rows []schema.Row
}

func (c *captureSink) Write(row schema.Row) {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
}

func (c *captureSink) all() []schema.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Row, len(c.rows))
	copy(out, c.rows)
	return out
}

var key = model.Key{MarketID: "0xabc", OutcomeID: "1"}

func newTestSnapshotter(store *book.Store, sink RowSink) *Snapshotter {
	s := New(Config{
		Venue:        "testvenue",
		TopK:         2,
		HotInterval:  time.Hour,
		WarmInterval: time.Hour,
	}, store, sink, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSample_OKRow(t *testing.T) {
	store := book.NewStore()
	store.ApplySnapshot(key,
		[]model.PriceLevel{{Price: 0.50, Size: 100}, {Price: 0.49, Size: 200}, {Price: 0.48, Size: 10}},
		[]model.PriceLevel{{Price: 0.53, Size: 150}},
		5, 1000, 777)

	s := newTestSnapshotter(store, &captureSink{})
	row := s.sample(key)

	if row.Status != schema.StatusOK {
		t.Errorf("Status = %q, want ok", row.Status)
	}
	if row.Seq != 5 {
		t.Errorf("Seq = %d, want 5", row.Seq)
	}
	if len(row.BidPx) != 2 {
		t.Errorf("depth = %d, want top_k 2", len(row.BidPx))
	}
	if row.SourceTS == nil || *row.SourceTS != 777 {
		t.Errorf("SourceTS = %v, want 777", row.SourceTS)
	}
}

func TestSample_MissingKeyIsEmptyRow(t *testing.T) {
	s := newTestSnapshotter(book.NewStore(), &captureSink{})
	row := s.sample(key)

	if row.Status != schema.StatusEmpty {
		t.Errorf("Status = %q, want empty", row.Status)
	}
	if !math.IsNaN(row.Mid) {
		t.Errorf("Mid = %v, want NaN", row.Mid)
	}
	if row.MarketID != key.MarketID || row.OutcomeID != key.OutcomeID {
		t.Errorf("row key = %s/%s, want %v", row.MarketID, row.OutcomeID, key)
	}
}

func TestSample_CrossedBook(t *testing.T) {
	store := book.NewStore()
	store.ApplySnapshot(key,
		[]model.PriceLevel{{Price: 0.60, Size: 1}},
		[]model.PriceLevel{{Price: 0.55, Size: 1}},
		1, 1000, 0)

	s := newTestSnapshotter(store, &captureSink{})
	row := s.sample(key)

	if row.Status != schema.StatusPartial {
		t.Errorf("Status = %q, want partial for crossed book", row.Status)
	}
	if row.Err == "" {
		t.Error("Err empty, want crossed-book marker")
	}

	// The crossed log dedupes per key per day.
	s.logCrossedOnce(key, s.now())
	if got := s.crossedLogged[key]; got != "2024-01-15" {
		t.Errorf("crossedLogged = %q, want 2024-01-15", got)
	}
}

func TestSample_Stale(t *testing.T) {
	store := book.NewStore()
	sampleTime := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	store.ApplySnapshot(key,
		[]model.PriceLevel{{Price: 0.50, Size: 1}},
		[]model.PriceLevel{{Price: 0.55, Size: 1}},
		1, sampleTime.Add(-10*time.Minute).UnixMilli(), 0)

	s := New(Config{
		Venue:        "testvenue",
		TopK:         5,
		HotInterval:  time.Hour,
		WarmInterval: time.Hour,
		StaleAfter:   time.Minute,
	}, store, &captureSink{}, nil)
	s.now = func() time.Time { return sampleTime }

	row := s.sample(key)
	if row.Status != schema.StatusStale {
		t.Errorf("Status = %q, want stale", row.Status)
	}
}

func TestTick_CoversTier(t *testing.T) {
	store := book.NewStore()
	sink := &captureSink{}
	s := newTestSnapshotter(store, sink)

	k2 := model.Key{MarketID: "0xdef", OutcomeID: "0"}
	store.ApplySnapshot(key,
		[]model.PriceLevel{{Price: 0.5, Size: 1}},
		[]model.PriceLevel{{Price: 0.6, Size: 1}}, 1, 1000, 0)

	s.UpdateSets(map[model.Key]struct{}{key: {}, k2: {}}, nil)
	s.tick(s.hotKeys())

	rows := sink.all()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (one per HOT key)", len(rows))
	}
	statuses := map[string]string{}
	for _, r := range rows {
		statuses[r.MarketID] = r.Status
	}
	if statuses["0xabc"] != schema.StatusOK {
		t.Errorf("0xabc status = %q, want ok", statuses["0xabc"])
	}
	if statuses["0xdef"] != schema.StatusEmpty {
		t.Errorf("0xdef status = %q, want empty (absent key still writes)", statuses["0xdef"])
	}
}
