package schema

import (
	"math"
	"testing"

	"github.com/rickgao/clobwatch/internal/model"
)

var key = model.Key{MarketID: "0xabc", OutcomeID: "1"}

func TestNewRow_SortsAndDerives(t *testing.T) {
	bids := []model.PriceLevel{{Price: 0.5, Size: 100}, {Price: 0.6, Size: 200}, {Price: 0.4, Size: 50}}
	asks := []model.PriceLevel{{Price: 0.7, Size: 150}, {Price: 0.8, Size: 100}, {Price: 0.65, Size: 200}}

	r := NewRow(1000, "polymarket", key, 7, bids, asks, 0)

	wantBids := []float64{0.6, 0.5, 0.4}
	wantAsks := []float64{0.65, 0.7, 0.8}
	for i, want := range wantBids {
		if r.BidPx[i] != want {
			t.Errorf("BidPx[%d] = %v, want %v", i, r.BidPx[i], want)
		}
	}
	for i, want := range wantAsks {
		if r.AskPx[i] != want {
			t.Errorf("AskPx[%d] = %v, want %v", i, r.AskPx[i], want)
		}
	}

	if r.BestBidPx != 0.6 || r.BestAskPx != 0.65 {
		t.Errorf("best = (%v, %v), want (0.6, 0.65)", r.BestBidPx, r.BestAskPx)
	}
	if math.Abs(r.Mid-0.625) > 1e-9 {
		t.Errorf("Mid = %v, want 0.625", r.Mid)
	}
	if math.Abs(r.Spread-0.05) > 1e-9 {
		t.Errorf("Spread = %v, want 0.05", r.Spread)
	}
	if r.Status != StatusOK {
		t.Errorf("Status = %q, want %q", r.Status, StatusOK)
	}
	if r.Seq != 7 {
		t.Errorf("Seq = %d, want 7", r.Seq)
	}
}

func TestNewRow_OKInvariants(t *testing.T) {
	r := NewRow(1000, "polymarket", key, 1,
		[]model.PriceLevel{{Price: 0.49, Size: 200}},
		[]model.PriceLevel{{Price: 0.53, Size: 150}}, 0)

	if r.Status != StatusOK {
		t.Fatalf("Status = %q, want ok", r.Status)
	}
	if !(r.BestBidPx < r.BestAskPx) {
		t.Errorf("best_bid_px %v >= best_ask_px %v", r.BestBidPx, r.BestAskPx)
	}
	if !(r.Spread > 0) {
		t.Errorf("Spread = %v, want > 0", r.Spread)
	}
	if !(r.Mid > r.BestBidPx && r.Mid < r.BestAskPx) {
		t.Errorf("Mid = %v outside (%v, %v)", r.Mid, r.BestBidPx, r.BestAskPx)
	}
}

func TestNewRow_Partial(t *testing.T) {
	r := NewRow(1000, "polymarket", key, 1,
		[]model.PriceLevel{{Price: 0.5, Size: 100}}, nil, 0)

	if r.Status != StatusPartial {
		t.Errorf("Status = %q, want %q", r.Status, StatusPartial)
	}
	if !math.IsNaN(r.Mid) || !math.IsNaN(r.Spread) {
		t.Errorf("Mid/Spread = (%v, %v), want NaN", r.Mid, r.Spread)
	}
	if !math.IsNaN(r.BestAskPx) || !math.IsNaN(r.BestAskSz) {
		t.Errorf("ask best = (%v, %v), want NaN", r.BestAskPx, r.BestAskSz)
	}
}

func TestNewRow_Empty(t *testing.T) {
	r := EmptyRow(1000, "polymarket", key)

	if r.Status != StatusEmpty {
		t.Errorf("Status = %q, want %q", r.Status, StatusEmpty)
	}
	if !math.IsNaN(r.Mid) || !math.IsNaN(r.Spread) {
		t.Errorf("Mid/Spread = (%v, %v), want NaN", r.Mid, r.Spread)
	}
	if !math.IsNaN(r.BestBidPx) || !math.IsNaN(r.BestAskPx) {
		t.Errorf("best px = (%v, %v), want NaN", r.BestBidPx, r.BestAskPx)
	}
}

func TestCapToTopK(t *testing.T) {
	bids := make([]model.PriceLevel, 100)
	asks := make([]model.PriceLevel, 100)
	for i := range bids {
		bids[i] = model.PriceLevel{Price: float64(i) / 1000, Size: 1}
		asks[i] = model.PriceLevel{Price: 0.5 + float64(i)/1000, Size: 1}
	}

	r := NewRow(1000, "polymarket", key, 1, bids, asks, 0)
	r.CapToTopK(10)

	if len(r.BidPx) != 10 || len(r.BidSz) != 10 {
		t.Errorf("bid depth = (%d, %d), want 10", len(r.BidPx), len(r.BidSz))
	}
	if len(r.AskPx) != 10 || len(r.AskSz) != 10 {
		t.Errorf("ask depth = (%d, %d), want 10", len(r.AskPx), len(r.AskSz))
	}
	// Truncation keeps the best levels.
	if r.BidPx[0] != r.BestBidPx {
		t.Errorf("BidPx[0] = %v, want best %v", r.BidPx[0], r.BestBidPx)
	}
}

func TestRecord_ListEncoding(t *testing.T) {
	r := NewRow(1000, "polymarket", key, 1,
		[]model.PriceLevel{{Price: 0.5, Size: 100}},
		[]model.PriceLevel{{Price: 0.53, Size: 150}}, 1234)

	rec := r.Record()
	if got, want := rec.BidPx, "[0.5]"; got != want {
		t.Errorf("BidPx = %q, want %q", got, want)
	}
	if got, want := rec.AskSz, "[150]"; got != want {
		t.Errorf("AskSz = %q, want %q", got, want)
	}
	if rec.SourceTS == nil || *rec.SourceTS != 1234 {
		t.Errorf("SourceTS = %v, want 1234", rec.SourceTS)
	}

	empty := EmptyRow(1000, "polymarket", key).Record()
	if empty.BidPx != "[]" || empty.AskPx != "[]" {
		t.Errorf("empty lists = (%q, %q), want []", empty.BidPx, empty.AskPx)
	}
	if empty.SourceTS != nil {
		t.Errorf("SourceTS = %v, want nil", empty.SourceTS)
	}
}

func TestMarkCrossed(t *testing.T) {
	r := NewRow(1000, "polymarket", key, 1,
		[]model.PriceLevel{{Price: 0.6, Size: 100}},
		[]model.PriceLevel{{Price: 0.55, Size: 150}}, 0)
	r.MarkCrossed()

	if r.Status != StatusPartial {
		t.Errorf("Status = %q, want %q", r.Status, StatusPartial)
	}
	if r.Err == "" {
		t.Error("Err is empty, want a crossed-book marker")
	}
}
