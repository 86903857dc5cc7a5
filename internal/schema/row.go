package schema

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/rickgao/clobwatch/internal/model"
)

// Snapshot status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
	StatusStale   = "stale"
)

// ListEncodingKey is the parquet footer metadata key describing how
// the depth list columns are encoded.
const (
	ListEncodingKey  = "clobwatch.list_encoding"
	ListEncodingJSON = "json"
)

// Row is one captured book state for one (market, outcome) at one
// sample time. Best prices and sizes are NaN when the side is empty.
type Row struct {
	TsRecv    int64
	Venue     string
	MarketID  string
	OutcomeID string
	Seq       int64

	BestBidPx float64
	BestBidSz float64
	BestAskPx float64
	BestAskSz float64
	Mid       float64
	Spread    float64

	// Depth, bids descending and asks ascending by price, truncated
	// to the configured top-K.
	BidPx []float64
	BidSz []float64
	AskPx []float64
	AskSz []float64

	Status string
	Err    string

	// SourceTS is the venue timestamp in ms; nil when not provided.
	SourceTS *int64
}

// NewRow builds a row from raw depth. Sides are sorted defensively
// (bids descending, asks ascending) and best/mid/spread/status are
// derived; truncation to top-K is a separate step (CapToTopK) so the
// store can hand over full depth.
func NewRow(tsRecv int64, venue string, key model.Key, seq int64, bids, asks []model.PriceLevel, sourceTS int64) Row {
	bids = sortLevels(bids, true)
	asks = sortLevels(asks, false)

	r := Row{
		TsRecv:    tsRecv,
		Venue:     venue,
		MarketID:  key.MarketID,
		OutcomeID: key.OutcomeID,
		Seq:       seq,
		BidPx:     prices(bids),
		BidSz:     sizes(bids),
		AskPx:     prices(asks),
		AskSz:     sizes(asks),
	}
	if sourceTS != 0 {
		ts := sourceTS
		r.SourceTS = &ts
	}

	nan := math.NaN()
	r.BestBidPx, r.BestBidSz = nan, nan
	r.BestAskPx, r.BestAskSz = nan, nan
	if len(bids) > 0 {
		r.BestBidPx, r.BestBidSz = bids[0].Price, bids[0].Size
	}
	if len(asks) > 0 {
		r.BestAskPx, r.BestAskSz = asks[0].Price, asks[0].Size
	}

	switch {
	case len(bids) > 0 && len(asks) > 0:
		r.Status = StatusOK
		r.Mid = (r.BestBidPx + r.BestAskPx) / 2
		r.Spread = r.BestAskPx - r.BestBidPx
	case len(bids) > 0 || len(asks) > 0:
		r.Status = StatusPartial
		r.Mid, r.Spread = nan, nan
	default:
		r.Status = StatusEmpty
		r.Mid, r.Spread = nan, nan
	}
	return r
}

// EmptyRow is the row written for a key with no book state at sample
// time. Attendance is a signal, so these rows are persisted too.
func EmptyRow(tsRecv int64, venue string, key model.Key) Row {
	return NewRow(tsRecv, venue, key, 0, nil, nil, 0)
}

// CapToTopK truncates both sides to at most k levels.
func (r *Row) CapToTopK(k int) {
	if k <= 0 {
		return
	}
	if len(r.BidPx) > k {
		r.BidPx = r.BidPx[:k]
		r.BidSz = r.BidSz[:k]
	}
	if len(r.AskPx) > k {
		r.AskPx = r.AskPx[:k]
		r.AskSz = r.AskSz[:k]
	}
}

// MarkStale tags the row as sampled from a book that has not been
// updated within the staleness horizon.
func (r *Row) MarkStale() {
	r.Status = StatusStale
}

// MarkCrossed tags a crossed book: the row degrades to partial and
// records the violation.
func (r *Row) MarkCrossed() {
	r.Status = StatusPartial
	r.Err = "crossed book"
}

func sortLevels(levels []model.PriceLevel, descending bool) []model.PriceLevel {
	out := make([]model.PriceLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func prices(levels []model.PriceLevel) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}

func sizes(levels []model.PriceLevel) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Size
	}
	return out
}

// Record is the parquet-tagged persistence form of Row. Depth lists
// are JSON-encoded strings (see ListEncodingKey).
type Record struct {
	TsRecv    int64   `parquet:"name=ts_recv, type=INT64"`
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID  string  `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutcomeID string  `parquet:"name=outcome_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq       int64   `parquet:"name=seq, type=INT64"`
	BestBidPx float64 `parquet:"name=best_bid_px, type=DOUBLE"`
	BestBidSz float64 `parquet:"name=best_bid_sz, type=DOUBLE"`
	BestAskPx float64 `parquet:"name=best_ask_px, type=DOUBLE"`
	BestAskSz float64 `parquet:"name=best_ask_sz, type=DOUBLE"`
	Mid       float64 `parquet:"name=mid, type=DOUBLE"`
	Spread    float64 `parquet:"name=spread, type=DOUBLE"`
	BidPx     string  `parquet:"name=bid_px, type=BYTE_ARRAY, convertedtype=UTF8"`
	BidSz     string  `parquet:"name=bid_sz, type=BYTE_ARRAY, convertedtype=UTF8"`
	AskPx     string  `parquet:"name=ask_px, type=BYTE_ARRAY, convertedtype=UTF8"`
	AskSz     string  `parquet:"name=ask_sz, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status    string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Err       string  `parquet:"name=err, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceTS  *int64  `parquet:"name=source_ts, type=INT64, repetitiontype=OPTIONAL"`
}

// Record converts the row to its persistence form.
func (r Row) Record() Record {
	return Record{
		TsRecv:    r.TsRecv,
		Venue:     r.Venue,
		MarketID:  r.MarketID,
		OutcomeID: r.OutcomeID,
		Seq:       r.Seq,
		BestBidPx: r.BestBidPx,
		BestBidSz: r.BestBidSz,
		BestAskPx: r.BestAskPx,
		BestAskSz: r.BestAskSz,
		Mid:       r.Mid,
		Spread:    r.Spread,
		BidPx:     encodeList(r.BidPx),
		BidSz:     encodeList(r.BidSz),
		AskPx:     encodeList(r.AskPx),
		AskSz:     encodeList(r.AskSz),
		Status:    r.Status,
		Err:       r.Err,
		SourceTS:  r.SourceTS,
	}
}

func encodeList(vals []float64) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}
