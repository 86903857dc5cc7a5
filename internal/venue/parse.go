package venue

import (
	"bytes"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/universe"
)

// Wire types for the CLOB websocket. The venue does not tag every
// shape, so classification is by structural presence: price_changes
// marks a delta, asset_id with side arrays marks a snapshot, and an
// event_type with price/size marks a trade.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" or "SELL"
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wireMessage struct {
	EventType    string       `json:"event_type"`
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Timestamp    string       `json:"timestamp"`
	Bids         []wireLevel  `json:"bids"`
	Asks         []wireLevel  `json:"asks"`
	PriceChanges []wireChange `json:"price_changes"`
	Price        string       `json:"price"`
	Size         string       `json:"size"`
	Side         string       `json:"side"`
	TxHash       string       `json:"transaction_hash"`
}

// decoder turns raw frames into book/trade events: token resolution,
// string-number parsing, and per-key sequence assignment. One decoder
// instance survives reconnects so sequences never restart mid-run.
type decoder struct {
	index   *universe.Index
	metrics *metrics.Metrics

	mu   sync.Mutex
	seqs map[model.Key]int64
}

func newDecoder(index *universe.Index, m *metrics.Metrics) *decoder {
	return &decoder{
		index:   index,
		metrics: m,
		seqs:    make(map[model.Key]int64),
	}
}

// nextSeq returns the next monotonic sequence for one key. Counters
// live per key: a process-wide counter would fabricate gaps whenever
// updates interleave across keys.
func (d *decoder) nextSeq(key model.Key) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs[key]++
	return d.seqs[key]
}

// decodeFrame parses one text frame, which may be a single object or
// a JSON array of objects. Malformed elements are counted and
// skipped; the frame never aborts the read loop.
func (d *decoder) decodeFrame(data []byte, receivedAt time.Time) ([]model.BookEvent, []model.TradeEvent) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var elements []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			d.metrics.RecordParseError()
			return nil, nil
		}
	} else {
		elements = []json.RawMessage{trimmed}
	}

	var books []model.BookEvent
	var trades []model.TradeEvent
	for _, raw := range elements {
		b, t := d.decodeElement(raw, receivedAt)
		books = append(books, b...)
		trades = append(trades, t...)
	}
	return books, trades
}

func (d *decoder) decodeElement(raw json.RawMessage, receivedAt time.Time) ([]model.BookEvent, []model.TradeEvent) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.metrics.RecordParseError()
		return nil, nil
	}

	switch {
	case len(msg.PriceChanges) > 0:
		return d.decodeDelta(&msg, receivedAt), nil
	case msg.AssetID != "" && (msg.Bids != nil || msg.Asks != nil):
		if ev, ok := d.decodeSnapshot(&msg, receivedAt); ok {
			return []model.BookEvent{ev}, nil
		}
		return nil, nil
	case msg.EventType != "" && (msg.Price != "" || msg.Size != ""):
		if ev, ok := d.decodeTrade(&msg, receivedAt); ok {
			return nil, []model.TradeEvent{ev}
		}
		return nil, nil
	default:
		// Subscription acks and pings fall through here; anything
		// with content we cannot place is a parse error.
		if msg.EventType == "" && msg.AssetID == "" && msg.Market == "" {
			return nil, nil
		}
		d.metrics.RecordParseError()
		return nil, nil
	}
}

func (d *decoder) decodeSnapshot(msg *wireMessage, receivedAt time.Time) (model.BookEvent, bool) {
	key, ok := d.index.Resolve(msg.AssetID)
	if !ok {
		d.metrics.RecordUnknownToken()
		return model.BookEvent{}, false
	}

	bids, ok1 := d.parseLevels(msg.Bids)
	asks, ok2 := d.parseLevels(msg.Asks)
	if !ok1 || !ok2 {
		d.metrics.RecordParseError()
		return model.BookEvent{}, false
	}

	var sourceTS int64
	if msg.Timestamp != "" {
		if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			sourceTS = ts
		}
	}

	return model.BookEvent{
		Key:        key,
		Snapshot:   true,
		Bids:       bids,
		Asks:       asks,
		SourceTS:   sourceTS,
		Seq:        d.nextSeq(key),
		ReceivedAt: receivedAt,
	}, true
}

// decodeDelta fans one price_changes message out per resolved key:
// the venue batches changes for multiple tokens in a single frame.
func (d *decoder) decodeDelta(msg *wireMessage, receivedAt time.Time) []model.BookEvent {
	perKey := make(map[model.Key][]model.Change)
	var order []model.Key

	for _, ch := range msg.PriceChanges {
		key, ok := d.index.Resolve(ch.AssetID)
		if !ok {
			d.metrics.RecordUnknownToken()
			continue
		}
		price, err1 := strconv.ParseFloat(ch.Price, 64)
		size, err2 := strconv.ParseFloat(ch.Size, 64)
		if err1 != nil || err2 != nil {
			d.metrics.RecordParseError()
			continue
		}
		var side model.Side
		switch ch.Side {
		case "BUY":
			side = model.Bid
		case "SELL":
			side = model.Ask
		default:
			d.metrics.RecordParseError()
			continue
		}
		if _, seen := perKey[key]; !seen {
			order = append(order, key)
		}
		perKey[key] = append(perKey[key], model.Change{Side: side, Price: price, Size: size})
	}

	events := make([]model.BookEvent, 0, len(order))
	for _, key := range order {
		events = append(events, model.BookEvent{
			Key:        key,
			Changes:    perKey[key],
			Seq:        d.nextSeq(key),
			ReceivedAt: receivedAt,
		})
	}
	return events
}

func (d *decoder) decodeTrade(msg *wireMessage, receivedAt time.Time) (model.TradeEvent, bool) {
	ev := model.TradeEvent{
		AssetID:    msg.AssetID,
		EventType:  msg.EventType,
		Price:      msg.Price,
		Size:       msg.Size,
		Side:       msg.Side,
		Timestamp:  msg.Timestamp,
		TxHash:     msg.TxHash,
		ReceivedAt: receivedAt.UnixMilli(),
	}
	if key, ok := d.index.Resolve(msg.AssetID); ok {
		ev.Key = key
	}
	if msg.Timestamp != "" {
		if ms, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			ev.TimestampMS = ms
		} else if t, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ev.TimestampMS = t.UnixMilli()
		}
	}
	return ev, true
}

func (d *decoder) parseLevels(levels []wireLevel) ([]model.PriceLevel, bool) {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err1 := strconv.ParseFloat(l.Price, 64)
		size, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil {
			return nil, false
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, true
}
