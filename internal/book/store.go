package book

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rickgao/clobwatch/internal/model"
)

const shardCount = 32

// Depth is a consistent read of one book: bids descending, asks
// ascending, truncated to the requested number of levels.
type Depth struct {
	Bids []model.PriceLevel
	Asks []model.PriceLevel

	// Seq is the adapter sequence of the last applied update.
	Seq int64

	// LastUpdateMS is the collector receive time of the last applied
	// update, epoch ms. Zero only when that update carried no receive
	// time.
	LastUpdateMS int64

	// SourceTS is the venue timestamp of the last snapshot, 0 if the
	// venue never provided one.
	SourceTS int64

	// Crossed reports best_bid >= best_ask with both sides non-empty.
	Crossed bool
}

type state struct {
	bids         map[float64]float64
	asks         map[float64]float64
	seq          int64
	lastUpdateMS int64
	sourceTS     int64
}

type shard struct {
	mu    sync.RWMutex
	books map[model.Key]*state
}

// Store is the shared book store. Venue adapter goroutines write,
// the snapshotter reads; books are created lazily and never freed.
type Store struct {
	shards [shardCount]*shard
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{books: make(map[model.Key]*state)}
	}
	return s
}

func (s *Store) shardFor(key model.Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.MarketID))
	h.Write([]byte{0})
	h.Write([]byte(key.OutcomeID))
	return s.shards[h.Sum32()%shardCount]
}

func (sh *shard) getOrCreate(key model.Key) *state {
	st, ok := sh.books[key]
	if !ok {
		st = &state{
			bids: make(map[float64]float64),
			asks: make(map[float64]float64),
		}
		sh.books[key] = st
	}
	return st
}

// ApplySnapshot atomically replaces both sides of the book for key.
func (s *Store) ApplySnapshot(key model.Key, bids, asks []model.PriceLevel, seq, receivedMS, sourceTS int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.getOrCreate(key)
	st.bids = make(map[float64]float64, len(bids))
	st.asks = make(map[float64]float64, len(asks))
	for _, l := range bids {
		if l.Size > 0 {
			st.bids[l.Price] = l.Size
		}
	}
	for _, l := range asks {
		if l.Size > 0 {
			st.asks[l.Price] = l.Size
		}
	}
	st.seq = seq
	st.lastUpdateMS = receivedMS
	st.sourceTS = sourceTS
}

// ApplyDelta upserts price levels, removing any level whose size is
// zero. A delta for a key with no prior snapshot still applies: the
// book rebuilds incrementally rather than waiting for a snapshot the
// venue may never send.
func (s *Store) ApplyDelta(key model.Key, changes []model.Change, seq, receivedMS int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.getOrCreate(key)
	for _, c := range changes {
		side := st.bids
		if c.Side == model.Ask {
			side = st.asks
		}
		if c.Size == 0 {
			delete(side, c.Price)
		} else {
			side[c.Price] = c.Size
		}
	}
	st.seq = seq
	st.lastUpdateMS = receivedMS
}

// Snapshot returns a consistent depth view for key, truncated to topK
// levels per side (topK <= 0 means unlimited). The second return is
// false when the key has never received any update.
func (s *Store) Snapshot(key model.Key, topK int) (Depth, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st, ok := sh.books[key]
	if !ok {
		return Depth{}, false
	}

	d := Depth{
		Bids:         sortSide(st.bids, true, topK),
		Asks:         sortSide(st.asks, false, topK),
		Seq:          st.seq,
		LastUpdateMS: st.lastUpdateMS,
		SourceTS:     st.sourceTS,
	}
	if len(d.Bids) > 0 && len(d.Asks) > 0 && d.Bids[0].Price >= d.Asks[0].Price {
		d.Crossed = true
	}
	return d, true
}

// Keys returns every key that has ever received an update.
func (s *Store) Keys() []model.Key {
	var keys []model.Key
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.books {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}

// Len returns the number of live books.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.books)
		sh.mu.RUnlock()
	}
	return n
}

func sortSide(side map[float64]float64, descending bool, topK int) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for px, sz := range side {
		levels = append(levels, model.PriceLevel{Price: px, Size: sz})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if topK > 0 && len(levels) > topK {
		levels = levels[:topK]
	}
	return levels
}
