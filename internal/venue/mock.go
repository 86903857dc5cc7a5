package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/universe"
)

var _ Venue = (*Mock)(nil)

// Mock is a synthetic venue for development and soak testing. It
// fabricates a universe and emits randomized snapshots, deltas, and
// the occasional trade for whatever tokens are subscribed.
type Mock struct {
	name    string
	size    int
	tick    time.Duration
	metrics *metrics.Metrics

	index *universe.Index
	dec   *decoder

	mu         sync.Mutex
	subscribed map[string]struct{}
	connected  bool
	closed     bool

	events chan model.BookEvent
	trades chan model.TradeEvent
	done   chan struct{}
	wg     sync.WaitGroup

	rng *rand.Rand
}

// NewMock creates a mock venue with a synthetic universe of size
// markets. Universe() exposes the same entries the collector would
// read from a universe file.
func NewMock(name string, size int, m *metrics.Metrics) *Mock {
	if size < 1 {
		size = 1
	}
	mk := &Mock{
		name:       name,
		size:       size,
		tick:       100 * time.Millisecond,
		metrics:    m,
		subscribed: make(map[string]struct{}),
		events:     make(chan model.BookEvent, 4096),
		trades:     make(chan model.TradeEvent, 1024),
		done:       make(chan struct{}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	mk.index = universe.NewIndex(mk.universeEntries())
	mk.dec = newDecoder(mk.index, m)
	return mk
}

func (m *Mock) universeEntries() []model.MarketInfo {
	now := time.Now().UnixMilli()
	markets := make([]model.MarketInfo, m.size)
	for i := range markets {
		markets[i] = model.MarketInfo{
			MarketID:   fmt.Sprintf("mock_market_%04d", i),
			Title:      fmt.Sprintf("Mock market %d", i),
			OutcomeIDs: []string{"Yes", "No"},
			CloseTS:    now + int64(i+1)*3_600_000,
			Status:     "active",
			Tags:       []string{"mock"},
			TokenIDs: []string{
				fmt.Sprintf("mock_tok_%04d_0", i),
				fmt.Sprintf("mock_tok_%04d_1", i),
			},
		}
	}
	return markets
}

// Name returns the venue name.
func (m *Mock) Name() string { return m.name }

// Universe returns the synthetic universe entries.
func (m *Mock) Universe() []model.MarketInfo { return m.index.Markets() }

// DiscoverMarkets returns the synthetic universe.
func (m *Mock) DiscoverMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	return m.index.Markets(), nil
}

// Connect starts the synthetic event generator.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAlreadyClosed
	}
	if m.connected {
		return nil
	}
	m.connected = true
	m.wg.Add(1)
	go m.generate()
	return nil
}

func (m *Mock) generate() {
	defer m.wg.Done()
	defer close(m.events)
	defer close(m.trades)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.emitOne()
		}
	}
}

func (m *Mock) emitOne() {
	m.mu.Lock()
	if len(m.subscribed) == 0 {
		m.mu.Unlock()
		return
	}
	tokens := make([]string, 0, len(m.subscribed))
	for t := range m.subscribed {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	token := tokens[m.rng.Intn(len(tokens))]
	roll := m.rng.Intn(20)
	m.mu.Unlock()

	key, ok := m.index.Resolve(token)
	if !ok {
		return
	}
	m.metrics.RecordMessage()

	now := time.Now()
	switch {
	case roll == 0:
		select {
		case m.trades <- model.TradeEvent{
			AssetID:     token,
			Key:         key,
			EventType:   "last_trade_price",
			Price:       strconv.FormatFloat(0.4+m.rng.Float64()*0.2, 'f', 3, 64),
			Size:        strconv.FormatFloat(m.rng.Float64()*1000, 'f', 2, 64),
			Side:        []string{"BUY", "SELL"}[m.rng.Intn(2)],
			TimestampMS: now.UnixMilli(),
			ReceivedAt:  now.UnixMilli(),
		}:
		default:
		}
	case roll < 5:
		size := m.rng.Float64() * 500
		if m.rng.Intn(10) == 0 {
			size = 0 // level removal
		}
		ev := model.BookEvent{
			Key: key,
			Changes: []model.Change{{
				Side:  model.Side(m.rng.Intn(2)),
				Price: 0.30 + float64(m.rng.Intn(40))*0.01,
				Size:  size,
			}},
			Seq:        m.dec.nextSeq(key),
			ReceivedAt: now,
		}
		select {
		case m.events <- ev:
		default:
			m.metrics.RecordDroppedFrame()
		}
	default:
		ev := model.BookEvent{
			Key:        key,
			Snapshot:   true,
			Bids:       m.levels(0.48, -0.01),
			Asks:       m.levels(0.52, 0.01),
			SourceTS:   now.UnixMilli(),
			Seq:        m.dec.nextSeq(key),
			ReceivedAt: now,
		}
		select {
		case m.events <- ev:
		default:
			m.metrics.RecordDroppedFrame()
		}
	}
}

func (m *Mock) levels(base, step float64) []model.PriceLevel {
	n := 3 + m.rng.Intn(7)
	out := make([]model.PriceLevel, n)
	for i := range out {
		out[i] = model.PriceLevel{
			Price: base + float64(i)*step,
			Size:  10 + m.rng.Float64()*1000,
		}
	}
	return out
}

// Subscribe binds tokens to the generator.
func (m *Mock) Subscribe(tokenIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	for _, t := range tokenIDs {
		m.subscribed[t] = struct{}{}
	}
	return nil
}

// Unsubscribe releases tokens from the generator.
func (m *Mock) Unsubscribe(tokenIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokenIDs {
		delete(m.subscribed, t)
	}
	return nil
}

// Subscribed returns a sorted copy of the current token set.
func (m *Mock) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]string, 0, len(m.subscribed))
	for t := range m.subscribed {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Events returns the book event channel.
func (m *Mock) Events() <-chan model.BookEvent { return m.events }

// Trades returns the trade event channel.
func (m *Mock) Trades() <-chan model.TradeEvent { return m.trades }

// Close stops the generator and closes both channels.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	close(m.done)
	if wasConnected {
		m.wg.Wait()
	} else {
		// Generator never ran; close channels here.
		close(m.events)
		close(m.trades)
	}
	return nil
}
