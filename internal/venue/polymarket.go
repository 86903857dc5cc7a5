package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/universe"
)

// subscribeFrame is the market-channel subscribe message. The token
// list (assets_ids) is the only addressing the transport understands.
type subscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type unsubscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

var _ Venue = (*Polymarket)(nil)

// Polymarket streams the CLOB market channel. A single reader
// goroutine owns the connection; reconnection re-issues one subscribe
// frame for the whole current token set and never clears book state.
type Polymarket struct {
	name    string
	cfg     AdapterConfig
	restURL string
	dec     *decoder
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	subscribed map[string]struct{}

	events chan model.BookEvent
	trades chan model.TradeEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPolymarket creates the adapter. The universe index provides
// token resolution; it must cover every token that will be
// subscribed.
func NewPolymarket(name string, cfg AdapterConfig, restURL string, index *universe.Index, m *metrics.Metrics, logger *slog.Logger) *Polymarket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBufferSize < 1 {
		cfg.EventBufferSize = DefaultAdapterConfig().EventBufferSize
	}
	if cfg.TradeBufferSize < 1 {
		cfg.TradeBufferSize = DefaultAdapterConfig().TradeBufferSize
	}
	return &Polymarket{
		name:       name,
		cfg:        cfg,
		restURL:    restURL,
		dec:        newDecoder(index, m),
		metrics:    m,
		logger:     logger,
		subscribed: make(map[string]struct{}),
		events:     make(chan model.BookEvent, cfg.EventBufferSize),
		trades:     make(chan model.TradeEvent, cfg.TradeBufferSize),
		done:       make(chan struct{}),
	}
}

// Name returns the venue name.
func (p *Polymarket) Name() string { return p.name }

// Events returns the book event channel.
func (p *Polymarket) Events() <-chan model.BookEvent { return p.events }

// Trades returns the trade event channel.
func (p *Polymarket) Trades() <-chan model.TradeEvent { return p.trades }

// Connect dials the websocket and starts the reader.
func (p *Polymarket) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrAlreadyClosed
	}
	p.mu.Unlock()

	if err := p.dial(ctx); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.run()
	return nil
}

func (p *Polymarket) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.cfg.URL, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	p.logger.Debug("websocket connected", "venue", p.name, "url", p.cfg.URL)
	return nil
}

// run owns the connection: read until failure, reconnect with
// backoff, re-subscribe, repeat. Returns only on Close.
func (p *Polymarket) run() {
	defer p.wg.Done()
	defer close(p.events)
	defer close(p.trades)

	for {
		stopPing := make(chan struct{})
		go p.pingLoop(stopPing)
		p.readLoop()
		close(stopPing)

		select {
		case <-p.done:
			return
		default:
		}

		p.metrics.RecordTransportError()
		if !p.reconnect() {
			return
		}
	}
}

func (p *Polymarket) readLoop() {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			select {
			case <-p.done:
			default:
				p.logger.Warn("websocket read failed", "venue", p.name, "error", err)
			}
			return
		}

		p.metrics.RecordMessage()
		books, trades := p.dec.decodeFrame(data, receivedAt)
		for _, ev := range books {
			p.emitBook(ev)
		}
		for _, ev := range trades {
			p.emitTrade(ev)
		}
	}
}

// pingLoop keeps the connection alive; the venue drops clients that
// never write.
func (p *Polymarket) pingLoop(stop <-chan struct{}) {
	interval := p.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultAdapterConfig().PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.RLock()
			conn := p.conn
			p.mu.RUnlock()
			if conn != nil {
				deadline := time.Now().Add(p.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					p.logger.Debug("failed to send ping", "venue", p.name, "error", err)
				}
			}
		}
	}
}

// reconnect retries with bounded exponential backoff and jitter.
// On success the entire current token set goes out in one subscribe
// frame; the book store is left alone and heals on the next venue
// snapshot per key.
func (p *Polymarket) reconnect() bool {
	wait := p.cfg.ReconnectBaseWait
	for attempt := 1; ; attempt++ {
		jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
		select {
		case <-p.done:
			return false
		case <-time.After(wait + jitter):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := p.dial(ctx)
		cancel()
		if err == nil {
			tokens := p.Subscribed()
			if len(tokens) > 0 {
				if err := p.send(subscribeFrame{Type: "market", AssetsIDs: tokens}); err != nil {
					p.logger.Warn("resubscribe failed", "venue", p.name, "error", err)
					continue
				}
			}
			p.logger.Info("reconnected",
				"venue", p.name,
				"attempt", attempt,
				"resubscribed", len(tokens),
			)
			return true
		}

		p.logger.Warn("reconnect failed", "venue", p.name, "attempt", attempt, "error", err)
		wait *= 2
		if wait > p.cfg.ReconnectMaxWait {
			wait = p.cfg.ReconnectMaxWait
		}
	}
}

// Subscribe adds tokens to the transport binding.
func (p *Polymarket) Subscribe(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	p.mu.Lock()
	for _, t := range tokenIDs {
		p.subscribed[t] = struct{}{}
	}
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return p.send(subscribeFrame{Type: "market", AssetsIDs: tokenIDs})
}

// Unsubscribe releases tokens from the transport binding.
func (p *Polymarket) Unsubscribe(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	p.mu.Lock()
	for _, t := range tokenIDs {
		delete(p.subscribed, t)
	}
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return p.send(unsubscribeFrame{Type: "unsubscribe", AssetsIDs: tokenIDs})
}

// Subscribed returns a sorted copy of the current token set.
func (p *Polymarket) Subscribed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tokens := make([]string, 0, len(p.subscribed))
	for t := range p.subscribed {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Close tears down the connection. Events/Trades channels close once
// the reader exits; when Connect never started the reader, they are
// left open.
func (p *Polymarket) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	conn := p.conn
	p.mu.Unlock()

	close(p.done)
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	p.wg.Wait()
	return nil
}

func (p *Polymarket) send(v any) error {
	p.mu.RLock()
	conn := p.conn
	connected := p.connected
	p.mu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// emitBook enqueues an event, dropping the oldest buffered event when
// the channel is full. The queue is bounded by construction; we shed
// the oldest sample because the next venue snapshot supersedes it.
func (p *Polymarket) emitBook(ev model.BookEvent) {
	select {
	case p.events <- ev:
		return
	default:
	}
	select {
	case <-p.events:
		p.metrics.RecordDroppedFrame()
	default:
	}
	select {
	case p.events <- ev:
	default:
		p.metrics.RecordDroppedFrame()
	}
}

func (p *Polymarket) emitTrade(ev model.TradeEvent) {
	select {
	case p.trades <- ev:
		return
	default:
	}
	select {
	case <-p.trades:
		p.metrics.RecordDroppedFrame()
	default:
	}
	select {
	case p.trades <- ev:
	default:
		p.metrics.RecordDroppedFrame()
	}
}
