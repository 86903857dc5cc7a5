// Package venue defines the venue capability set and its
// implementations: the Polymarket CLOB websocket adapter and the
// synthetic mock source used when mock mode is enabled.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/clobwatch/internal/model"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// Venue is the capability set the collector drives. Implementations
// own their transport; book and trade events surface on channels that
// stay open until Close.
type Venue interface {
	// Name returns the venue name used in partition paths and logs.
	Name() string

	// DiscoverMarkets lists the current market universe from the
	// venue's REST surface.
	DiscoverMarkets(ctx context.Context) ([]model.MarketInfo, error)

	// Connect establishes the streaming transport and starts the
	// reader. Reconnection after transport failures is internal.
	Connect(ctx context.Context) error

	// Subscribe binds the transport to additional tokens.
	Subscribe(tokenIDs []string) error

	// Unsubscribe releases tokens from the transport.
	Unsubscribe(tokenIDs []string) error

	// Events returns the parsed book event stream.
	Events() <-chan model.BookEvent

	// Trades returns the trade event stream.
	Trades() <-chan model.TradeEvent

	// Subscribed returns a copy of the current token set.
	Subscribed() []string

	// Close tears down the transport. Channels fed by a reader that
	// Connect started are closed once that reader exits.
	Close() error
}

// AdapterConfig holds transport tuning shared by venue adapters.
type AdapterConfig struct {
	URL               string
	ReconnectBaseWait time.Duration // first backoff step
	ReconnectMaxWait  time.Duration // backoff cap
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	EventBufferSize   int // fixed capacity; oldest dropped when full
	TradeBufferSize   int
}

// DefaultAdapterConfig returns sensible defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		EventBufferSize:   65536,
		TradeBufferSize:   8192,
	}
}
