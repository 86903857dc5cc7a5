package venue

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/clobwatch/internal/metrics"
)

func TestMock_Universe(t *testing.T) {
	m := NewMock("mock", 10, metrics.New("mock-"+t.Name()))
	defer m.Close()

	markets, err := m.DiscoverMarkets(context.Background())
	if err != nil {
		t.Fatalf("DiscoverMarkets: %v", err)
	}
	if len(markets) != 10 {
		t.Fatalf("markets = %d, want 10", len(markets))
	}
	if len(markets[0].TokenIDs) != 2 || len(markets[0].OutcomeIDs) != 2 {
		t.Errorf("entry = %+v, want two outcomes and tokens", markets[0])
	}
}

func TestMock_SubscribeRequiresConnect(t *testing.T) {
	m := NewMock("mock", 2, metrics.New("mock-"+t.Name()))
	defer m.Close()

	if err := m.Subscribe([]string{"mock_tok_0000_0"}); err != ErrNotConnected {
		t.Errorf("Subscribe before Connect = %v, want ErrNotConnected", err)
	}
}

func TestMock_EmitsForSubscribedTokens(t *testing.T) {
	m := NewMock("mock", 2, metrics.New("mock-"+t.Name()))
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Subscribe([]string{"mock_tok_0000_0"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case ev := <-m.Events():
		if ev.Key.MarketID != "mock_market_0000" {
			t.Errorf("Key = %v, want mock_market_0000", ev.Key)
		}
		if ev.Seq < 1 {
			t.Errorf("Seq = %d, want >= 1", ev.Seq)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
	}
}

func TestMock_CloseClosesChannels(t *testing.T) {
	m := NewMock("mock", 2, metrics.New("mock-"+t.Name()))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for range m.Events() {
	}
	if _, ok := <-m.Trades(); ok {
		// Drained above; a second Close must also be safe.
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}
