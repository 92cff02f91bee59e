package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

type stubSource struct {
	name   string
	quotes map[string]market.Quote
	err    error
	calls  int
}

func (s *stubSource) Name() string                  { return s.name }
func (s *stubSource) AssetClass() market.AssetClass { return market.AssetCrypto }

func (s *stubSource) Fetch(_ context.Context, symbols []string) (map[string]market.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]market.Quote)
	for _, symbol := range symbols {
		if quote, ok := s.quotes[symbol]; ok {
			out[symbol] = quote
		}
	}
	return out, nil
}

func stubQuote(symbol string, price int64) market.Quote {
	return market.Quote{
		Symbol:     symbol,
		AssetClass: market.AssetCrypto,
		Price:      decimal.NewFromInt(price),
		ObservedAt: time.Now().UTC(),
	}
}

func TestChainFallsThroughOnError(t *testing.T) {
	primary := &stubSource{name: "primary", err: ErrProviderUnavailable}
	secondary := &stubSource{name: "secondary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 45000),
		"ETH": stubQuote("ETH", 3000),
	}}

	chain := NewChain(market.AssetCrypto, []Source{primary, secondary}, nil)
	quotes := chain.Fetch(context.Background(), []string{"BTC", "ETH"})

	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
}

func TestChainOnlyAsksForMissingSymbols(t *testing.T) {
	primary := &stubSource{name: "primary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 45000),
	}}
	secondary := &stubSource{name: "secondary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 1), // must not be consulted for BTC
		"ETH": stubQuote("ETH", 3000),
	}}

	chain := NewChain(market.AssetCrypto, []Source{primary, secondary}, nil)
	quotes := chain.Fetch(context.Background(), []string{"BTC", "ETH"})

	if !quotes["BTC"].Price.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("BTC price = %s, primary answer lost", quotes["BTC"].Price)
	}
	if !quotes["ETH"].Price.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("ETH price = %s", quotes["ETH"].Price)
	}
}

func TestChainStopsOnceSatisfied(t *testing.T) {
	primary := &stubSource{name: "primary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 45000),
	}}
	secondary := &stubSource{name: "secondary"}

	chain := NewChain(market.AssetCrypto, []Source{primary, secondary}, nil)
	chain.Fetch(context.Background(), []string{"BTC"})

	if secondary.calls != 0 {
		t.Fatal("secondary consulted after all symbols satisfied")
	}
}

func TestChainSyntheticCoversRemainder(t *testing.T) {
	primary := &stubSource{name: "primary", err: ErrProviderTimeout}
	synthetic := NewSyntheticSource(market.AssetCrypto, nil, 9)

	chain := NewChain(market.AssetCrypto, []Source{primary}, nil,
		WithSyntheticRung(synthetic))
	quotes := chain.Fetch(context.Background(), []string{"BTC", "ETH"})

	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want full coverage from synthetic rung", len(quotes))
	}
	for symbol, quote := range quotes {
		if quote.Source != "synthetic" {
			t.Fatalf("%s sourced from %q, want synthetic", symbol, quote.Source)
		}
	}
}

func TestChainFailingSyntheticLeavesGaps(t *testing.T) {
	primary := &stubSource{name: "primary", err: ErrProviderTimeout}
	synthetic := &stubSource{name: "synthetic", err: ErrProviderUnavailable}

	chain := NewChain(market.AssetCrypto, []Source{primary}, nil,
		WithSyntheticRung(synthetic))
	quotes := chain.Fetch(context.Background(), []string{"BTC", "ETH"})

	if len(quotes) != 0 {
		t.Fatalf("got %d quotes from a failing synthetic rung, want none", len(quotes))
	}
	if synthetic.calls != 1 {
		t.Fatalf("synthetic consulted %d times, want 1", synthetic.calls)
	}
}

func TestChainWithoutSyntheticLeavesGaps(t *testing.T) {
	primary := &stubSource{name: "primary", err: ErrProviderTimeout}

	chain := NewChain(market.AssetCrypto, []Source{primary}, nil)
	quotes := chain.Fetch(context.Background(), []string{"BTC"})

	if len(quotes) != 0 {
		t.Fatalf("got %d quotes, want none without a synthetic rung", len(quotes))
	}
}

func TestChainMinIntervalSkips(t *testing.T) {
	primary := &stubSource{name: "primary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 45000),
	}}
	secondary := &stubSource{name: "secondary", quotes: map[string]market.Quote{
		"BTC": stubQuote("BTC", 46000),
	}}

	chain := NewChain(market.AssetCrypto, []Source{primary, secondary}, nil,
		WithMinInterval("primary", time.Hour))

	first := chain.Fetch(context.Background(), []string{"BTC"})
	if !first["BTC"].Price.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("first cycle price = %s, want primary answer", first["BTC"].Price)
	}

	second := chain.Fetch(context.Background(), []string{"BTC"})
	if !second["BTC"].Price.Equal(decimal.NewFromInt(46000)) {
		t.Fatalf("second cycle price = %s, want fallback while primary throttled", second["BTC"].Price)
	}
	if primary.calls != 1 {
		t.Fatalf("primary called %d times inside min interval", primary.calls)
	}
}
