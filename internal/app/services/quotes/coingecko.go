package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

const coinGeckoDefaultURL = "https://api.coingecko.com/api/v3/simple/price"

// defaultCoinIDs maps ticker symbols to CoinGecko coin identifiers.
var defaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"ADA":  "cardano",
	"LINK": "chainlink",
	"SOL":  "solana",
	"DOT":  "polkadot",
}

// CoinGeckoSource fetches crypto quotes from the CoinGecko simple-price
// endpoint in one batch call per cycle.
type CoinGeckoSource struct {
	client  *http.Client
	baseURL string
	coinIDs map[string]string
}

// NewCoinGeckoSource constructs the source. A nil client gets a 10s
// timeout; extra symbol-to-id mappings extend the defaults.
func NewCoinGeckoSource(client *http.Client, baseURL string, extraIDs map[string]string) *CoinGeckoSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = coinGeckoDefaultURL
	}
	ids := make(map[string]string, len(defaultCoinIDs)+len(extraIDs))
	for symbol, id := range defaultCoinIDs {
		ids[symbol] = id
	}
	for symbol, id := range extraIDs {
		ids[strings.ToUpper(symbol)] = id
	}
	return &CoinGeckoSource{client: client, baseURL: baseURL, coinIDs: ids}
}

func (s *CoinGeckoSource) Name() string                  { return "coingecko" }
func (s *CoinGeckoSource) AssetClass() market.AssetClass { return market.AssetCrypto }

func (s *CoinGeckoSource) Fetch(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		id, ok := s.coinIDs[strings.ToUpper(symbol)]
		if !ok {
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = strings.ToUpper(symbol)
	}
	if len(ids) == 0 {
		return map[string]market.Quote{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_market_cap", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build coingecko request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderMalformed, err)
	}

	now := time.Now().UTC()
	quotes := make(map[string]market.Quote, len(payload))
	for id, fields := range payload {
		symbol, ok := idToSymbol[id]
		if !ok {
			continue
		}
		price, ok := fields["usd"]
		if !ok || price <= 0 {
			continue
		}
		quote := market.Quote{
			Symbol:     symbol,
			AssetClass: market.AssetCrypto,
			Price:      decimal.NewFromFloat(price),
			Change24h:  decimal.NewFromFloat(fields["usd_24h_change"]),
			Source:     s.Name(),
			ObservedAt: now,
		}
		if vol, ok := fields["usd_24h_vol"]; ok {
			quote.Volume24h = decimal.NewNullDecimal(decimal.NewFromFloat(vol))
		}
		if mcap, ok := fields["usd_market_cap"]; ok {
			quote.MarketCap = decimal.NewNullDecimal(decimal.NewFromFloat(mcap))
		}
		quotes[symbol] = quote
	}
	return quotes, nil
}
