package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

const coinPaprikaDefaultURL = "https://api.coinpaprika.com/v1/tickers"

// CoinPaprikaSource fetches crypto quotes from the CoinPaprika tickers
// endpoint. The endpoint returns every listed coin in one array, so the
// response is scanned with gjson instead of decoding the full payload.
type CoinPaprikaSource struct {
	client  *http.Client
	baseURL string
}

func NewCoinPaprikaSource(client *http.Client, baseURL string) *CoinPaprikaSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = coinPaprikaDefaultURL
	}
	return &CoinPaprikaSource{client: client, baseURL: baseURL}
}

func (s *CoinPaprikaSource) Name() string                  { return "coinpaprika" }
func (s *CoinPaprikaSource) AssetClass() market.AssetClass { return market.AssetCrypto }

func (s *CoinPaprikaSource) Fetch(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build coinpaprika request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("%w: expected ticker array", ErrProviderMalformed)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[strings.ToUpper(symbol)] = true
	}

	now := time.Now().UTC()
	quotes := make(map[string]market.Quote, len(symbols))
	parsed.ForEach(func(_, ticker gjson.Result) bool {
		symbol := strings.ToUpper(ticker.Get("symbol").String())
		if !wanted[symbol] {
			return true
		}
		usd := ticker.Get("quotes.USD")
		price := usd.Get("price").Float()
		if price <= 0 {
			return true
		}
		quote := market.Quote{
			Symbol:     symbol,
			AssetClass: market.AssetCrypto,
			Price:      decimal.NewFromFloat(price),
			Change24h:  decimal.NewFromFloat(usd.Get("percent_change_24h").Float()),
			Source:     s.Name(),
			ObservedAt: now,
		}
		if vol := usd.Get("volume_24h"); vol.Exists() {
			quote.Volume24h = decimal.NewNullDecimal(decimal.NewFromFloat(vol.Float()))
		}
		if mcap := usd.Get("market_cap"); mcap.Exists() {
			quote.MarketCap = decimal.NewNullDecimal(decimal.NewFromFloat(mcap.Float()))
		}
		quotes[symbol] = quote
		return len(quotes) < len(wanted)
	})
	return quotes, nil
}
