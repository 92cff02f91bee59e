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

const metalsAPIDefaultURL = "https://metals-api.com/api/latest"

// MetalsAPISource fetches spot metal prices. The API quotes rates as
// ounces per USD, so values are inverted into USD per ounce.
type MetalsAPISource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewMetalsAPISource(client *http.Client, baseURL, apiKey string) *MetalsAPISource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = metalsAPIDefaultURL
	}
	return &MetalsAPISource{client: client, baseURL: baseURL, apiKey: strings.TrimSpace(apiKey)}
}

func (s *MetalsAPISource) Name() string                  { return "metalsapi" }
func (s *MetalsAPISource) AssetClass() market.AssetClass { return market.AssetMetal }

func (s *MetalsAPISource) Fetch(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	upper := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		upper = append(upper, strings.ToUpper(symbol))
	}

	params := url.Values{}
	params.Set("base", "USD")
	params.Set("symbols", strings.Join(upper, ","))
	if s.apiKey != "" {
		params.Set("access_key", s.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build metalsapi request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	var payload struct {
		Success bool               `json:"success"`
		Rates   map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderMalformed, err)
	}
	if !payload.Success && len(payload.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rates", ErrProviderMalformed)
	}

	now := time.Now().UTC()
	quotes := make(map[string]market.Quote, len(upper))
	for _, symbol := range upper {
		rate, ok := payload.Rates[symbol]
		if !ok || rate <= 0 {
			continue
		}
		quotes[symbol] = market.Quote{
			Symbol:     symbol,
			AssetClass: market.AssetMetal,
			Price:      decimal.NewFromFloat(1 / rate).Round(2),
			Source:     s.Name(),
			ObservedAt: now,
		}
	}
	return quotes, nil
}
