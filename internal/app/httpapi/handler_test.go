package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/movement"
	"github.com/meridianvest/marketfeed/internal/app/storage/memory"
)

func newTestHandler(t *testing.T) (http.Handler, *feeds.Service) {
	t.Helper()
	store := memory.New()
	feedSvc := feeds.New(store, store, nil)
	movementSvc := movement.New(store, store, nil)
	feedSvc.AttachMovementRecorder(movementSvc)
	return NewHandler(feedSvc, movementSvc, nil, nil), feedSvc
}

func seedFeed(t *testing.T, svc *feeds.Service, symbol string, prices ...string) {
	t.Helper()
	for _, price := range prices {
		_, err := svc.Reconcile(context.Background(), market.Quote{
			Symbol:     symbol,
			AssetClass: market.AssetCrypto,
			Price:      decimal.RequireFromString(price),
			ObservedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", symbol, err)
		}
	}
}

func doRequest(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListFeeds(t *testing.T) {
	h, svc := newTestHandler(t)
	seedFeed(t, svc, "BTC", "45000")
	seedFeed(t, svc, "ETH", "3000")
	svc.Deactivate(context.Background(), []string{"ETH"})

	rec := doRequest(t, h, "/v1/feeds")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Feeds []market.Feed `json:"feeds"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Feeds[0].Symbol != "BTC" {
		t.Fatalf("body = %+v", body)
	}

	rec = doRequest(t, h, "/v1/feeds?include_inactive=true")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count with inactive = %d, want 2", body.Count)
	}
}

func TestGetFeed(t *testing.T) {
	h, svc := newTestHandler(t)
	seedFeed(t, svc, "BTC", "45000", "46350")

	rec := doRequest(t, h, "/v1/feeds/btc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var feed market.Feed
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !feed.CurrentPrice.Equal(decimal.NewFromInt(46350)) {
		t.Fatalf("price = %s", feed.CurrentPrice)
	}
	if !feed.ChangePct24h.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("pct = %s", feed.ChangePct24h)
	}
}

func TestGetFeedNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, "/v1/feeds/NOPE")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetHistory(t *testing.T) {
	h, svc := newTestHandler(t)
	seedFeed(t, svc, "BTC", "45000", "46000", "44000")

	rec := doRequest(t, h, "/v1/feeds/BTC/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Symbol string                `json:"symbol"`
		Points []market.HistoryPoint `json:"points"`
		Count  int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Three reconciles: creation writes no history, two moves do.
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Symbol != "BTC" {
		t.Fatalf("symbol = %q", body.Symbol)
	}
}

func TestGetHistoryBadRange(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, "/v1/feeds/BTC/history?since=not-a-time")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doRequest(t, h, "/v1/feeds/BTC/history?since=2026-03-10T12:00:00Z&until=2026-03-10T11:00:00Z")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range status = %d", rec.Code)
	}
}

func TestGetMovements(t *testing.T) {
	h, svc := newTestHandler(t)
	seedFeed(t, svc, "BTC", "45000", "46000", "44000", "44000")

	rec := doRequest(t, h, "/v1/movements/BTC")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var stats market.MovementStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Increases != 1 || stats.Decreases != 1 || stats.Unchanged != 0 {
		t.Fatalf("counters = %d/%d/%d, want 1/1/0", stats.Increases, stats.Decreases, stats.Unchanged)
	}

	rec = doRequest(t, h, "/v1/movements/global")
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode global: %v", err)
	}
	if stats.Increases != 1 || stats.Decreases != 1 {
		t.Fatalf("global counters = %d/%d, want 1/1", stats.Increases, stats.Decreases)
	}
}

func TestGetMovementsEmptyDay(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, "/v1/movements/BTC?date=2020-01-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats market.MovementStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Increases != 0 || stats.Symbol != "BTC" {
		t.Fatalf("stats = %+v", stats)
	}

	rec = doRequest(t, h, "/v1/movements/BTC?date=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}
}
