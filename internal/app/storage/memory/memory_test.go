package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage"
)

func TestFeedRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetFeed(ctx, "BTC"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing feed err = %v, want ErrNotFound", err)
	}

	_, err := store.UpsertFeed(ctx, market.Feed{
		Symbol:       "btc",
		CurrentPrice: decimal.NewFromInt(45000),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	feed, err := store.GetFeed(ctx, "BTC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if feed.Symbol != "BTC" {
		t.Fatalf("symbol not normalized: %q", feed.Symbol)
	}
}

func TestListFeedsActiveOnly(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, f := range []market.Feed{
		{Symbol: "ETH", Active: true},
		{Symbol: "BTC", Active: true},
		{Symbol: "ADA", Active: false},
	} {
		if _, err := store.UpsertFeed(ctx, f); err != nil {
			t.Fatalf("upsert %s: %v", f.Symbol, err)
		}
	}

	active, err := store.ListFeeds(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active feeds = %d, want 2", len(active))
	}
	if active[0].Symbol != "BTC" || active[1].Symbol != "ETH" {
		t.Fatalf("feeds not sorted: %s, %s", active[0].Symbol, active[1].Symbol)
	}

	all, err := store.ListFeeds(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all feeds = %d, want 3", len(all))
	}
}

func TestSetFeedActive(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.SetFeedActive(ctx, "BTC", false); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.UpsertFeed(ctx, market.Feed{Symbol: "BTC", Active: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.SetFeedActive(ctx, "BTC", false); err != nil {
		t.Fatalf("set: %v", err)
	}
	feed, _ := store.GetFeed(ctx, "BTC")
	if feed.Active {
		t.Fatal("feed still active")
	}
}

func TestHistoryAppendAndPrune(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		point, err := store.AppendHistory(ctx, market.HistoryPoint{
			Symbol:     "BTC",
			Price:      decimal.NewFromInt(45000 + int64(i)),
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if point.ID == "" {
			t.Fatal("append did not assign an id")
		}
	}

	points, err := store.HistoryRange(ctx, "BTC", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points in range = %d, want 2", len(points))
	}

	pruned, err := store.PruneHistory(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.PutRegistryEntry(ctx, market.RegistryEntry{Symbol: "btc", AssetClass: market.AssetCrypto}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := store.ListRegistryEntries(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Symbol != "BTC" {
		t.Fatalf("entries = %+v", entries)
	}

	if err := store.RemoveRegistryEntry(ctx, "BTC"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ = store.ListRegistryEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("entries after remove = %d", len(entries))
	}
}

func TestGlobalStatsKeyStaysLowercase(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.UpsertMovementStats(ctx, market.MovementStats{
		Symbol:    market.GlobalSymbol,
		Date:      time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		Increases: 1,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stats, err := store.GetMovementStats(ctx, "GLOBAL", time.Date(2026, time.March, 10, 5, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stats.Symbol != market.GlobalSymbol {
		t.Fatalf("symbol = %q", stats.Symbol)
	}
}
