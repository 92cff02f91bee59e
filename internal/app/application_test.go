package app

import (
	"context"
	"testing"
	"time"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/quotes"
	"github.com/meridianvest/marketfeed/internal/app/services/scheduler"
)

func syntheticOnlyChains(feedSvc *feeds.Service) map[market.AssetClass]*quotes.Chain {
	chains := make(map[market.AssetClass]*quotes.Chain)
	for _, class := range []market.AssetClass{market.AssetCrypto, market.AssetMetal, market.AssetRealEstate} {
		chains[class] = quotes.NewChain(class, nil, nil,
			quotes.WithSyntheticRung(quotes.NewSyntheticSource(class, feedSvc, 1)))
	}
	return chains
}

func TestNewSeedsDefaultRegistryAndCycles(t *testing.T) {
	application, err := New(Stores{}, Options{ChainBuilder: syntheticOnlyChains}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := application.Scheduler.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	list, err := application.Feeds.ListFeeds(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// The default catalog carries seven symbols across crypto and metal.
	if len(list) != 7 {
		t.Fatalf("feeds = %d, want 7", len(list))
	}
	for _, feed := range list {
		if !feed.CurrentPrice.IsPositive() {
			t.Fatalf("%s has non-positive price %s", feed.Symbol, feed.CurrentPrice)
		}
	}
}

func TestWebSocketOptionAttachesHub(t *testing.T) {
	application, err := New(Stores{}, Options{ChainBuilder: syntheticOnlyChains, WebSocket: true}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Hub == nil {
		t.Fatal("hub not built")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	application, err := New(Stores{}, Options{
		ChainBuilder: syntheticOnlyChains,
		SchedulerOpts: []scheduler.Option{
			scheduler.WithInterval(time.Hour),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
