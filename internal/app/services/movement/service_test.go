package movement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage/memory"
)

var noon = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestRecordIncrementsCounters(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	price := decimal.NewFromInt(46350)
	for _, kind := range []market.MovementKind{
		market.MovementIncrease,
		market.MovementIncrease,
		market.MovementDecrease,
		market.MovementUnchanged,
	} {
		if err := svc.Record(ctx, "BTC", kind, price, noon); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, err := svc.Stats(ctx, "BTC", noon)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Increases != 2 || stats.Decreases != 1 || stats.Unchanged != 1 {
		t.Fatalf("counters = %d/%d/%d, want 2/1/1", stats.Increases, stats.Decreases, stats.Unchanged)
	}
}

func TestRecordMirrorsOntoGlobalRow(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if err := svc.Record(ctx, "BTC", market.MovementIncrease, decimal.NewFromInt(46000), noon); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Record(ctx, "XAU", market.MovementDecrease, decimal.NewFromInt(1990), noon); err != nil {
		t.Fatalf("record: %v", err)
	}

	global, err := svc.Stats(ctx, market.GlobalSymbol, noon)
	if err != nil {
		t.Fatalf("global stats: %v", err)
	}
	if global.Increases != 1 || global.Decreases != 1 {
		t.Fatalf("global counters = %d/%d, want 1/1", global.Increases, global.Decreases)
	}
	if global.High24h.Valid || global.Low24h.Valid {
		t.Fatal("global row should carry no price extremes")
	}
}

func TestRecordTracksExtremes(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	prices := []int64{46000, 44000, 47000}
	for _, p := range prices {
		if err := svc.Record(ctx, "BTC", market.MovementIncrease, decimal.NewFromInt(p), noon); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, err := svc.Stats(ctx, "BTC", noon)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.High24h.Valid || !stats.High24h.Decimal.Equal(decimal.NewFromInt(47000)) {
		t.Fatalf("high = %+v, want 47000", stats.High24h)
	}
	if !stats.Low24h.Valid || !stats.Low24h.Decimal.Equal(decimal.NewFromInt(44000)) {
		t.Fatalf("low = %+v, want 44000", stats.Low24h)
	}
}

func TestRecordKeysRowsByEventDay(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	beforeMidnight := time.Date(2026, time.March, 10, 23, 59, 30, 0, time.UTC)
	afterMidnight := time.Date(2026, time.March, 11, 0, 0, 30, 0, time.UTC)
	price := decimal.NewFromInt(46000)

	if err := svc.Record(ctx, "BTC", market.MovementIncrease, price, beforeMidnight); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Record(ctx, "BTC", market.MovementIncrease, price, afterMidnight); err != nil {
		t.Fatalf("record: %v", err)
	}

	day1, err := svc.Stats(ctx, "BTC", beforeMidnight)
	if err != nil {
		t.Fatalf("day1 stats: %v", err)
	}
	day2, err := svc.Stats(ctx, "BTC", afterMidnight)
	if err != nil {
		t.Fatalf("day2 stats: %v", err)
	}
	if day1.Increases != 1 || day2.Increases != 1 {
		t.Fatalf("day counters = %d and %d, want 1 and 1", day1.Increases, day2.Increases)
	}
	if day1.Date.Equal(day2.Date) {
		t.Fatal("events around midnight landed on the same day row")
	}
}

func TestAvg24hFromHistory(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	for i, p := range []int64{44000, 46000} {
		_, err := store.AppendHistory(ctx, market.HistoryPoint{
			Symbol:     "BTC",
			Price:      decimal.NewFromInt(p),
			Kind:       market.MovementIncrease,
			ObservedAt: noon.Add(time.Duration(i-2) * time.Hour),
		})
		if err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	if err := svc.Record(ctx, "BTC", market.MovementIncrease, decimal.NewFromInt(46000), noon); err != nil {
		t.Fatalf("record: %v", err)
	}

	stats, err := svc.Stats(ctx, "BTC", noon)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.Avg24h.Valid {
		t.Fatal("expected avg to be set")
	}
	if !stats.Avg24h.Decimal.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("avg = %s, want 45000", stats.Avg24h.Decimal)
	}
}

func TestRecordRejectsEmptySymbol(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	err := svc.Record(context.Background(), "  ", market.MovementIncrease, decimal.NewFromInt(1), noon)
	if err == nil {
		t.Fatal("expected error for empty symbol")
	}
}
