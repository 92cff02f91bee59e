package retention

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage/memory"
)

func TestSweepPrunesAgedHistory(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{100 * 24 * time.Hour, time.Hour} {
		_, err := store.AppendHistory(ctx, market.HistoryPoint{
			Symbol:     "BTC",
			Price:      decimal.NewFromInt(45000),
			ObservedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	svc := New(store, "", DefaultMaxAge, nil)
	require.NoError(t, svc.Sweep(ctx))

	points, err := store.HistoryRange(ctx, "BTC", time.Time{}, now)
	require.NoError(t, err)
	require.Len(t, points, 1, "only the recent point should survive")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := New(memory.New(), "not a cron expr", 0, nil)
	require.Error(t, svc.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	svc := New(memory.New(), "", 0, nil)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.Error(t, svc.Start(ctx), "second start should fail")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
	require.NoError(t, svc.Stop(stopCtx))
}
