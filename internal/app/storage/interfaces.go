// Package storage declares the persistence interfaces backing the price
// feed engine. Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// FeedStore persists canonical current-price records.
type FeedStore interface {
	GetFeed(ctx context.Context, symbol string) (market.Feed, error)
	ListFeeds(ctx context.Context, activeOnly bool) ([]market.Feed, error)
	UpsertFeed(ctx context.Context, feed market.Feed) (market.Feed, error)
	SetFeedActive(ctx context.Context, symbol string, active bool) error
}

// HistoryStore persists the append-only price history log.
type HistoryStore interface {
	AppendHistory(ctx context.Context, point market.HistoryPoint) (market.HistoryPoint, error)
	HistoryRange(ctx context.Context, symbol string, since, until time.Time) ([]market.HistoryPoint, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// MovementStore persists per-symbol-per-day movement statistics.
type MovementStore interface {
	GetMovementStats(ctx context.Context, symbol string, day time.Time) (market.MovementStats, error)
	UpsertMovementStats(ctx context.Context, stats market.MovementStats) (market.MovementStats, error)
	ListMovementStats(ctx context.Context, day time.Time) ([]market.MovementStats, error)
}

// RegistryStore persists the set of symbols the engine tracks.
type RegistryStore interface {
	ListRegistryEntries(ctx context.Context) ([]market.RegistryEntry, error)
	PutRegistryEntry(ctx context.Context, entry market.RegistryEntry) error
	RemoveRegistryEntry(ctx context.Context, symbol string) error
}
