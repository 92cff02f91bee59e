// Package postgres implements the storage interfaces backed by
// PostgreSQL. Schema for the four tables lives in schema.sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage"
)

// Store implements the storage interfaces using a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.HistoryStore = (*Store)(nil)
var _ storage.MovementStore = (*Store)(nil)
var _ storage.RegistryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- FeedStore ---------------------------------------------------------------

func (s *Store) GetFeed(ctx context.Context, symbol string) (market.Feed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, display_name, asset_class, current_price, change_24h, change_pct_24h, volume_24h, market_cap, is_active, created_at, last_updated
		FROM market_feeds
		WHERE symbol = $1
	`, symbol)

	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Feed{}, storage.ErrNotFound
	}
	return feed, err
}

func (s *Store) ListFeeds(ctx context.Context, activeOnly bool) ([]market.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, display_name, asset_class, current_price, change_24h, change_pct_24h, volume_24h, market_cap, is_active, created_at, last_updated
		FROM market_feeds
		WHERE $1 = false OR is_active = true
		ORDER BY symbol
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, feed)
	}
	return result, rows.Err()
}

func (s *Store) UpsertFeed(ctx context.Context, feed market.Feed) (market.Feed, error) {
	now := time.Now().UTC()
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = now
	}
	if feed.LastUpdated.IsZero() {
		feed.LastUpdated = now
	}

	exec := func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO market_feeds (symbol, display_name, asset_class, current_price, change_24h, change_pct_24h, volume_24h, market_cap, is_active, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (symbol) DO UPDATE
			SET display_name = EXCLUDED.display_name,
			    asset_class = EXCLUDED.asset_class,
			    current_price = EXCLUDED.current_price,
			    change_24h = EXCLUDED.change_24h,
			    change_pct_24h = EXCLUDED.change_pct_24h,
			    volume_24h = EXCLUDED.volume_24h,
			    market_cap = EXCLUDED.market_cap,
			    is_active = EXCLUDED.is_active,
			    last_updated = EXCLUDED.last_updated
		`, feed.Symbol, feed.DisplayName, string(feed.AssetClass), feed.CurrentPrice, feed.Change24h, feed.ChangePct24h, feed.Volume24h, feed.MarketCap, feed.Active, feed.CreatedAt, feed.LastUpdated)
		return err
	}

	err := exec()
	if isSerializationFailure(err) {
		err = exec()
	}
	if err != nil {
		return market.Feed{}, err
	}
	return feed, nil
}

func (s *Store) SetFeedActive(ctx context.Context, symbol string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE market_feeds
		SET is_active = $2, last_updated = $3
		WHERE symbol = $1
	`, symbol, active, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- HistoryStore ------------------------------------------------------------

func (s *Store) AppendHistory(ctx context.Context, point market.HistoryPoint) (market.HistoryPoint, error) {
	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	if point.ObservedAt.IsZero() {
		point.ObservedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_price_history (id, symbol, price, change_amount, change_pct, movement_kind, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, point.ID, point.Symbol, point.Price, point.ChangeAmount, point.ChangePct, string(point.Kind), point.ObservedAt)
	if err != nil {
		return market.HistoryPoint{}, err
	}
	return point, nil
}

func (s *Store) HistoryRange(ctx context.Context, symbol string, since, until time.Time) ([]market.HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, price, change_amount, change_pct, movement_kind, observed_at
		FROM market_price_history
		WHERE symbol = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at
	`, symbol, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.HistoryPoint
	for rows.Next() {
		var (
			point market.HistoryPoint
			kind  string
		)
		if err := rows.Scan(&point.ID, &point.Symbol, &point.Price, &point.ChangeAmount, &point.ChangePct, &kind, &point.ObservedAt); err != nil {
			return nil, err
		}
		point.Kind = market.MovementKind(kind)
		result = append(result, point)
	}
	return result, rows.Err()
}

func (s *Store) PruneHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM market_price_history
		WHERE observed_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- MovementStore -----------------------------------------------------------

func (s *Store) GetMovementStats(ctx context.Context, symbol string, day time.Time) (market.MovementStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, stat_date, increases, decreases, unchanged, high_24h, low_24h, avg_24h, updated_at
		FROM market_movement_stats
		WHERE symbol = $1 AND stat_date = $2
	`, symbol, market.Day(day))

	stats, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.MovementStats{}, storage.ErrNotFound
	}
	return stats, err
}

func (s *Store) UpsertMovementStats(ctx context.Context, stats market.MovementStats) (market.MovementStats, error) {
	stats.Date = market.Day(stats.Date)
	stats.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_movement_stats (symbol, stat_date, increases, decreases, unchanged, high_24h, low_24h, avg_24h, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, stat_date) DO UPDATE
		SET increases = EXCLUDED.increases,
		    decreases = EXCLUDED.decreases,
		    unchanged = EXCLUDED.unchanged,
		    high_24h = EXCLUDED.high_24h,
		    low_24h = EXCLUDED.low_24h,
		    avg_24h = EXCLUDED.avg_24h,
		    updated_at = EXCLUDED.updated_at
	`, stats.Symbol, stats.Date, stats.Increases, stats.Decreases, stats.Unchanged, stats.High24h, stats.Low24h, stats.Avg24h, stats.UpdatedAt)
	if err != nil {
		return market.MovementStats{}, err
	}
	return stats, nil
}

func (s *Store) ListMovementStats(ctx context.Context, day time.Time) ([]market.MovementStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, stat_date, increases, decreases, unchanged, high_24h, low_24h, avg_24h, updated_at
		FROM market_movement_stats
		WHERE stat_date = $1
		ORDER BY symbol
	`, market.Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.MovementStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, stats)
	}
	return result, rows.Err()
}

// --- RegistryStore -----------------------------------------------------------

func (s *Store) ListRegistryEntries(ctx context.Context) ([]market.RegistryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, asset_class, display_name
		FROM market_registry
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.RegistryEntry
	for rows.Next() {
		var (
			entry market.RegistryEntry
			class string
		)
		if err := rows.Scan(&entry.Symbol, &class, &entry.DisplayName); err != nil {
			return nil, err
		}
		entry.AssetClass = market.AssetClass(class)
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) PutRegistryEntry(ctx context.Context, entry market.RegistryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_registry (symbol, asset_class, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE
		SET asset_class = EXCLUDED.asset_class,
		    display_name = EXCLUDED.display_name
	`, entry.Symbol, string(entry.AssetClass), entry.DisplayName)
	return err
}

func (s *Store) RemoveRegistryEntry(ctx context.Context, symbol string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM market_registry
		WHERE symbol = $1
	`, symbol)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row rowScanner) (market.Feed, error) {
	var (
		feed  market.Feed
		class string
	)
	if err := row.Scan(&feed.Symbol, &feed.DisplayName, &class, &feed.CurrentPrice, &feed.Change24h, &feed.ChangePct24h, &feed.Volume24h, &feed.MarketCap, &feed.Active, &feed.CreatedAt, &feed.LastUpdated); err != nil {
		return market.Feed{}, err
	}
	feed.AssetClass = market.AssetClass(class)
	return feed, nil
}

func scanStats(row rowScanner) (market.MovementStats, error) {
	var stats market.MovementStats
	if err := row.Scan(&stats.Symbol, &stats.Date, &stats.Increases, &stats.Decreases, &stats.Unchanged, &stats.High24h, &stats.Low24h, &stats.Avg24h, &stats.UpdatedAt); err != nil {
		return market.MovementStats{}, err
	}
	return stats, nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	return false
}
