// Package movement maintains per-symbol-per-day movement counters and
// 24h price extremes. Rows are keyed by the UTC calendar day of the
// event timestamp; rows for prior days are never mutated.
package movement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// avgRecomputeInterval bounds how often the trailing-24h average is
// recomputed from history for a symbol. High/low update on every event.
const avgRecomputeInterval = time.Minute

// Service aggregates movements into daily statistics rows.
type Service struct {
	store   storage.MovementStore
	history storage.HistoryStore
	log     *logger.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	lastAvg map[string]time.Time
}

// New constructs a movement aggregator.
func New(store storage.MovementStore, history storage.HistoryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("movement")
	}
	return &Service{
		store:   store,
		history: history,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
		lastAvg: make(map[string]time.Time),
	}
}

// Record increments the counter matching kind on the (symbol, day) row,
// creating it lazily, and mirrors the event onto the global row. The
// day is derived from the event timestamp alone, so an event arriving
// after UTC midnight lands on the new day's row with no buffering.
func (s *Service) Record(ctx context.Context, symbol string, kind market.MovementKind, price decimal.Decimal, at time.Time) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if err := s.record(ctx, symbol, kind, price, at, true); err != nil {
		return err
	}
	// The global row counts events across all symbols; extremes and
	// averages are per-symbol concepts and stay unset on it.
	return s.record(ctx, market.GlobalSymbol, kind, decimal.Decimal{}, at, false)
}

func (s *Service) record(ctx context.Context, symbol string, kind market.MovementKind, price decimal.Decimal, at time.Time, withPrice bool) error {
	lock := s.rowLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	day := market.Day(at)
	stats, err := s.store.GetMovementStats(ctx, symbol, day)
	if errors.Is(err, storage.ErrNotFound) {
		stats = market.MovementStats{Symbol: symbol, Date: day}
	} else if err != nil {
		return fmt.Errorf("load movement stats %s: %w", symbol, err)
	}

	switch kind {
	case market.MovementIncrease:
		stats.Increases++
	case market.MovementDecrease:
		stats.Decreases++
	default:
		stats.Unchanged++
	}

	if withPrice && price.IsPositive() {
		if !stats.High24h.Valid || price.GreaterThan(stats.High24h.Decimal) {
			stats.High24h = decimal.NewNullDecimal(price)
		}
		if !stats.Low24h.Valid || price.LessThan(stats.Low24h.Decimal) {
			stats.Low24h = decimal.NewNullDecimal(price)
		}
		if avg, ok := s.maybeRecomputeAvg(ctx, symbol, at); ok {
			stats.Avg24h = decimal.NewNullDecimal(avg)
		}
	}

	if _, err := s.store.UpsertMovementStats(ctx, stats); err != nil {
		return fmt.Errorf("save movement stats %s: %w", symbol, err)
	}
	return nil
}

// maybeRecomputeAvg recomputes the trailing-24h mean price from the
// history log, at most once per avgRecomputeInterval per symbol.
func (s *Service) maybeRecomputeAvg(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, bool) {
	s.mu.Lock()
	last, ok := s.lastAvg[symbol]
	if ok && at.Sub(last) < avgRecomputeInterval {
		s.mu.Unlock()
		return decimal.Decimal{}, false
	}
	s.lastAvg[symbol] = at
	s.mu.Unlock()

	points, err := s.history.HistoryRange(ctx, symbol, at.Add(-24*time.Hour), at)
	if err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("history range for avg failed")
		return decimal.Decimal{}, false
	}
	if len(points) == 0 {
		return decimal.Decimal{}, false
	}

	sum := decimal.Zero
	for _, point := range points {
		sum = sum.Add(point.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(points)))).Round(8), true
}

// Stats returns the statistics row for a symbol (or market.GlobalSymbol)
// on the given UTC day.
func (s *Service) Stats(ctx context.Context, symbol string, day time.Time) (market.MovementStats, error) {
	symbol = strings.TrimSpace(symbol)
	if strings.EqualFold(symbol, market.GlobalSymbol) {
		symbol = market.GlobalSymbol
	} else {
		symbol = strings.ToUpper(symbol)
	}
	return s.store.GetMovementStats(ctx, symbol, day)
}

// StatsForDay lists every symbol's row for the given UTC day.
func (s *Service) StatsForDay(ctx context.Context, day time.Time) ([]market.MovementStats, error) {
	return s.store.ListMovementStats(ctx, day)
}

func (s *Service) rowLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[symbol] = lock
	}
	return lock
}
