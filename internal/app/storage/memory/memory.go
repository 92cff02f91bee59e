// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended
// for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage"
)

// Store keeps feeds, history, movement stats and registry entries in maps.
type Store struct {
	mu       sync.RWMutex
	feeds    map[string]market.Feed
	history  map[string][]market.HistoryPoint
	stats    map[statsKey]market.MovementStats
	registry map[string]market.RegistryEntry
}

type statsKey struct {
	symbol string
	day    time.Time
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.HistoryStore = (*Store)(nil)
var _ storage.MovementStore = (*Store)(nil)
var _ storage.RegistryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		feeds:    make(map[string]market.Feed),
		history:  make(map[string][]market.HistoryPoint),
		stats:    make(map[statsKey]market.MovementStats),
		registry: make(map[string]market.RegistryEntry),
	}
}

// --- FeedStore ---------------------------------------------------------------

func (s *Store) GetFeed(_ context.Context, symbol string) (market.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feed, ok := s.feeds[normalize(symbol)]
	if !ok {
		return market.Feed{}, storage.ErrNotFound
	}
	return feed, nil
}

func (s *Store) ListFeeds(_ context.Context, activeOnly bool) ([]market.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.Feed, 0, len(s.feeds))
	for _, feed := range s.feeds {
		if activeOnly && !feed.Active {
			continue
		}
		result = append(result, feed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *Store) UpsertFeed(_ context.Context, feed market.Feed) (market.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed.Symbol = normalize(feed.Symbol)
	now := time.Now().UTC()
	if existing, ok := s.feeds[feed.Symbol]; ok {
		feed.CreatedAt = existing.CreatedAt
	} else if feed.CreatedAt.IsZero() {
		feed.CreatedAt = now
	}
	if feed.LastUpdated.IsZero() {
		feed.LastUpdated = now
	}

	s.feeds[feed.Symbol] = feed
	return feed, nil
}

func (s *Store) SetFeedActive(_ context.Context, symbol string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[normalize(symbol)]
	if !ok {
		return storage.ErrNotFound
	}
	feed.Active = active
	s.feeds[feed.Symbol] = feed
	return nil
}

// --- HistoryStore ------------------------------------------------------------

func (s *Store) AppendHistory(_ context.Context, point market.HistoryPoint) (market.HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	point.Symbol = normalize(point.Symbol)
	if point.ObservedAt.IsZero() {
		point.ObservedAt = time.Now().UTC()
	}

	s.history[point.Symbol] = append(s.history[point.Symbol], point)
	return point, nil
}

func (s *Store) HistoryRange(_ context.Context, symbol string, since, until time.Time) ([]market.HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []market.HistoryPoint
	for _, point := range s.history[normalize(symbol)] {
		if point.ObservedAt.Before(since) || point.ObservedAt.After(until) {
			continue
		}
		result = append(result, point)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ObservedAt.Before(result[j].ObservedAt) })
	return result, nil
}

func (s *Store) PruneHistory(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for symbol, points := range s.history {
		kept := points[:0]
		for _, point := range points {
			if point.ObservedAt.Before(olderThan) {
				pruned++
				continue
			}
			kept = append(kept, point)
		}
		if len(kept) == 0 {
			delete(s.history, symbol)
			continue
		}
		s.history[symbol] = kept
	}
	return pruned, nil
}

// --- MovementStore -----------------------------------------------------------

func (s *Store) GetMovementStats(_ context.Context, symbol string, day time.Time) (market.MovementStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.stats[statsKey{symbol: normalize(symbol), day: market.Day(day)}]
	if !ok {
		return market.MovementStats{}, storage.ErrNotFound
	}
	return stats, nil
}

func (s *Store) UpsertMovementStats(_ context.Context, stats market.MovementStats) (market.MovementStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats.Symbol = normalize(stats.Symbol)
	stats.Date = market.Day(stats.Date)
	stats.UpdatedAt = time.Now().UTC()

	s.stats[statsKey{symbol: stats.Symbol, day: stats.Date}] = stats
	return stats, nil
}

func (s *Store) ListMovementStats(_ context.Context, day time.Time) ([]market.MovementStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := market.Day(day)
	var result []market.MovementStats
	for key, stats := range s.stats {
		if key.day.Equal(target) {
			result = append(result, stats)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// --- RegistryStore -----------------------------------------------------------

func (s *Store) ListRegistryEntries(_ context.Context) ([]market.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.RegistryEntry, 0, len(s.registry))
	for _, entry := range s.registry {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *Store) PutRegistryEntry(_ context.Context, entry market.RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Symbol = normalize(entry.Symbol)
	s.registry[entry.Symbol] = entry
	return nil
}

func (s *Store) RemoveRegistryEntry(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = normalize(symbol)
	if _, ok := s.registry[symbol]; !ok {
		return storage.ErrNotFound
	}
	delete(s.registry, symbol)
	return nil
}

func normalize(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	// The global stats key is reserved and stays lowercase.
	if strings.EqualFold(symbol, market.GlobalSymbol) {
		return market.GlobalSymbol
	}
	return strings.ToUpper(symbol)
}
