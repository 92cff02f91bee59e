// Package feeds owns the canonical current-price store. Reconcile is
// the only write path for prices; history and movement effects are
// derived from the feed write, never the other way around.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/metrics"
	"github.com/meridianvest/marketfeed/internal/app/storage"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// MovementRecorder receives one classified movement per accepted
// reconciliation. Implemented by the movement service; attached after
// construction to keep the dependency one-directional.
type MovementRecorder interface {
	Record(ctx context.Context, symbol string, kind market.MovementKind, price decimal.Decimal, at time.Time) error
}

// ReconcileResult describes the outcome of reconciling one quote.
type ReconcileResult struct {
	Kind    market.MovementKind
	Delta   decimal.Decimal
	Pct     decimal.Decimal
	Created bool
	Updated bool
}

// Service reconciles provider quotes into canonical feeds and serves
// the read-only query surface.
type Service struct {
	store    storage.FeedStore
	history  storage.HistoryStore
	movement MovementRecorder
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a feed service.
func New(store storage.FeedStore, history storage.HistoryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feeds")
	}
	return &Service{
		store:   store,
		history: history,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// AttachMovementRecorder wires the movement aggregator. Call before the
// scheduler starts.
func (s *Service) AttachMovementRecorder(rec MovementRecorder) {
	s.movement = rec
}

// Reconcile compares a quote against the current feed and applies the
// update. Writes for the same symbol are serialized; the feed write
// happens before the derived history append and movement record, and
// failures in either derived write never roll back the feed.
func (s *Service) Reconcile(ctx context.Context, quote market.Quote) (ReconcileResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if symbol == "" {
		return ReconcileResult{}, fmt.Errorf("quote symbol is required")
	}
	if !quote.Price.IsPositive() {
		return ReconcileResult{}, fmt.Errorf("quote price must be positive, got %s", quote.Price)
	}

	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	observedAt := quote.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	feed, err := s.store.GetFeed(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return s.createFeed(ctx, symbol, quote, observedAt)
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("load feed %s: %w", symbol, err)
	}

	if quote.Price.Equal(feed.CurrentPrice) {
		metrics.RecordReconcile(string(market.MovementUnchanged))
		return ReconcileResult{Kind: market.MovementUnchanged}, nil
	}

	delta := quote.Price.Sub(feed.CurrentPrice)
	pct := decimal.Zero
	if feed.CurrentPrice.IsPositive() {
		pct = market.ClampChangePct(delta.Div(feed.CurrentPrice).Mul(decimal.NewFromInt(100)).Round(2))
	}
	kind := market.ClassifyMovement(delta)

	feed.CurrentPrice = quote.Price
	feed.Change24h = delta
	feed.ChangePct24h = pct
	feed.Volume24h = quote.Volume24h
	feed.MarketCap = quote.MarketCap
	feed.Active = true
	feed.LastUpdated = observedAt

	if _, err := s.store.UpsertFeed(ctx, feed); err != nil {
		return ReconcileResult{}, fmt.Errorf("update feed %s: %w", symbol, err)
	}
	metrics.RecordReconcile(string(kind))

	s.appendHistory(ctx, symbol, quote.Price, delta, pct, kind, observedAt)
	s.recordMovement(ctx, symbol, kind, quote.Price, observedAt)

	return ReconcileResult{Kind: kind, Delta: delta, Pct: pct, Updated: true}, nil
}

func (s *Service) createFeed(ctx context.Context, symbol string, quote market.Quote, observedAt time.Time) (ReconcileResult, error) {
	feed := market.Feed{
		Symbol:       symbol,
		DisplayName:  symbol,
		AssetClass:   quote.AssetClass,
		CurrentPrice: quote.Price,
		Change24h:    decimal.Zero,
		ChangePct24h: decimal.Zero,
		Volume24h:    quote.Volume24h,
		MarketCap:    quote.MarketCap,
		Active:       true,
		LastUpdated:  observedAt,
	}
	if _, err := s.store.UpsertFeed(ctx, feed); err != nil {
		return ReconcileResult{}, fmt.Errorf("create feed %s: %w", symbol, err)
	}

	s.log.WithField("symbol", symbol).
		WithField("price", quote.Price.String()).
		Info("feed created")
	metrics.RecordReconcile(string(market.MovementUnchanged))

	// First observation seeds the price; no movement happened yet.
	return ReconcileResult{Kind: market.MovementUnchanged, Created: true}, nil
}

// appendHistory is best-effort observability: a failed append is logged
// and never rolls back the feed write.
func (s *Service) appendHistory(ctx context.Context, symbol string, price, delta, pct decimal.Decimal, kind market.MovementKind, observedAt time.Time) {
	point := market.HistoryPoint{
		Symbol:       symbol,
		Price:        price,
		ChangeAmount: delta,
		ChangePct:    pct,
		Kind:         kind,
		ObservedAt:   observedAt,
	}
	if _, err := s.history.AppendHistory(ctx, point); err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("append price history failed")
	}
}

func (s *Service) recordMovement(ctx context.Context, symbol string, kind market.MovementKind, price decimal.Decimal, at time.Time) {
	if s.movement == nil {
		return
	}
	if err := s.movement.Record(ctx, symbol, kind, price, at); err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("record movement failed")
	}
}

// GetFeed returns the canonical feed for a symbol.
func (s *Service) GetFeed(ctx context.Context, symbol string) (market.Feed, error) {
	return s.store.GetFeed(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}

// ListFeeds returns feeds, optionally restricted to active ones.
func (s *Service) ListFeeds(ctx context.Context, activeOnly bool) ([]market.Feed, error) {
	return s.store.ListFeeds(ctx, activeOnly)
}

// History returns the ordered history points for a symbol within
// [since, until].
func (s *Service) History(ctx context.Context, symbol string, since, until time.Time) ([]market.HistoryPoint, error) {
	return s.history.HistoryRange(ctx, strings.ToUpper(strings.TrimSpace(symbol)), since, until)
}

// Deactivate marks feeds for symbols no longer present in the registry.
// The feed row and its last known price are retained.
func (s *Service) Deactivate(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if err := s.store.SetFeedActive(ctx, symbol, false); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).WithField("symbol", symbol).Warn("deactivate feed failed")
			continue
		}
	}
}

// ApplyRegistryNames copies display names and asset classes from the
// registry onto existing feeds. Called once per cycle so catalog edits
// show up without a restart.
func (s *Service) ApplyRegistryNames(ctx context.Context, entries []market.RegistryEntry) {
	for _, entry := range entries {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		lock := s.symbolLock(symbol)
		lock.Lock()
		s.applyRegistryName(ctx, symbol, entry)
		lock.Unlock()
	}
}

func (s *Service) applyRegistryName(ctx context.Context, symbol string, entry market.RegistryEntry) {
	feed, err := s.store.GetFeed(ctx, symbol)
	if err != nil {
		return
	}
	name := entry.DisplayName
	if name == "" {
		name = symbol
	}
	if feed.DisplayName == name && feed.AssetClass == entry.AssetClass {
		return
	}
	feed.DisplayName = name
	feed.AssetClass = entry.AssetClass
	if _, err := s.store.UpsertFeed(ctx, feed); err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("apply registry name failed")
	}
}

// LastKnownPrice reports the current price for a symbol, if the feed
// exists. Used by the synthetic quote generator.
func (s *Service) LastKnownPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	feed, err := s.store.GetFeed(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return feed.CurrentPrice, true
}

func (s *Service) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[symbol] = lock
	}
	return lock
}
