// Package scheduler drives the polling loop: every cycle it resolves
// the tracked symbol set, fetches quotes through the provider chains,
// reconciles them into the feed store and broadcasts the result.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/metrics"
	"github.com/meridianvest/marketfeed/internal/app/services/broadcast"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/quotes"
	"github.com/meridianvest/marketfeed/internal/app/services/registry"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

const (
	// DefaultInterval separates successful cycles.
	DefaultInterval = 5 * time.Minute
	// DefaultRetryDelay separates a failed cycle from the next attempt.
	DefaultRetryDelay = time.Minute
	// DefaultCycleTimeout bounds one full cycle.
	DefaultCycleTimeout = 2 * time.Minute
)

// Scheduler runs the polling loop as a managed service.
type Scheduler struct {
	registry  registry.Provider
	feeds     *feeds.Service
	chains    map[market.AssetClass]*quotes.Chain
	publisher broadcast.Publisher
	log       *logger.Logger

	interval     time.Duration
	retryDelay   time.Duration
	cycleTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option adjusts scheduler timing.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

func WithCycleTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cycleTimeout = d
		}
	}
}

// New constructs a scheduler. A nil publisher disables broadcasting.
func New(reg registry.Provider, feedSvc *feeds.Service, chains map[market.AssetClass]*quotes.Chain, publisher broadcast.Publisher, log *logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	if publisher == nil {
		publisher = broadcast.Noop{}
	}
	s := &Scheduler{
		registry:     reg,
		feeds:        feedSvc,
		chains:       chains,
		publisher:    publisher,
		log:          log,
		interval:     DefaultInterval,
		retryDelay:   DefaultRetryDelay,
		cycleTimeout: DefaultCycleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start launches the polling loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx)
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		delay := s.interval
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warnf("cycle failed, retrying in %s", s.retryDelay)
			delay = s.retryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle executes one polling cycle. Exported so operators can force
// a refresh outside the loop cadence.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	start := time.Now()
	err := s.cycle(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordCycle(status, time.Since(start))
	return err
}

func (s *Scheduler) cycle(ctx context.Context) error {
	entries, err := s.registry.ListTracked(ctx)
	if err != nil {
		return fmt.Errorf("list tracked symbols: %w", err)
	}
	if len(entries) == 0 {
		s.log.Warn("registry lists no symbols, skipping cycle")
		return nil
	}

	s.deactivateRemoved(ctx, entries)

	bySymbol := make(map[string]market.RegistryEntry, len(entries))
	byClass := make(map[market.AssetClass][]string)
	for _, entry := range entries {
		bySymbol[entry.Symbol] = entry
		byClass[entry.AssetClass] = append(byClass[entry.AssetClass], entry.Symbol)
	}

	var reconciled int
	for class, symbols := range byClass {
		chain, ok := s.chains[class]
		if !ok {
			s.log.WithField("asset_class", string(class)).Warn("no provider chain for asset class")
			continue
		}
		for _, quote := range chain.Fetch(ctx, symbols) {
			if _, err := s.feeds.Reconcile(ctx, quote); err != nil {
				s.log.WithError(err).WithField("symbol", quote.Symbol).Error("reconcile failed")
				continue
			}
			reconciled++
		}
	}
	if reconciled == 0 {
		return fmt.Errorf("cycle produced no reconciled feeds")
	}

	s.feeds.ApplyRegistryNames(ctx, entries)
	s.broadcast(ctx)
	return nil
}

// deactivateRemoved flags feeds whose symbols left the registry. Rows
// are retained; only is_active flips.
func (s *Scheduler) deactivateRemoved(ctx context.Context, entries []market.RegistryEntry) {
	active, err := s.feeds.ListFeeds(ctx, true)
	if err != nil {
		s.log.WithError(err).Warn("list active feeds failed, skipping deactivation sweep")
		return
	}
	tracked := make(map[string]bool, len(entries))
	for _, entry := range entries {
		tracked[entry.Symbol] = true
	}
	var removed []string
	for _, feed := range active {
		if !tracked[feed.Symbol] {
			removed = append(removed, feed.Symbol)
		}
	}
	if len(removed) > 0 {
		s.log.WithField("symbols", removed).Info("deactivating feeds removed from registry")
		s.feeds.Deactivate(ctx, removed)
	}
}

// broadcast publishes the active snapshot. Failures are logged and
// swallowed; a downstream outage never fails the cycle.
func (s *Scheduler) broadcast(ctx context.Context) {
	snapshot, err := s.feeds.ListFeeds(ctx, true)
	if err != nil {
		s.log.WithError(err).Warn("snapshot for broadcast failed")
		return
	}
	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		metrics.RecordBroadcastFailure(s.publisher.Name())
		s.log.WithError(err).WithField("publisher", s.publisher.Name()).Warn("broadcast failed")
	}
}
