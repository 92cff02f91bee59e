// Package retention prunes aged price history on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meridianvest/marketfeed/internal/app/metrics"
	"github.com/meridianvest/marketfeed/internal/app/storage"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

const (
	// DefaultSchedule runs the sweep daily at 03:10 UTC, off the hour to
	// avoid colliding with other midnight jobs.
	DefaultSchedule = "10 3 * * *"
	// DefaultMaxAge keeps ninety days of history.
	DefaultMaxAge = 90 * 24 * time.Hour
)

// Service deletes history points older than the retention window.
type Service struct {
	history  storage.HistoryStore
	log      *logger.Logger
	schedule string
	maxAge   time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New constructs a retention sweeper. Empty schedule and zero maxAge
// fall back to the defaults.
func New(history storage.HistoryStore, schedule string, maxAge time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("retention")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Service{history: history, log: log, schedule: schedule, maxAge: maxAge}
}

func (s *Service) Name() string { return "retention" }

// Start registers the cron job. Schedules are interpreted in UTC so the
// sweep boundary matches the UTC-day keying used elsewhere.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retention already running")
	}
	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the cron scheduler and waits for a running sweep.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	s.running = false
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.Sweep(ctx); err != nil {
		s.log.WithError(err).Error("history prune failed")
	}
}

// Sweep deletes history older than the retention window once.
func (s *Service) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	pruned, err := s.history.PruneHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune history before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RecordHistoryPruned(pruned)
	if pruned > 0 {
		s.log.WithField("pruned", pruned).Info("pruned aged history points")
	}
	return nil
}
