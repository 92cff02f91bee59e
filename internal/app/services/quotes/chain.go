package quotes

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/metrics"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// Chain tries an ordered list of sources for one asset class, removing
// satisfied symbols after each attempt, and finishes on the synthetic
// rung when one is configured. Fetch never returns an error to the
// caller; provider failures are logged and absorbed here.
type Chain struct {
	class      market.AssetClass
	sources    []Source
	synthetic  Source
	limiters   map[string]*rate.Limiter
	perAttempt time.Duration
	log        *logger.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSyntheticRung sets the last-resort generator.
func WithSyntheticRung(src Source) ChainOption {
	return func(c *Chain) { c.synthetic = src }
}

// WithMinInterval enforces a minimum interval between calls to the
// named source. A skipped source is retried on a later cycle; the
// chain falls through to the next source in the meantime.
func WithMinInterval(sourceName string, interval time.Duration) ChainOption {
	return func(c *Chain) {
		if interval <= 0 {
			return
		}
		c.limiters[sourceName] = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithAttemptTimeout bounds each provider attempt.
func WithAttemptTimeout(timeout time.Duration) ChainOption {
	return func(c *Chain) {
		if timeout > 0 {
			c.perAttempt = timeout
		}
	}
}

// NewChain constructs a fallback chain for an asset class.
func NewChain(class market.AssetClass, sources []Source, log *logger.Logger, opts ...ChainOption) *Chain {
	if log == nil {
		log = logger.NewDefault("quote-chain")
	}
	c := &Chain{
		class:      class,
		sources:    sources,
		limiters:   make(map[string]*rate.Limiter),
		perAttempt: 10 * time.Second,
		log:        log.WithField("asset_class", string(class)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Class reports the asset class this chain serves.
func (c *Chain) Class() market.AssetClass { return c.class }

// Fetch returns a quote for every requested symbol when a synthetic
// rung is configured; without one, symbols that every source failed are
// absent from the result and the caller keeps its stale feed values.
func (c *Chain) Fetch(ctx context.Context, symbols []string) map[string]market.Quote {
	remaining := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		remaining[strings.ToUpper(symbol)] = true
	}

	quotes := make(map[string]market.Quote, len(symbols))
	for _, source := range c.sources {
		if len(remaining) == 0 {
			break
		}
		if limiter, ok := c.limiters[source.Name()]; ok && !limiter.Allow() {
			c.log.WithField("provider", source.Name()).Debug("provider min interval not elapsed, skipping")
			metrics.RecordProviderAttempt(source.Name(), "skipped")
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.perAttempt)
		fetched, err := source.Fetch(attemptCtx, keys(remaining))
		cancel()
		if err != nil {
			c.log.WithError(err).
				WithField("provider", source.Name()).
				Warn("provider fetch failed, advancing to next source")
			metrics.RecordProviderAttempt(source.Name(), "error")
			continue
		}

		metrics.RecordProviderAttempt(source.Name(), "ok")
		for symbol, quote := range fetched {
			symbol = strings.ToUpper(symbol)
			if !remaining[symbol] || !quote.Price.IsPositive() {
				continue
			}
			quotes[symbol] = quote
			delete(remaining, symbol)
		}
	}

	if len(remaining) > 0 && c.synthetic != nil {
		c.log.WithField("symbols", keys(remaining)).
			Info("all providers exhausted, generating synthetic quotes")
		fetched, err := c.synthetic.Fetch(ctx, keys(remaining))
		if err != nil {
			c.log.WithError(err).WithField("symbols", keys(remaining)).
				Warn("synthetic rung failed, symbols left without quotes")
			metrics.RecordProviderAttempt(c.synthetic.Name(), "error")
		} else {
			for symbol, quote := range fetched {
				quotes[strings.ToUpper(symbol)] = quote
			}
			metrics.RecordProviderAttempt(c.synthetic.Name(), "ok")
		}
	}

	return quotes
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	return out
}
