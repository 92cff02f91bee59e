// Package app ties the feed engine's services together and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/services/broadcast"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/movement"
	"github.com/meridianvest/marketfeed/internal/app/services/quotes"
	"github.com/meridianvest/marketfeed/internal/app/services/registry"
	"github.com/meridianvest/marketfeed/internal/app/services/retention"
	"github.com/meridianvest/marketfeed/internal/app/services/scheduler"
	"github.com/meridianvest/marketfeed/internal/app/storage"
	"github.com/meridianvest/marketfeed/internal/app/storage/memory"
	"github.com/meridianvest/marketfeed/internal/app/system"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to
// the in-memory implementation.
type Stores struct {
	Feeds     storage.FeedStore
	History   storage.HistoryStore
	Movements storage.MovementStore
	Registry  storage.RegistryStore
}

// Options configures optional collaborators of the engine.
type Options struct {
	// Registry yields the tracked symbol set. Nil falls back to the
	// store-backed registry seeded with the default catalog.
	Registry registry.Provider
	// Publisher receives the post-cycle snapshot. Nil disables
	// broadcasting; the websocket hub is attached in addition when
	// WebSocket is true.
	Publisher broadcast.Publisher
	// WebSocket enables the in-process websocket hub.
	WebSocket bool

	SchedulerOpts []scheduler.Option

	// ChainBuilder constructs the provider chains once the feed service
	// exists, which the synthetic rung needs for last-known prices. Nil
	// uses DefaultChains.
	ChainBuilder func(*feeds.Service) map[market.AssetClass]*quotes.Chain

	RetentionSchedule string
	RetentionMaxAge   time.Duration
}

// Application owns the engine's services and their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Feeds     *feeds.Service
	Movements *movement.Service
	Hub       *broadcast.Hub
	Scheduler *scheduler.Scheduler
}

// New builds a fully wired application.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Feeds == nil {
		stores.Feeds = mem
	}
	if stores.History == nil {
		stores.History = mem
	}
	if stores.Movements == nil {
		stores.Movements = mem
	}
	if stores.Registry == nil {
		stores.Registry = mem
	}

	feedSvc := feeds.New(stores.Feeds, stores.History, log)
	movementSvc := movement.New(stores.Movements, stores.History, log)
	feedSvc.AttachMovementRecorder(movementSvc)

	reg := opts.Registry
	if reg == nil {
		if err := registry.SeedDefaults(context.Background(), stores.Registry); err != nil {
			return nil, fmt.Errorf("seed registry: %w", err)
		}
		reg = registry.NewStoreProvider(stores.Registry)
	}

	var chains map[market.AssetClass]*quotes.Chain
	if opts.ChainBuilder != nil {
		chains = opts.ChainBuilder(feedSvc)
	} else {
		chains = DefaultChains(feedSvc, 0, log)
	}

	var hub *broadcast.Hub
	publishers := []broadcast.Publisher{}
	if opts.Publisher != nil {
		publishers = append(publishers, opts.Publisher)
	}
	if opts.WebSocket {
		hub = broadcast.NewHub(log)
		publishers = append(publishers, hub)
	}
	var publisher broadcast.Publisher
	switch len(publishers) {
	case 0:
		publisher = broadcast.Noop{}
	case 1:
		publisher = publishers[0]
	default:
		publisher = broadcast.NewMulti(publishers...)
	}

	sched := scheduler.New(reg, feedSvc, chains, publisher, log, opts.SchedulerOpts...)
	sweeper := retention.New(stores.History, opts.RetentionSchedule, opts.RetentionMaxAge, log)

	manager := system.NewManager(log)
	services := []system.Service{sched, sweeper}
	if hub != nil {
		services = append(services, hub)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Feeds:     feedSvc,
		Movements: movementSvc,
		Hub:       hub,
		Scheduler: sched,
	}, nil
}

// DefaultChains builds the stock provider chains: CoinGecko then
// CoinPaprika for crypto, MetalsAPI for metals, a synthetic rung at the
// bottom of each. Real estate has no live provider and runs synthetic
// only.
func DefaultChains(feedSvc *feeds.Service, syntheticSeed int64, log *logger.Logger) map[market.AssetClass]*quotes.Chain {
	client := &http.Client{Timeout: 10 * time.Second}
	return map[market.AssetClass]*quotes.Chain{
		market.AssetCrypto: quotes.NewChain(market.AssetCrypto,
			[]quotes.Source{
				quotes.NewCoinGeckoSource(client, "", nil),
				quotes.NewCoinPaprikaSource(client, ""),
			},
			log,
			quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetCrypto, feedSvc, syntheticSeed)),
		),
		market.AssetMetal: quotes.NewChain(market.AssetMetal,
			[]quotes.Source{quotes.NewMetalsAPISource(client, "", "")},
			log,
			quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetMetal, feedSvc, syntheticSeed)),
		),
		market.AssetRealEstate: quotes.NewChain(market.AssetRealEstate,
			nil,
			log,
			quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetRealEstate, feedSvc, syntheticSeed)),
		),
	}
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
