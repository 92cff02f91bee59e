// Package runtime assembles the engine from configuration and manages
// the process lifecycle around it.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/meridianvest/marketfeed/internal/app"
	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/httpapi"
	"github.com/meridianvest/marketfeed/internal/app/services/broadcast"
	"github.com/meridianvest/marketfeed/internal/app/services/feeds"
	"github.com/meridianvest/marketfeed/internal/app/services/quotes"
	"github.com/meridianvest/marketfeed/internal/app/services/registry"
	"github.com/meridianvest/marketfeed/internal/app/services/scheduler"
	"github.com/meridianvest/marketfeed/internal/app/storage/postgres"
	"github.com/meridianvest/marketfeed/internal/config"
	"github.com/meridianvest/marketfeed/pkg/logger"
)

// Application wires the engine and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	engine     *app.Application
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs the process from environment configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	stores := app.Stores{}
	var db *sql.DB
	if cfg.Database.DSN != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pg := postgres.New(db)
		stores = app.Stores{Feeds: pg, History: pg, Movements: pg, Registry: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	var redisClient *redis.Client
	var publisher broadcast.Publisher
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher = broadcast.NewRedisPublisher(redisClient, cfg.Redis.Channel)
		log.WithField("addr", cfg.Redis.Addr).Info("redis broadcast enabled")
	}

	var reg registry.Provider
	if cfg.Registry.Path != "" {
		reg, err = registry.LoadStatic(cfg.Registry.Path)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		log.WithField("path", cfg.Registry.Path).Info("using file registry")
	}

	opts := app.Options{
		Registry:  reg,
		Publisher: publisher,
		WebSocket: true,
		SchedulerOpts: []scheduler.Option{
			scheduler.WithInterval(cfg.Scheduler.Interval),
			scheduler.WithRetryDelay(cfg.Scheduler.RetryDelay),
			scheduler.WithCycleTimeout(cfg.Scheduler.CycleTimeout),
		},
		RetentionSchedule: cfg.Retention.Schedule,
		RetentionMaxAge:   cfg.Retention.MaxAge,
		ChainBuilder: func(feedSvc *feeds.Service) map[market.AssetClass]*quotes.Chain {
			return buildChains(cfg.Providers, feedSvc, log)
		},
	}

	engine, err := app.New(stores, opts, log)
	if err != nil {
		return nil, err
	}

	var ws http.Handler
	if engine.Hub != nil {
		ws = engine.Hub
	}
	handler := httpapi.NewHandler(engine.Feeds, engine.Movements, ws, log)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		httpServer: httpSrv,
		db:         db,
		redis:      redisClient,
	}, nil
}

func buildChains(cfg config.ProvidersConfig, feedSvc *feeds.Service, log *logger.Logger) map[market.AssetClass]*quotes.Chain {
	client := &http.Client{Timeout: cfg.Timeout}

	cryptoOpts := []quotes.ChainOption{
		quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetCrypto, feedSvc, cfg.SyntheticSeed)),
		quotes.WithAttemptTimeout(cfg.Timeout),
	}
	metalOpts := []quotes.ChainOption{
		quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetMetal, feedSvc, cfg.SyntheticSeed)),
		quotes.WithAttemptTimeout(cfg.Timeout),
	}
	if cfg.MinInterval > 0 {
		cryptoOpts = append(cryptoOpts,
			quotes.WithMinInterval("coingecko", cfg.MinInterval),
			quotes.WithMinInterval("coinpaprika", cfg.MinInterval),
		)
		metalOpts = append(metalOpts, quotes.WithMinInterval("metalsapi", cfg.MinInterval))
	}

	return map[market.AssetClass]*quotes.Chain{
		market.AssetCrypto: quotes.NewChain(market.AssetCrypto,
			[]quotes.Source{
				quotes.NewCoinGeckoSource(client, cfg.CoinGeckoURL, nil),
				quotes.NewCoinPaprikaSource(client, cfg.CoinPaprikaURL),
			},
			log, cryptoOpts...),
		market.AssetMetal: quotes.NewChain(market.AssetMetal,
			[]quotes.Source{quotes.NewMetalsAPISource(client, cfg.MetalsAPIURL, cfg.MetalsAPIKey)},
			log, metalOpts...),
		market.AssetRealEstate: quotes.NewChain(market.AssetRealEstate, nil, log,
			quotes.WithSyntheticRung(quotes.NewSyntheticSource(market.AssetRealEstate, feedSvc, cfg.SyntheticSeed))),
	}
}

// Run starts the engine and HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server, the engine and its connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown failed")
	}
	if err := a.engine.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("engine stop failed")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
