package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Bronek/clio/pkg/backend/pebble"
	"github.com/Bronek/clio/pkg/cache"
	"github.com/Bronek/clio/pkg/config"
	"github.com/Bronek/clio/pkg/dosguard"
	"github.com/Bronek/clio/pkg/etl"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/ledgercache"
	"github.com/Bronek/clio/pkg/logging"
	"github.com/Bronek/clio/pkg/rpc"
	"github.com/Bronek/clio/pkg/rpc/handlers"
	"github.com/Bronek/clio/pkg/upstream"
	"github.com/Bronek/clio/pkg/web"
)

// gateway owns every long-lived component of the serve command.
type gateway struct {
	cfg    config.Config
	logger zerolog.Logger

	objects   *ledgercache.Cache
	store     *pebble.Store
	redis     *redis.Client
	queue     *rpc.WorkQueue
	upstream  *upstream.Client
	guard     *dosguard.Guard
	subs      *feed.Manager
	state     *etl.State
	publisher *etl.Publisher
	engine    *rpc.Engine
	server    *web.Server
}

// newGateway builds the components in dependency order. On error the
// ones already opened are closed.
func newGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*gateway, error) {
	g := &gateway{cfg: cfg, logger: logger}
	if err := g.build(ctx); err != nil {
		_ = g.Close()
		return nil, err
	}
	return g, nil
}

func (g *gateway) build(ctx context.Context) error {
	cfg, logger := g.cfg, g.logger

	var err error
	g.objects, err = ledgercache.New(cfg.Cache.Objects)
	if err != nil {
		return err
	}
	g.store, err = pebble.Open(cfg.Database.Path, g.objects, logger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}

	var requestCounts dosguard.CounterStore = dosguard.NewMemoryStore()
	if cfg.Redis.Address != "" {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := g.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("Connected to Redis")
		requestCounts = dosguard.NewRedisStore(g.redis)
	}

	g.guard, err = dosguard.New(requestCounts, cfg.DOSGuardConfig(), logger)
	if err != nil {
		return fmt.Errorf("create dos guard: %w", err)
	}

	var forwarder rpc.Forwarder
	if cfg.Forwarding.URL != "" {
		upCfg := cfg.UpstreamConfig()
		if g.redis != nil {
			upCfg.Cache = cache.NewManager(g.redis)
		}
		g.upstream, err = upstream.New(upCfg, logger)
		if err != nil {
			return fmt.Errorf("create upstream client: %w", err)
		}
		forwarder = g.upstream
	}

	g.queue = rpc.NewWorkQueue(ctx, cfg.Workers, cfg.MaxQueue, logger.With().Str("component", "WorkQueue").Logger())
	counters := rpc.NewCounters(g.queue)
	registry := rpc.NewRegistry()
	g.engine = rpc.NewEngine(rpc.EngineOptions{
		Registry:  registry,
		Queue:     g.queue,
		Counters:  counters,
		Forwarder: forwarder,
		Whitelist: g.guard,
		Logger:    logger,
	})

	g.subs = feed.NewManager(logger)
	g.state = etl.NewState()
	g.publisher = etl.NewPublisher(g.store, g.objects, g.state, g.subs, logger)

	info := handlers.NewServerInfo(handlers.ServerInfoOptions{
		Backend:       g.store,
		Counters:      counters,
		ETL:           g.state,
		Subscriptions: g.subs,
		Upstream:      forwarder,
		Version:       version,
	})
	handlers.Register(registry, g.store, info, g.subs, logger)

	dispatcher := web.NewDispatcher(web.DispatcherOptions{
		Backend:       g.store,
		Engine:        g.engine,
		ETL:           g.state,
		Subscriptions: g.subs,
		APIVersion:    cfg.APIVersionParser(),
		Logger:        logger,
	})
	g.server = web.NewServer(web.ServerOptions{
		Config:        cfg.WebConfig(),
		Handler:       dispatcher,
		Guard:         g.guard,
		Subscriptions: g.subs,
		Tags:          logging.NewTagFactory(cfg.TagStyle()),
		Logger:        logger,
	})

	return g.restoreState(ctx)
}

// restoreState seeds the freshness state from the newest stored ledger
// and, when configured, starts warming the hot cache in the background.
func (g *gateway) restoreState(ctx context.Context) error {
	rng, ok := g.store.FetchLedgerRange()
	if !ok {
		g.logger.Warn().Msg("Ledger store is empty; requests will get notReady until ledgers are imported")
		return nil
	}

	header, err := g.store.FetchLedgerBySequence(ctx, rng.MaxSequence)
	if err != nil {
		return fmt.Errorf("read latest ledger %d: %w", rng.MaxSequence, err)
	}
	g.state.Restore(header)

	g.logger.Info().
		Uint32("min_seq", rng.MinSequence).
		Uint32("max_seq", rng.MaxSequence).
		Msg("Ledger store opened")

	if g.cfg.Cache.Load {
		loader := ledgercache.NewLoader(g.store, g.objects, g.cfg.LoaderConfig(), g.logger)
		go func() {
			err := loader.Load(ctx, rng.MaxSequence)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, ledgercache.ErrLoadOutdated):
				g.logger.Warn().Err(err).Msg("Cache load abandoned; the cache stays partial")
			default:
				g.logger.Error().Err(err).Msg("Cache load failed")
			}
		}()
	}
	return nil
}

// Close releases every component that was created.
func (g *gateway) Close() error {
	var result *multierror.Error

	if g.queue != nil {
		g.queue.Stop()
	}
	if g.upstream != nil {
		if err := g.upstream.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close upstream client: %w", err))
		}
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close ledger store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig, cmd.Flags())
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Error().Err(err).Msg("Shutdown incomplete")
		}
	}()

	if flagIngest != "" {
		g.ingestInBackground(ctx, flagIngest)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}
