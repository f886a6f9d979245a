package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/clustering"
	"horse.fit/storyline/internal/config"
	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/graph"
	"horse.fit/storyline/internal/ingest"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/logging"
	"horse.fit/storyline/internal/story"
	"horse.fit/storyline/internal/synthesis"
	"horse.fit/storyline/internal/telemetry"
)

// runtime holds every long-lived collaborator a job command needs.
type runtime struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *db.Pool
	redis      *redis.Client
	guard      *jobs.Guard
	clustering *clustering.Service
	ingest     *ingest.Service
	metrics    *telemetry.Provider
}

func loadConfigAndLogger(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newRuntime(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*runtime, error) {
	cfg, logger, err := loadConfigAndLogger(envLoader)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, pool: pool, metrics: telemetry.NewProvider()}
	otel.SetMeterProvider(rt.metrics.MeterProvider())

	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			rt.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rt.redis = client
	}

	if err := rt.wire(); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire() error {
	cfg := rt.cfg

	registry, err := synthesis.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("build synthesis providers: %w", err)
	}
	provider, err := registry.Provider(registry.DefaultProvider())
	if err != nil {
		return fmt.Errorf("select synthesis provider: %w", err)
	}

	guardOpts := []jobs.Option{jobs.WithJobLog(jobs.NewDBJobLog(rt.pool))}
	if rt.redis != nil {
		provider = synthesis.NewCachedSynthesizer(
			provider,
			synthesis.NewRedisCache(rt.redis),
			cfg.SynthesisCacheTTL,
			logging.Component(rt.logger, "synthesis_cache"),
		)
		guardOpts = append(guardOpts,
			jobs.WithLocker(jobs.NewRedisLocker(rt.redis, cfg.JobLockTTL)),
			jobs.WithLockRefresh(cfg.JobLockTTL/3),
		)
	}

	orchestrator, err := story.NewOrchestrator(story.Options{
		Synthesizer: provider,
		Store:       rt.pool,
		Resolver:    graph.NewResolver(rt.pool, logging.Component(rt.logger, "entity_resolver")),
		Merger:      graph.NewMerger(rt.pool, logging.Component(rt.logger, "connection_merger")),
		Timeout:     cfg.SynthesisTimeout,
		Logger:      logging.Component(rt.logger, "story"),
	})
	if err != nil {
		return fmt.Errorf("build story orchestrator: %w", err)
	}

	clusteringService, err := clustering.NewService(rt.pool, orchestrator, clustering.Options{
		Window:      cfg.ClusterWindow,
		Limit:       cfg.ClusterLimit,
		Threshold:   cfg.ClusterThreshold,
		Concurrency: cfg.SynthesisConcurrency,
		Meter:       rt.metrics.MeterProvider(),
	}, logging.Component(rt.logger, "clustering"))
	if err != nil {
		return fmt.Errorf("build clustering service: %w", err)
	}

	rt.clustering = clusteringService
	rt.ingest = ingest.NewService(rt.pool, logging.Component(rt.logger, "ingest"))
	rt.guard = jobs.NewGuard(logging.Component(rt.logger, "jobs"), guardOpts...)

	rt.logger.Info().
		Str("synthesis_provider", provider.Name()).
		Strs("available_providers", registry.ProviderNames()).
		Bool("redis", rt.redis != nil).
		Msg("runtime ready")
	return nil
}

func (rt *runtime) clusteringJob(ctx context.Context) (jobs.Result, error) {
	result, err := rt.clustering.RunClustering(ctx)
	return result.JobResult(), err
}

// ingestDirJob returns nil when INGEST_DIR is unset.
func (rt *runtime) ingestDirJob() func(ctx context.Context) (jobs.Result, error) {
	dir := strings.TrimSpace(rt.cfg.IngestDir)
	if dir == "" {
		return nil
	}
	return func(ctx context.Context) (jobs.Result, error) {
		result, err := rt.ingest.ImportDir(ctx, dir, true)
		return result.JobResult(), err
	}
}

func (rt *runtime) close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rt.metrics.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("shutdown metrics")
		}
		cancel()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		_ = rt.pool.Close()
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
