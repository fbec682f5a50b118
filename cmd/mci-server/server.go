package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mci/mci/internal/config"
	"github.com/mci/mci/internal/domain/dedup"
	"github.com/mci/mci/internal/domain/feed"
	"github.com/mci/mci/internal/domain/patient"
	"github.com/mci/mci/internal/domain/updatelog"
	"github.com/mci/mci/internal/platform/auth"
	"github.com/mci/mci/internal/platform/db"
	"github.com/mci/mci/internal/platform/lock"
	"github.com/mci/mci/internal/platform/middleware"
	"github.com/mci/mci/internal/platform/supervisor"
)

// stores is every persistence dependency of the app.
type stores struct {
	records    patient.Repository
	changes    updatelog.Repository
	markers    feed.MarkerRepository
	duplicates dedup.DuplicateRepository
	ignored    dedup.IgnoredRepository
	tx         patient.Transactor
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		records:    patient.NewRepo(pool),
		changes:    updatelog.NewRepo(pool),
		markers:    feed.NewMarkerRepo(pool),
		duplicates: dedup.NewDuplicateRepo(pool),
		ignored:    dedup.NewIgnoredRepo(pool),
		tx:         db.NewTransactor(pool),
	}
}

type app struct {
	patients   *patient.Service
	feed       *feed.Service
	resolution *dedup.ResolutionService
	locker     lock.Locker
	redis      *redis.Client
}

func newApp(cfg *config.Config, s stores, logger zerolog.Logger) (*app, error) {
	a := &app{locker: lock.Noop{}}
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.locker = lock.NewRedisLock(client, "mci:feed:"+cfg.FeedConsumer, cfg.FeedLockTTL)
	}

	a.patients = patient.NewService(s.records, updatelog.NewRecorder(s.changes), s.tx)

	mapper := dedup.NewMapper(s.records)
	engine := dedup.NewEngine(s.records, dedup.DefaultRules()...)
	procs := dedup.NewProcessors(s.records, engine, mapper, s.duplicates, s.ignored, logger)
	a.resolution = dedup.NewResolutionService(s.records, mapper, s.duplicates, s.ignored, logger)

	a.feed = feed.NewService(
		feed.NewReader(s.changes, s.markers, cfg.FeedConsumer),
		feed.Processors{
			Create: feed.ProcessorFunc(procs.Create),
			Update: feed.ProcessorFunc(procs.Update),
			Retire: feed.ProcessorFunc(procs.Retire),
		},
		logger,
		feed.WithLocker(a.locker),
		feed.WithTickTimeout(cfg.FeedTickTimeout),
	)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// probes are the non-database dependencies reported by /health/db.
func (a *app) probes() map[string]db.Probe {
	if a.redis == nil {
		return nil
	}
	return map[string]db.Probe{
		"redis": func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}
}

func newRouter(cfg *config.Config, a *app, dbHealth echo.HandlerFunc, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	patient.NewHandler(a.patients).RegisterRoutes(api)
	dedup.NewHandler(a.resolution, cfg.DuplicatesPageLimit).RegisterRoutes(api)
	feed.NewHandler(a.feed).RegisterRoutes(api)

	return e
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := newApp(cfg, pgStores(pool), logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.redis != nil {
		logger.Info().Msg("feed lock backed by redis")
	}

	e := newRouter(cfg, a, db.HealthHandler(pool, a.probes()), logger)

	tree := supervisor.New("mci", supervisor.Config{}, logger)
	tree.Add(feed.NewRunner(a.feed, a.locker, feed.RunnerConfig{
		Interval:        cfg.FeedInterval,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, logger))
	tree.Add(supervisor.NewHTTPService(&http.Server{Addr: ":" + cfg.Port, Handler: e}, 0))

	logger.Info().Str("addr", ":"+cfg.Port).Str("consumer", cfg.FeedConsumer).Msg("starting server")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
