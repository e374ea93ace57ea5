package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/specport/podio-gateway/internal/adapter/cache"
	podioadapter "github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/bootstrap"
	"github.com/specport/podio-gateway/internal/config"
	httptransport "github.com/specport/podio-gateway/internal/http"
	"github.com/specport/podio-gateway/internal/http/handler"
	"github.com/specport/podio-gateway/internal/metrics"
	"github.com/specport/podio-gateway/internal/middleware"
	"github.com/specport/podio-gateway/internal/repository"
	"github.com/specport/podio-gateway/internal/server"
	"github.com/specport/podio-gateway/internal/service"
	"github.com/specport/podio-gateway/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newMetrics,
			newTokenStore,
			newStateStore,
			newProviderClient,
			newRateLimiter,
			service.NewLifecycle,
			service.NewAuthService,
			service.NewProxyService,
			handler.NewGatewayHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newMetrics(cfg config.Config) *metrics.Metrics {
	return metrics.New("podio_gateway")
}

// newTokenStore prefers Postgres and falls back to the in-memory store when
// no DATABASE_URL is set (dev mode; Load rejects that in production).
func newTokenStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.TokenStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, token record will not survive restarts")
		return repository.NewMemoryTokenStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := bootstrap.EnsureSchema(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return repository.NewPostgresTokenStore(pool), nil
}

// newStateStore prefers Redis so states survive across edge instances, and
// falls back to process memory for single-instance deployments.
func newStateStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.StateStore, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, oauth states are held in process memory")
		return cacheadapter.NewMemoryStateStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisStateStore(client), nil
}

func newProviderClient(cfg config.Config) podioadapter.ProviderClient {
	return podioadapter.NewHTTPProviderClient(cfg, nil)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
