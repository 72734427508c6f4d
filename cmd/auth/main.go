package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/zierocode/FormDee-sub002/internal/adapter/cache"
	googleadapter "github.com/zierocode/FormDee-sub002/internal/adapter/google"
	"github.com/zierocode/FormDee-sub002/internal/config"
	"github.com/zierocode/FormDee-sub002/internal/credential"
	httptransport "github.com/zierocode/FormDee-sub002/internal/http"
	"github.com/zierocode/FormDee-sub002/internal/http/handler"
	httpmiddleware "github.com/zierocode/FormDee-sub002/internal/http/middleware"
	"github.com/zierocode/FormDee-sub002/internal/repository"
	"github.com/zierocode/FormDee-sub002/internal/server"
	oauthservice "github.com/zierocode/FormDee-sub002/internal/service/oauth"
	"github.com/zierocode/FormDee-sub002/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newGrantRepository,
			newFormRepository,
			newRedisClient,
			newLivenessCache,
			newGoogleClient,
			newClassifier,
			newGate,
			newRateLimiter,
			oauthservice.NewOAuthService,
			handler.NewHandler,
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

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
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

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newGrantRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.GrantRepository {
	return repository.NewPostgresGrantRepo(pool, node)
}

func newFormRepository(pool *pgxpool.Pool) repository.FormRepository {
	return repository.NewPostgresFormRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
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
	return client, nil
}

func newLivenessCache(client redis.UniversalClient, cfg config.Config) oauthservice.LivenessCache {
	return cacheadapter.NewLivenessCache(client, cfg.LivenessCacheTTL)
}

func newGoogleClient(cfg config.Config) googleadapter.Client {
	return googleadapter.NewHTTPClient(cfg, nil)
}

func newClassifier(cfg config.Config) *credential.Classifier {
	return credential.NewClassifier(cfg.AdminAPIKey, cfg.AdminUIKey)
}

func newGate(classifier *credential.Classifier) *credential.Gate {
	return credential.NewGate(classifier)
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func useTelemetry(*telemetry.Provider) {}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger, shutdowner fx.Shutdowner) {
	serverCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			addr := ":" + cfg.HTTPPort
			logger.Info("starting http server", zap.String("addr", addr))
			go func() {
				if err := srv.Run(serverCtx, addr); err != nil {
					logger.Error("http server exited", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
