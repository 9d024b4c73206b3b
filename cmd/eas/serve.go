package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lowmax205/eas/internal/adapters/faceclient"
	"github.com/lowmax205/eas/internal/adapters/http/api"
	"github.com/lowmax205/eas/internal/adapters/http/swagger"
	"github.com/lowmax205/eas/internal/adapters/mq/queue"
	"github.com/lowmax205/eas/internal/adapters/repository"
	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/internal/config"
	"github.com/lowmax205/eas/pkg/logger"
	"github.com/lowmax205/eas/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the verification workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := commonRun(ctx)
			if err != nil {
				return err
			}
			defer syncLogger()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config addr")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open store", logger.String("driver", cfg.StoreDriver), logger.Error(err))
		return err
	}

	opts := append(service.FromConfig(cfg),
		service.WithLogger(log),
		service.WithStore(store),
		service.WithFaceAnalyzer(faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip,
			faceclient.WithTimeout(time.Duration(cfg.FaceTimeoutMS)*time.Millisecond))),
		service.WithVersion(version),
	)

	if cfg.QueueBackend == config.QueueRedis {
		client := queue.NewRedisClient(cfg.RedisAddr)
		defer closeRedis(ctx, log, client)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = store.Close()
			log.Error(ctx, "redis unreachable", logger.String("addr", cfg.RedisAddr), logger.Error(err))
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, service.WithQueue(queue.NewRedisQueue(client, cfg.RedisQueueKey, log.Named("queue"),
			queue.WithRedisCapacity(cfg.QueueSize))))
	}

	svc := service.New(opts...)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		log.Error(ctx, "failed to start service", logger.Error(err))
		return err
	}
	defer svc.Stop()

	metrics.SetRefreshInterval(time.Duration(cfg.MetricsRefreshMS) * time.Millisecond)
	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())
	go startServiceMetricsUpdater(ctx, svc, metrics.RefreshInterval())

	apiServer := api.NewServer(svc,
		api.WithLogger(log.Named("http")),
		api.WithRateLimit(cfg.RateLimitPerMin),
	)
	swagger.Register(ctx, apiServer.Router())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// openStore opens the configured store and makes sure its schema exists.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func closeRedis(ctx context.Context, log logger.Logger, client *redis.Client) {
	if err := client.Close(); err != nil {
		log.Warn(ctx, "closing redis client", logger.Error(err))
	}
}
