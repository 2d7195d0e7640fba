package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/indexgate/internal/api"
	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/config"
	"github.com/alecgard/indexgate/internal/crypto"
	"github.com/alecgard/indexgate/internal/gateway"
	"github.com/alecgard/indexgate/internal/metering"
	"github.com/alecgard/indexgate/internal/metrics"
	"github.com/alecgard/indexgate/internal/proxy"
	"github.com/alecgard/indexgate/internal/registry"
	"github.com/alecgard/indexgate/internal/session"
	"github.com/alecgard/indexgate/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the indexgate server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("connected to database")

	cipher, err := crypto.NewCipher(cfg.Security.EncryptionSecret)
	if err != nil {
		return err
	}
	if cipher == nil {
		slog.Warn("security.encryption_secret is not set, upstream API keys are stored unencrypted")
	}

	m := metrics.New()
	m.RegisterDBPoolCollector(poolStats(pool))

	userStore := user.NewStore(pool, cipher)
	toolStore := registry.NewStore(pool)
	meterStore := metering.NewStore(pool)

	collector := metering.NewCollector(meterStore, cfg.Metering.BatchSize, cfg.Metering.FlushInterval)
	m.RegisterMeteringBuffer(collector.Pending)

	invoker := proxy.NewInvoker(userStore, collector, cfg.Upstream.BaseURL, cfg.Upstream.Timeout, cfg.Upstream.MaxResponseSize)
	invoker.SetMetrics(m)

	var sdkLogger *slog.Logger
	if cfg.Transport.Verbose {
		sdkLogger = logger
	}

	registrar := gateway.NewRegistrar(invoker, version)
	registrar.SetMetrics(m)
	registrar.SetServerLogger(sdkLogger)

	opts := gateway.Options{
		Stateless:      cfg.Transport.Stateless,
		Logger:         sdkLogger,
		SessionTimeout: cfg.Transport.SessionTimeout,
	}
	var pruner session.Pruner
	if !cfg.Transport.Stateless {
		store, closeStore, err := session.NewEventStore(ctx, cfg.Transport.SessionStoreURL)
		if err != nil {
			return err
		}
		defer closeStore()
		opts.EventStore = store
		pruner, _ = store.(session.Pruner)
		slog.Info("stateful MCP sessions enabled", "event_store", fmt.Sprintf("%T", store))
	}

	gw := gateway.NewHandler(registry.NewLoader(toolStore), registrar, opts)
	gw.SetMetrics(m)

	router := api.NewRouter(api.RouterDeps{
		Gateway:  gw,
		Auth:     auth.NewAuthenticator(user.NewAuthAdapter(userStore)),
		Tools:    registry.NewService(toolStore),
		Usage:    meterStore,
		DB:       pool,
		Metrics:  m,
		BasePath: cfg.Transport.BasePath,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Stopped once the HTTP server has drained.
	g.Go(func() error {
		return collector.Run(context.Background())
	})
	g.Go(func() error {
		return every(gctx, cfg.Security.TokenSweepInterval, func(ctx context.Context) {
			n, err := userStore.DeleteExpiredTokens(ctx)
			if err != nil {
				slog.Error("failed to delete expired access tokens", "error", err)
				return
			}
			if n > 0 {
				slog.Info("deleted expired access tokens", "count", n)
			}
		})
	})
	if pruner != nil {
		idle := cfg.Transport.SessionTimeout
		if idle <= 0 {
			idle = time.Hour
		}
		g.Go(func() error {
			return every(gctx, cfg.Security.TokenSweepInterval, func(ctx context.Context) {
				n, err := pruner.Prune(ctx, idle)
				if err != nil {
					slog.Error("failed to prune idle MCP streams", "error", err)
					return
				}
				if n > 0 {
					slog.Info("pruned idle MCP streams", "count", n)
				}
			})
		})
	}
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr(), "mcp_base_path", cfg.Transport.BasePath, "stateless", cfg.Transport.Stateless)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		defer collector.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Open SSE streams outlive the grace period.
			slog.Warn("graceful shutdown timed out, closing connections", "error", err)
			return srv.Close()
		}
		return nil
	})

	return g.Wait()
}

func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func poolStats(pool *pgxpool.Pool) metrics.DBPoolStatFunc {
	return func() metrics.DBPoolStats {
		s := pool.Stat()
		return metrics.DBPoolStats{
			Total:        s.TotalConns(),
			Idle:         s.IdleConns(),
			Acquired:     s.AcquiredConns(),
			Max:          s.MaxConns(),
			AcquireCount: s.AcquireCount(),
			EmptyAcquire: s.EmptyAcquireCount(),
		}
	}
}

// every runs fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
