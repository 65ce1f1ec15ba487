/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit note compensation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (memory, sqlite or postgres)
  4. Optionally connect to Redis for cross-process locks and change fan-out
  5. Create the engine, handler, router and audit scheduler
  6. Serve until SIGINT/SIGTERM, then shut down gracefully

CONFIGURATION (env over flags):
  RUN_ADDRESS      -a               HTTP listen address (default :8080)
  STORE_DRIVER     -store           memory | sqlite | postgres
  SQLITE_PATH      -db              SQLite file (":memory:" allowed)
  DATABASE_URI     -d               Postgres DSN
  REDIS_URL        -redis           Enables the Redis locker and publisher
  SYSTEM_OPERATOR  -operator        Operator recorded when none is given
  NUMBER_PREFIX    -prefix          Credit note number prefix
  AUDIT_INTERVAL   -audit-interval  Periodic audit, 0 disables
  LOG_LEVEL        -log-level       debug | info | warn | error
  CORS_ORIGINS     -cors            Comma separated origins

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler and the Redis watcher
  4. Close store and Redis connections

EXAMPLES:
  ./server -store=sqlite -db=./data/creditnotes.db
  DATABASE_URI=postgres://localhost/credit ./server -store=postgres -redis=redis://localhost:6379/0

SEE ALSO:
  - config/config.go: Configuration parsing
  - api/server.go: Router configuration
  - credit/engine.go: Business rules
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/warp/creditnote-engine/api"
	"github.com/warp/creditnote-engine/cluster"
	"github.com/warp/creditnote-engine/config"
	"github.com/warp/creditnote-engine/credit"
	memstore "github.com/warp/creditnote-engine/credit/store"
	"github.com/warp/creditnote-engine/store/postgres"
	"github.com/warp/creditnote-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()
	logger.Info("store opened", zap.String("driver", cfg.StoreDriver))

	opts := []credit.Option{
		credit.WithLogger(logger.Named("credit")),
		credit.WithNumberer(credit.SequenceNumberer{Prefix: cfg.NumberPrefix}),
		credit.WithSystemOperator(cfg.SystemOperator),
	}

	// Redis (optional)
	var publisher *cluster.Publisher
	if cfg.RedisURL != "" {
		rdb, err := cluster.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		opts = append(opts, credit.WithLocker(cluster.NewRedisLocker(rdb)))
		publisher = cluster.NewPublisher(rdb, logger.Named("cluster"))
		logger.Info("redis connected", zap.String("instance_id", publisher.InstanceID()))
	}

	engine := credit.NewEngine(st.Store, opts...)
	if publisher != nil {
		detach := publisher.Attach(engine)
		defer detach()
	}

	// HTTP
	handler := api.NewHandler(engine, logger.Named("http"))
	handler.Store = st.pinger
	scheduler := api.NewAuditScheduler(engine, cfg.AuditInterval, logger.Named("audit"))
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      api.NewRouter(handler, api.Options{CORSOrigins: cfg.CORSOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("address", cfg.RunAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	scheduler.Start(gctx)

	if publisher != nil {
		g.Go(func() error {
			err := publisher.Watch(gctx, func() {
				logger.Info("credit notes changed on another instance")
			})
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("watch changes: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openedStore bundles the engine store with its health check and close.
type openedStore struct {
	credit.Store
	pinger api.Pinger
	close  func() error
}

func openStore(ctx context.Context, cfg *config.Config) (openedStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return openedStore{}, fmt.Errorf("open sqlite: %w", err)
		}
		return openedStore{Store: s, pinger: s, close: s.Close}, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURI)
		if err != nil {
			return openedStore{}, fmt.Errorf("open postgres: %w", err)
		}
		return openedStore{Store: s, pinger: s, close: s.Close}, nil
	default:
		return openedStore{Store: memstore.NewTxMemory(), close: func() error { return nil }}, nil
	}
}
