package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/gateway"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/http/controller"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/http/middleware"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/http/router"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/implementations"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/memory"
	redisrepo "github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/redis"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/credit-loan-processor/src/internal/config"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/api-sage/credit-loan-processor/src/internal/usecase/service_interfaces"
	"github.com/api-sage/credit-loan-processor/src/internal/usecase/services"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	accounts    repo_interfaces.AccountRepository
	loans       repo_interfaces.LoanRepository
	idempotency repo_interfaces.IdempotencyRepository
	closers     []func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server exited with error", err, nil)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range st.closers {
			if err := closeFn(); err != nil {
				logger.Error("close store failed", err, nil)
			}
		}
	}()

	httpClient := &http.Client{}
	policy := gateway.NewCreditPolicyClient(cfg.CreditPolicyURL, cfg.RemoteTimeout, httpClient, gateway.DefaultBreakerConfig())
	registry := gateway.NewLoanRegistryClient(cfg.LoanRegistryURL, cfg.RemoteTimeout, httpClient, gateway.DefaultBreakerConfig())

	transferOpts := services.DefaultTransferOptions()
	transferOpts.MaxConflictRetries = cfg.MaxConflictRetries
	transferOpts.ConflictBackoff = cfg.ConflictBackoff
	transferOpts.IdempotencyLease = cfg.IdempotencyLease
	transferOpts.IdempotencyRetention = cfg.IdempotencyRetention
	transferOpts.DuplicateWait = cfg.DuplicateWait

	transferService := services.NewTransferService(st.accounts, policy, registry, st.loans, st.idempotency, transferOpts)
	var reconciler service_interfaces.ReconciliationService = services.NewReconciliationService(st.accounts, st.loans, registry, services.ReconcileOptions{
		Interval:           cfg.ReconcileInterval,
		Batch:              cfg.ReconcileBatch,
		MaxAttempts:        cfg.ReconcileMaxAttempts,
		Workers:            cfg.ReconcileWorkers,
		MaxConflictRetries: cfg.MaxConflictRetries,
		ConflictBackoff:    cfg.ConflictBackoff,
	})

	if len(cfg.AuthPrincipals) == 0 {
		logger.Warn("no AUTH_PRINCIPALS configured, every loan request will be rejected", nil)
	}
	handler := router.New(
		controller.NewLoanController(transferService),
		middleware.BasicAuth(cfg.AuthPrincipals),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reconciler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", logger.Fields{
			"addr":               cfg.HTTPAddr,
			"storageBackend":     cfg.StorageBackend,
			"idempotencyBackend": cfg.IdempotencyBackend,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down", nil)
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	var st stores

	var db *sql.DB
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		db, err = implementations.Open(openCtx, cfg.DatabaseDSN, implementations.DefaultPoolConfig(cfg.ReconcileWorkers))
		if err != nil {
			return stores{}, err
		}
		st.closers = append(st.closers, db.Close)

		if err := implementations.RunMigrations(openCtx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("initial migrations completed successfully", nil)

		st.accounts = implementations.NewAccountRepository(db)
		st.loans = implementations.NewLoanRepository(db)
	default:
		logger.Warn("using in-memory account and loan storage", nil)
		st.accounts = memory.NewAccountRepository()
		st.loans = memory.NewLoanRepository()
	}

	switch cfg.IdempotencyBackend {
	case config.BackendPostgres:
		st.idempotency = implementations.NewIdempotencyRepository(db)
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			for _, closeFn := range st.closers {
				_ = closeFn()
			}
			return stores{}, fmt.Errorf("ping redis: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		st.idempotency = redisrepo.NewIdempotencyRepository(client)
	default:
		st.idempotency = memory.NewIdempotencyRepository()
	}

	return st, nil
}
