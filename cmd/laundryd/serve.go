package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/api"
	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/db"
	"laundry-branch-backend/internal/event"
	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/notification"
	"laundry-branch-backend/internal/reconcile"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
	"laundry-branch-backend/internal/tracing"
)

// app is the wired scheduler without its outer surfaces.
type app struct {
	store    store.Store
	registry registry.Registry
	catalog  *catalog.Cached
	manager  *lifecycle.Manager
	sweeper  *reconcile.Sweeper
	runner   *reconcile.Runner
}

func newApp(cfg *config.Config, gormDB *gorm.DB, st store.Store, sink event.Sink) *app {
	reg := registry.New(gormDB, registry.WithSink(sink))
	cat := catalog.NewCached(st, cfg.Scheduler.CatalogCacheTTL)
	mgr := lifecycle.New(st, reg, cat,
		lifecycle.WithSink(sink),
		lifecycle.WithFeePercent(cfg.Scheduler.FeePercent),
		lifecycle.WithSystemActor(cfg.Scheduler.SystemActor),
	)
	sweeper := reconcile.NewSweeper(st, reg, mgr,
		reconcile.WithSink(sink),
		reconcile.WithGrace(cfg.Scheduler.OrphanGrace, cfg.Scheduler.StaleActiveGrace),
	)
	runner := reconcile.NewRunner(mgr, sweeper, reconcile.StoreBranches(st), cfg.Scheduler.SweepInterval, cfg.WorkerPool.Size)

	return &app{
		store:    st,
		registry: reg,
		catalog:  cat,
		manager:  mgr,
		sweeper:  sweeper,
		runner:   runner,
	}
}

func serveCmd(logger *log.Logger, loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sweep runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown: %v", err)
		}
	}()

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Println("database initialized successfully")

	st := store.NewGormStore(gormDB)
	sinks := event.Multi{event.LogSink{Logger: logger}, event.AuditSink{Store: st}}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			return errors.New("VAPID keys must be configured when push is enabled")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		sinks = append(sinks, pool)
	}

	a := newApp(cfg, gormDB, st, sinks)
	if err := seed(ctx, cfg, a.store, a.registry); err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(a.manager, a.sweeper, a.store, a.catalog, webpushOptions), cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	if !cfg.Scheduler.DisableRunner {
		g.Go(func() error {
			a.runner.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutdown signal received, stopping services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Println("Server gracefully stopped")
	return nil
}
