package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/programstate"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
	"github.com/imam/imam/internal/platform/db"
	"github.com/imam/imam/internal/platform/jobs"
	"github.com/imam/imam/internal/platform/middleware"
	"github.com/imam/imam/internal/platform/notification"
	"github.com/imam/imam/internal/sms"
	"github.com/imam/imam/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "imam-server",
		Short:        "SMS reporting server for community malnutrition programs",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statesCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the SMS webhook and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			withWorker, _ := cmd.Flags().GetBool("worker")
			return runServer(withWorker)
		},
	}
	cmd.Flags().Bool("worker", false, "Also deliver outbound messages from this process (always on without REDIS_URL)")
	return cmd
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigratorFS(pool, migrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)

			count, err := migrator.Up(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigratorFS(pool, migrationSource(dir))
			statuses, err := migrator.Status(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func statesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Maintain location program states",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Rebuild every state row from the program report history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.states.ResetAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Rebuilt %d program state(s).\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Reclassify the state of every site with program reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.states.UpdateAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Updated %d program state(s).\n", n)
				return nil
			})
		},
	})

	return cmd
}

func remindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reminders",
		Short: "Re-send every open stock-out and low-stock alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.refs.Load(ctx); err != nil {
					return err
				}
				n, err := a.reports.SendReminders(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Queued %d reminder(s).\n", n)
				if _, ok := a.queue.(*notification.MemoryQueue); ok {
					// nothing else will drain an in-memory queue
					_, err = a.worker().Drain(ctx)
				}
				return err
			})
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued outbound messages once they are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if a.redis == nil {
					return errors.New("worker needs REDIS_URL; without it run serve, which delivers in-process")
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return a.worker().Run(ctx)
			})
		},
	}
}

// withApp builds the service graph, runs fn and tears the graph down.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServer(withWorker bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()
	logger, cfg := a.logger, a.cfg
	logger.Info().Msg("connected to database")

	if err := a.refs.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load reference data")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.HeaderPolicy{
		HSTSMaxAge:     cfg.HSTSMaxAge,
		CacheablePaths: []string{"/api/v1/reference"},
		CacheTTL:       cfg.ReferenceCacheTTL,
	}))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	var deps []db.Dependency
	if p, ok := a.queue.(db.Dependency); ok {
		deps = append(deps, p)
	}
	e.GET("/health", db.HealthHandler(a.pool, deps...))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1", middleware.RequestTimeout(cfg.RequestTimeout), db.SchemaMiddleware(a.pool, cfg.DBSchema))
	inbound := e.Group("/api/v1",
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.InboundRateLimit,
			BurstSize:         cfg.InboundRateBurst,
		}),
		middleware.RequestTimeout(cfg.RequestTimeout),
		db.SchemaMiddleware(a.pool, cfg.DBSchema),
	)

	sms.NewHandler(a.router).RegisterRoutes(inbound)
	location.NewHandler(a.locations, cfg.SiteLocationType).RegisterRoutes(apiV1)
	personnel.NewHandler(a.people).RegisterRoutes(apiV1)
	reference.NewHandler(a.refs).RegisterRoutes(apiV1)
	report.NewHandler(a.reports, a.locations, a.refs).RegisterRoutes(apiV1)
	programstate.NewHandler(a.states, a.locations, a.refs, cfg.SiteLocationType).RegisterRoutes(apiV1)
	notification.NewHandler(a.queue).RegisterRoutes(apiV1)

	// Background work
	scheduler := jobs.New(a.loc, a.metrics, logger)
	if err := scheduler.Add("reminders", cfg.RemindersSchedule, func(ctx context.Context) error {
		_, err := a.reports.SendReminders(ctx)
		return err
	}); err != nil {
		logger.Fatal().Err(err).Msg("schedule reminders")
	}
	if err := scheduler.Add("update_states", cfg.StatesSchedule, func(ctx context.Context) error {
		_, err := a.states.UpdateAll(ctx)
		return err
	}); err != nil {
		logger.Fatal().Err(err).Msg("schedule state update")
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.refs.Run(gctx, cfg.ReferenceRefresh)
		return nil
	})
	if withWorker || a.redis == nil {
		worker := a.worker()
		g.Go(func() error { return worker.Run(gctx) })
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("background worker failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
