package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/config"
	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/programstate"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
	"github.com/imam/imam/internal/platform/db"
	"github.com/imam/imam/internal/platform/metrics"
	"github.com/imam/imam/internal/platform/notification"
	"github.com/imam/imam/internal/sms"
)

const staleReportDays = 31

// app holds the wired services shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	loc     *time.Location
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *metrics.Metrics

	queue      notification.Queue
	dispatcher *notification.Dispatcher
	locations  location.Repository
	refs       *reference.Registry
	people     *personnel.Service
	reports    *report.Service
	states     *programstate.Engine
	router     *sms.Router
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg == nil || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp connects to Postgres (and Redis when configured) and builds the
// service graph. Reference data is not loaded; callers that need it call
// a.refs.Load.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		loc:     loc,
		pool:    pool,
		metrics: metrics.New(),
	}

	if cfg.RedisURL != "" {
		client, err := notification.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.redis = client
		a.queue = notification.NewRedisQueue(client, notification.DefaultQueueKey)
	} else {
		logger.Warn().Msg("REDIS_URL not set, outbound messages are held in memory")
		a.queue = notification.NewMemoryQueue()
	}

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	}

	a.dispatcher = notification.NewDispatcher(a.queue, notification.NewTemplateEngine(), notification.Window{
		Location:  loc,
		StartHour: cfg.NotifyWindowStart,
		EndHour:   cfg.NotifyWindowEnd,
	}, a.metrics, logger)

	a.locations = location.NewRepoPG(pool)
	a.refs = reference.NewRegistry(reference.NewSourcePG(pool), logger)
	a.people = personnel.NewService(personnel.NewRepoPG(pool), a.locations, cfg.AlertLocationTypes, inTx)
	a.states = programstate.NewEngine(programstate.NewRepoPG(pool), inTx, a.metrics, logger)
	a.reports = report.NewService(report.Deps{
		Reports:    report.NewProgramReportRepoPG(pool),
		Stock:      report.NewStockRepoPG(pool),
		Locations:  a.locations,
		Reference:  a.refs,
		Recipients: a.people,
		Notifier:   a.dispatcher,
		Arrivals:   a.states,
		InTx:       inTx,
		Policy: report.Policy{
			StaleDays:                staleReportDays,
			ExcludedGroups:           cfg.ExcludedReportGroups,
			LowStockItem:             cfg.LowStockItem,
			LowStockMultiplier:       cfg.Multiplier(),
			LowStockHistory:          cfg.LowStockHistory,
			LowStockExcludedGroups:   cfg.LowStockExcludedGroups,
			LowStockExcludedPrograms: cfg.LowStockExcludedPrograms,
			Location:                 loc,
		},
		Logger: logger,
	})
	a.router = sms.NewRouter(sms.Deps{
		Locations: a.locations,
		Personnel: a.people,
		Reports:   a.reports,
		Reference: a.refs,
		Metrics:   a.metrics,
		Logger:    logger,
		Prefix:    cfg.SMSPrefix,
		SiteType:  cfg.SiteLocationType,
		Location:  loc,
	})
	return a, nil
}

// sender picks the gateway when one is configured and logs messages
// otherwise.
func (a *app) sender() notification.SMSSender {
	if a.cfg.SMSGatewayURL == "" {
		a.logger.Warn().Msg("SMS_GATEWAY_URL not set, outbound messages are only logged")
		return notification.NewLogSender(a.logger)
	}
	return notification.NewGatewaySender(a.cfg.SMSGatewayURL, a.cfg.SMSGatewayToken, a.logger)
}

func (a *app) worker() *notification.Worker {
	return notification.NewWorker(a.queue, a.sender(), a.cfg.QueuePollInterval, a.metrics, a.logger)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	a.pool.Close()
}
