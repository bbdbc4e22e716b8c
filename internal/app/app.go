// Package app wires configuration into the stores, services and workers
// shared by the tinymail binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/tinymail/internal/api"
	"github.com/ignite/tinymail/internal/config"
	"github.com/ignite/tinymail/internal/pkg/distlock"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/pkg/retry"
	"github.com/ignite/tinymail/internal/queue"
	"github.com/ignite/tinymail/internal/repository/postgres"
	"github.com/ignite/tinymail/internal/service/campaign"
	"github.com/ignite/tinymail/internal/service/contact"
	"github.com/ignite/tinymail/internal/service/ledger"
	"github.com/ignite/tinymail/internal/token"
	"github.com/ignite/tinymail/internal/tracking"
	"github.com/ignite/tinymail/internal/transport"
	"github.com/ignite/tinymail/internal/worker"
)

// lockTTL bounds how long a crashed campaign start keeps its lock.
const lockTTL = 2 * time.Minute

// App holds the long-lived dependencies of one process.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client

	Contacts  *contact.Service
	Campaigns *campaign.Service
	Ledger    *ledger.Service
	Queue     *queue.RedisQueue

	Unsubscribe *token.Codec
	Pixel       *token.Codec
}

// ConfigureLogger applies the log section of cfg.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
}

// New connects to Postgres and Redis and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	unsub, err := token.NewCodec(token.PurposeUnsubscribe, cfg.Tracking.SecretKey, cfg.Tracking.UnsubscribeSalt, cfg.Tracking.TokenTTL())
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	pixel, err := token.NewCodec(token.PurposePixel, cfg.Tracking.SecretKey, cfg.Tracking.PixelSalt, cfg.Tracking.TokenTTL())
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	l := ledger.NewService(postgres.NewMailRepo(db))
	q := queue.NewRedisQueue(rdb, cfg.Redis.KeyPrefix)
	locks := distlock.NewFactory(rdb, db, lockTTL)

	return &App{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Contacts:    contact.NewService(postgres.NewContactRepo(db)),
		Campaigns:   campaign.NewService(postgres.NewCampaignRepo(db), l, q, locks, cfg.Worker.FanoutParallelism),
		Ledger:      l,
		Queue:       q,
		Unsubscribe: unsub,
		Pixel:       pixel,
	}, nil
}

// Close releases the connections.
func (a *App) Close() error {
	rerr := a.Redis.Close()
	if err := a.DB.Close(); err != nil {
		return err
	}
	return rerr
}

// Router builds the HTTP handler: JSON API, tracking callbacks, health
// and metrics.
func (a *App) Router() http.Handler {
	h := api.NewHandlers(a.Contacts, a.Campaigns, a.Ledger, a.Queue)
	health := api.NewHealthChecker(a.DB, api.PingFunc(func(ctx context.Context) error {
		return a.Redis.Ping(ctx).Err()
	}))
	return api.SetupRoutes(h, health, a.TrackingHandler(), api.RouteConfig{
		AllowedOrigins: a.Config.Server.CORSAllowedOrigins,
	})
}

// TrackingHandler serves the pixel and unsubscribe callbacks.
func (a *App) TrackingHandler() *tracking.Handler {
	return tracking.NewHandler(tracking.NewResolver(a.Pixel, a.Unsubscribe, a.Ledger, a.Contacts))
}

// Sender builds the configured transport wrapped with retries for
// transient failures.
func (a *App) Sender(ctx context.Context) (transport.Sender, error) {
	cfg := a.Config
	var s transport.Sender
	switch cfg.Transport.Provider {
	case "ses":
		ses, err := transport.NewSESSender(ctx, cfg.Transport.SES.Region, cfg.Transport.SES.AccessKey, cfg.Transport.SES.SecretKey)
		if err != nil {
			return nil, err
		}
		s = ses
	default:
		s = transport.NewSMTPSender(transport.SMTPConfig{
			Host:        cfg.Mail.SMTPHost,
			Port:        cfg.Mail.SMTPPort,
			Username:    cfg.Mail.Address,
			Password:    cfg.Mail.Password,
			ImplicitTLS: cfg.Mail.SMTPSSL,
			Timeout:     cfg.Transport.Timeout(),
		})
	}
	return transport.NewRetryingSender(s, retry.Policy{
		MaxRetries: cfg.Transport.MaxRetries,
		BaseDelay:  cfg.Transport.BaseDelay(),
		MaxDelay:   cfg.Transport.MaxDelay(),
	}), nil
}

// Quota returns the soft ledger-backed limiter, or the strict Redis one
// when quota.strict is set.
func (a *App) Quota() worker.Admitter {
	q := a.Config.Quota
	if q.Strict {
		return worker.NewRedisQuotaLimiter(a.Redis, a.Config.Redis.KeyPrefix, q.Threshold(), q.Backoff())
	}
	return worker.NewQuotaLimiter(a.Ledger, q.Threshold(), q.Backoff())
}

// Worker builds the dispatch pool and its maintenance jobs.
func (a *App) Worker(ctx context.Context) (*worker.Pool, *worker.Maintenance, error) {
	cfg := a.Config
	sender, err := a.Sender(ctx)
	if err != nil {
		return nil, nil, err
	}
	injector := tracking.NewInjector(cfg.Tracking.UnsubscribeURL(), a.Unsubscribe, cfg.Tracking.PixelURL(), a.Pixel)
	d := worker.NewDispatcher(a.Contacts, a.Ledger, a.Quota(), transport.NewRenderer(), injector, sender,
		worker.DispatcherConfig{
			FromAddress:          cfg.Mail.Address,
			SuppressUnsubscribed: cfg.Worker.SuppressUnsubscribed(),
		})

	pool := worker.NewPool(a.Queue, d, worker.PoolConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval(),
		Lease:        cfg.Worker.Lease(),
		ErrorRetry:   cfg.Worker.ErrorRetry(),
		MaxPerSecond: cfg.Worker.MaxPerSecond,
	})
	maint := worker.NewMaintenance(a.Queue, a.Ledger, worker.MaintenanceConfig{
		RecoverySchedule: cfg.Worker.RecoverySchedule,
		StatsSchedule:    cfg.Worker.StatsSchedule,
		MaxDeliveries:    cfg.Worker.MaxDeliveries,
	})
	return pool, maint, nil
}
