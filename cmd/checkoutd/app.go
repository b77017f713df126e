package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/checkout/migrations"
	checkoutapi "github.com/dmitrymomot/checkout/modules/checkout"
	"github.com/dmitrymomot/checkout/pkg/alert"
	"github.com/dmitrymomot/checkout/pkg/httpserver"
	"github.com/dmitrymomot/checkout/pkg/kafka"
	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/pg"
	"github.com/dmitrymomot/checkout/pkg/redis"
	"github.com/dmitrymomot/checkout/pkg/retry"
	"github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
	"github.com/dmitrymomot/checkout/svc/reconcile"
)

// app holds the wired dependency graph shared by every command.
type app struct {
	cfg      appConfig
	log      *slog.Logger
	pool     *pgxpool.Pool
	rdb      *goredis.Client
	catalog  *plan.Catalog
	svc      *checkout.Service
	recorder *checkout.Recorder
	sweeper  *reconcile.Sweeper
	webhooks processor.WebhookParser
	closers  []func() error
}

func newApp(ctx context.Context, cfg appConfig, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.pool, err = pg.Connect(ctx, cfg.PG); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { a.pool.Close(); return nil })

	if a.rdb, err = redis.Connect(ctx, cfg.Redis); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, a.rdb.Close)

	if a.catalog, err = plan.NewCatalog(ctx, plan.NewYAMLSource(cfg.PlanCatalogPath)); err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}

	client, billing, err := a.processors(cfg.Processor)
	if err != nil {
		return nil, err
	}

	notifier, err := alert.New(cfg.Alert, log)
	if err != nil {
		return nil, fmt.Errorf("configure alerts: %w", err)
	}

	store := checkout.NewPGStore(a.pool)
	recorderOpts := []checkout.RecorderOption{
		checkout.WithNotifier(notifier),
		checkout.WithRecorderLogger(log),
	}
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		pub := kafka.NewPublisher(producer, cfg.Kafka.TerminalTopic, kafka.WithLogger(log))
		a.closers = append(a.closers, pub.Close)
		recorderOpts = append(recorderOpts, checkout.WithPublisher(pub))
	}
	a.recorder = checkout.NewRecorder(store, recorderOpts...)

	subs := provisioner.New(provisioner.NewPGStore(a.pool), billing, provisioner.WithLogger(log))
	a.svc = checkout.NewService(store, client, subs, a.catalog, a.recorder,
		checkout.WithConfig(cfg.Checkout),
		checkout.WithCache(checkout.NewRedisCache(a.rdb, cfg.Redis.KeyPrefix+"intent:", cfg.Checkout.CacheTTL)),
		checkout.WithLogger(log),
	)
	a.sweeper = reconcile.New(store, a.svc, a.recorder,
		reconcile.WithConfig(cfg.Reconcile),
		reconcile.WithLocker(redis.NewLocker(a.rdb, cfg.Redis.KeyPrefix)),
		reconcile.WithLogger(log),
	)
	return a, nil
}

// processors picks the payment processor and billing backend by driver.
func (a *app) processors(cfg processor.Config) (processor.Client, provisioner.Billing, error) {
	switch cfg.Driver {
	case processor.DriverSandbox:
		a.log.Warn("using sandbox payment processor; no real money moves")
		return processor.NewSandbox(), provisioner.NewSandboxBilling(), nil
	case processor.DriverStripe:
		api, err := processor.NewStripeAPI(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("configure stripe: %w", err)
		}
		customers := processor.NewStripeCustomers(api)
		client := processor.NewStripeClient(api, customers, cfg,
			processor.WithStripeLogger(a.log),
			processor.WithBreaker(a.breaker("stripe_payments", cfg)),
		)
		billing := provisioner.NewStripeBilling(api, customers,
			provisioner.WithBillingLogger(a.log),
			provisioner.WithBillingBreaker(a.breaker("stripe_billing", cfg)),
		)
		if cfg.WebhookSecret != "" {
			a.webhooks = client
		}
		return client, billing, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown PROCESSOR_DRIVER %q", processor.ErrInvalidConfig, cfg.Driver)
	}
}

// breaker guards one Stripe surface and logs when it trips or recovers.
func (a *app) breaker(name string, cfg processor.Config) *retry.CircuitBreaker {
	return retry.NewCircuitBreaker(cfg.BreakerFailures, 2, cfg.BreakerRecovery,
		retry.WithStateChange(func(from, to retry.CircuitState) {
			level := slog.LevelInfo
			if to == retry.CircuitOpen {
				level = slog.LevelWarn
			}
			a.log.Log(context.Background(), level, "circuit breaker state changed",
				logger.Component(name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
	)
}

func (a *app) migrate(ctx context.Context) error {
	return pg.Migrate(ctx, a.pool, migrations.FS, a.cfg.PG, a.log)
}

func (a *app) handler() http.Handler {
	return checkoutapi.Router(checkoutapi.RouterOptions{
		Service:  a.svc,
		Webhooks: a.webhooks,
		Logger:   a.log,
		Health: httpserver.HealthCheckHandler(a.log, a.cfg.HealthTimeout,
			httpserver.Check{Name: "postgres", Ping: pg.Healthcheck(a.pool)},
			httpserver.Check{Name: "redis", Ping: redis.Healthcheck(a.rdb)},
		),
	})
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("shutdown cleanup failed", logger.Error(err))
	}
}
