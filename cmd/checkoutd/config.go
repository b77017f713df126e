package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/checkout/pkg/alert"
	"github.com/dmitrymomot/checkout/pkg/config"
	"github.com/dmitrymomot/checkout/pkg/httpserver"
	"github.com/dmitrymomot/checkout/pkg/kafka"
	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/pg"
	"github.com/dmitrymomot/checkout/pkg/redis"
	"github.com/dmitrymomot/checkout/pkg/requestid"
	"github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/reconcile"
)

// appConfig gathers every package Config; nested structs keep their own
// env tags.
type appConfig struct {
	Env             string        `env:"APP_ENV" envDefault:"development"`
	Name            string        `env:"APP_NAME" envDefault:"checkoutd"`
	LogLevel        string        `env:"LOG_LEVEL"`
	PlanCatalogPath string        `env:"PLAN_CATALOG_PATH" envDefault:"plans.yaml"`
	HealthTimeout   time.Duration `env:"HEALTHCHECK_TIMEOUT" envDefault:"2s"`

	HTTP      httpserver.Config
	PG        pg.Config
	Redis     redis.Config
	Kafka     kafka.Config
	Alert     alert.Config
	Processor processor.Config
	Checkout  checkout.Config
	Reconcile reconcile.Config
}

// catalogConfig is all the plans command needs.
type catalogConfig struct {
	PlanCatalogPath string `env:"PLAN_CATALOG_PATH" envDefault:"plans.yaml"`
}

func loadConfig(envFiles []string) (appConfig, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		return appConfig{}, fmt.Errorf("load env files: %w", err)
	}
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg appConfig) *slog.Logger {
	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)
	return log
}
