package reconcile

import "time"

// Config is read from environment variables.
type Config struct {
	Interval         time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	InactivityWindow time.Duration `env:"CHECKOUT_INACTIVITY_WINDOW" envDefault:"24h"`
	StaleAfter       time.Duration `env:"CHECKOUT_STALE_AFTER" envDefault:"5m"`
	BatchSize        int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
	Concurrency      int           `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	// LockTTL bounds one sweep; it must exceed the slowest expected pass.
	LockTTL time.Duration `env:"RECONCILE_LOCK_TTL" envDefault:"5m"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Minute,
		InactivityWindow: 24 * time.Hour,
		StaleAfter:       5 * time.Minute,
		BatchSize:        100,
		Concurrency:      4,
		LockTTL:          5 * time.Minute,
	}
}
