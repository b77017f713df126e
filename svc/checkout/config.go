package checkout

import "time"

// Config is read from CHECKOUT_* environment variables.
type Config struct {
	ChallengeTimeout     time.Duration `env:"CHECKOUT_CHALLENGE_TIMEOUT" envDefault:"15m"`
	RetryAttempts        int           `env:"CHECKOUT_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"CHECKOUT_RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	RetryMaxInterval     time.Duration `env:"CHECKOUT_RETRY_MAX_INTERVAL" envDefault:"5s"`
	ReconcileMaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"5"`
	CacheTTL             time.Duration `env:"CHECKOUT_CACHE_TTL" envDefault:"10m"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		ChallengeTimeout:     15 * time.Minute,
		RetryAttempts:        3,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		ReconcileMaxAttempts: 5,
		CacheTTL:             10 * time.Minute,
	}
}
