package processor

import "time"

// Driver selects the processor implementation.
type Driver string

const (
	DriverSandbox Driver = "sandbox"
	DriverStripe  Driver = "stripe"
)

type Config struct {
	Driver        Driver        `env:"PROCESSOR_DRIVER" envDefault:"sandbox"`
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	APIURL        string        `env:"STRIPE_API_URL"`
	Timeout       time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"20s"`

	BreakerFailures int           `env:"PROCESSOR_BREAKER_FAILURES" envDefault:"5"`
	BreakerRecovery time.Duration `env:"PROCESSOR_BREAKER_RECOVERY" envDefault:"30s"`
}
