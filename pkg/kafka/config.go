package kafka

import "time"

type Config struct {
	Brokers       []string      `env:"KAFKA_BROKERS" envSeparator:","`
	ClientID      string        `env:"KAFKA_CLIENT_ID" envDefault:"checkoutd"`
	TerminalTopic string        `env:"KAFKA_TERMINAL_TOPIC" envDefault:"checkout.terminal"`
	RetryMax      int           `env:"KAFKA_RETRY_MAX" envDefault:"5"`
	Timeout       time.Duration `env:"KAFKA_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}
