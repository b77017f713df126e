package alert

// Config selects and configures the operator notifier. Without a server
// token alerts are only logged.
type Config struct {
	PostmarkServerToken  string   `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string   `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string   `env:"ALERT_SENDER_EMAIL" envDefault:"checkout-alerts@localhost"`
	Recipients           []string `env:"ALERT_RECIPIENTS" envSeparator:","`
	MessageStream        string   `env:"POSTMARK_MESSAGE_STREAM" envDefault:"outbound"`
}

// Enabled reports whether Postmark delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" && len(c.Recipients) > 0
}
