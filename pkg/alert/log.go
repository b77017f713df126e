package alert

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to a logger. Used when Postmark is not configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a Notifier that logs alerts to log.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}

	level := slog.LevelWarn
	if a.severity() == SeverityCritical {
		level = slog.LevelError
	}
	n.log.Log(ctx, level, a.Subject,
		slog.String("component", "alert"),
		slog.String("intent_id", a.IntentID),
		slog.String("buyer_id", a.BuyerID),
		slog.String("state", a.State),
		slog.Int64("amount", a.Amount),
		slog.String("currency", a.Currency),
		slog.Any("details", a.Details),
	)
	return nil
}

// New returns a PostmarkNotifier when cfg enables it and a LogNotifier otherwise.
func New(cfg Config, log *slog.Logger) (Notifier, error) {
	if !cfg.Enabled() {
		return NewLogNotifier(log), nil
	}
	return NewPostmarkNotifier(cfg)
}
