package alert

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

// PostmarkNotifier emails alerts to operators through Postmark.
type PostmarkNotifier struct {
	client *postmark.Client
	from   string
	to     string
}

// PostmarkOption configures a PostmarkNotifier.
type PostmarkOption func(*PostmarkNotifier)

// WithBaseURL points the client at a different API host, for tests.
func WithBaseURL(url string) PostmarkOption {
	return func(n *PostmarkNotifier) {
		if url != "" {
			n.client.BaseURL = url
		}
	}
}

// NewPostmarkNotifier validates cfg and builds the notifier.
func NewPostmarkNotifier(cfg Config, opts ...PostmarkOption) (*PostmarkNotifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidConfig)
	}
	for _, r := range cfg.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrInvalidConfig, r)
		}
	}

	n := &PostmarkNotifier{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:   cfg.SenderEmail,
		to:     strings.Join(cfg.Recipients, ","),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify sends the alert as a plain-text email.
func (n *PostmarkNotifier) Notify(ctx context.Context, a Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.from,
		To:       n.to,
		Subject:  fmt.Sprintf("[%s] %s", a.severity(), a.Subject),
		Tag:      a.Tag(),
		TextBody: a.Text(),
	})
	if err != nil {
		return errors.Join(ErrFailedToNotify, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToNotify,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
