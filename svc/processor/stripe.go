package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/retry"
)

// StripeClient implements Client on Stripe PaymentIntents. Intents are
// created for the buyer's Stripe customer with off-session future usage so
// the confirmed card can back the recurring subscription.
type StripeClient struct {
	api           *client.API
	customers     *StripeCustomers
	breaker       *retry.CircuitBreaker
	webhookSecret string
	log           *slog.Logger
}

// StripeOption configures a StripeClient.
type StripeOption func(*StripeClient)

// WithStripeLogger sets the client logger.
func WithStripeLogger(log *slog.Logger) StripeOption {
	return func(c *StripeClient) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *retry.CircuitBreaker) StripeOption {
	return func(c *StripeClient) {
		if b != nil {
			c.breaker = b
		}
	}
}

// NewStripeAPI builds a stripe-go client. Network retries are disabled
// because retries are owned by the checkout session.
func NewStripeAPI(cfg Config) (*client.API, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is required", ErrInvalidConfig)
	}

	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.Timeout > 0 {
		bc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}

	return client.New(cfg.SecretKey, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, bc),
	}), nil
}

// NewStripeClient wires the payment intent adapter.
func NewStripeClient(api *client.API, customers *StripeCustomers, cfg Config, opts ...StripeOption) *StripeClient {
	if api == nil {
		panic("processor: nil stripe api")
	}
	if customers == nil {
		panic("processor: nil stripe customers")
	}
	c := &StripeClient{
		api:           api,
		customers:     customers,
		breaker:       retry.NewCircuitBreaker(cfg.BreakerFailures, 2, cfg.BreakerRecovery),
		webhookSecret: cfg.WebhookSecret,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StripeClient) CreateIntent(ctx context.Context, p CreateIntentParams) (string, error) {
	if p.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	customerID, err := c.customers.Ensure(ctx, p.BuyerID)
	if err != nil {
		return "", err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(strings.ToLower(p.Currency)),
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SetupFutureUsage:   stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	params.AddMetadata("buyer_id", p.BuyerID)
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	var pi *stripe.PaymentIntent
	err = c.call(ctx, "create_intent", idempotentCall, func() (err error) {
		pi, err = c.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (c *StripeClient) Confirm(ctx context.Context, p ConfirmParams) (Outcome, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(p.PaymentMethod),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(p.IdempotencyKey)

	var pi *stripe.PaymentIntent
	err := c.call(ctx, "confirm", sideEffectCall, func() (err error) {
		pi, err = c.api.PaymentIntents.Confirm(p.IntentRef, params)
		return err
	})
	if err != nil {
		if reason, ok := declineReason(err); ok {
			return Outcome{Status: StatusDeclined, PaymentMethodRef: p.PaymentMethod, DeclineReason: reason}, nil
		}
		return Outcome{}, err
	}
	return outcomeFromIntent(pi), nil
}

// ResolveChallenge re-reads the intent behind challengeRef once the buyer has
// finished the hosted challenge. An intent still awaiting the buyer is pending.
func (c *StripeClient) ResolveChallenge(ctx context.Context, challengeRef string) (Outcome, error) {
	o, err := c.Status(ctx, challengeRef)
	if err != nil {
		return Outcome{}, err
	}
	if o.Status == StatusRequiresAction {
		o.Status = StatusPending
	}
	return o, nil
}

func (c *StripeClient) Status(ctx context.Context, intentRef string) (Outcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := c.call(ctx, "status", idempotentCall, func() (err error) {
		pi, err = c.api.PaymentIntents.Get(intentRef, params)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcomeFromIntent(pi), nil
}

func (c *StripeClient) Cancel(ctx context.Context, intentRef, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(idempotencyKey)

	err := c.call(ctx, "cancel", idempotentCall, func() error {
		_, err := c.api.PaymentIntents.Cancel(intentRef, params)
		return err
	})
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		if strings.Contains(se.Msg, "canceled") {
			return nil
		}
		return errors.Join(ErrNotCancelable, err)
	}
	return err
}

type callKind int

const (
	// idempotentCall may be replayed safely, so transport failures are ErrUnavailable.
	idempotentCall callKind = iota
	// sideEffectCall may have moved money, so transport failures are ErrAmbiguousOutcome.
	sideEffectCall
)

// call runs fn behind the breaker and maps its error.
func (c *StripeClient) call(ctx context.Context, op string, kind callKind, fn func() error) error {
	if !c.breaker.Allow() {
		return errors.Join(ErrUnavailable, retry.ErrCircuitOpen)
	}

	err := fn()
	mapped := mapStripeError(err, kind)
	if errors.Is(mapped, ErrUnavailable) || errors.Is(mapped, ErrAmbiguousOutcome) {
		c.breaker.RecordFailure()
		c.log.WarnContext(ctx, "stripe call failed",
			logger.Component("processor"),
			slog.String("op", op),
			logger.Error(err),
		)
	} else {
		c.breaker.RecordSuccess()
	}
	return mapped
}

func outcomeFromIntent(pi *stripe.PaymentIntent) Outcome {
	o := Outcome{CapturedAmount: pi.AmountReceived}
	if pi.PaymentMethod != nil {
		o.PaymentMethodRef = pi.PaymentMethod.ID
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		o.Status = StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		o.Status = StatusRequiresAction
		o.ChallengeRef = pi.ID
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a confirmed intent falls back here when the charge or the challenge failed
		if pi.LastPaymentError != nil {
			o.Status = StatusDeclined
			o.DeclineReason = reasonOf(pi.LastPaymentError)
		} else {
			o.Status = StatusUnconfirmed
		}
	case stripe.PaymentIntentStatusRequiresConfirmation:
		o.Status = StatusUnconfirmed
	case stripe.PaymentIntentStatusCanceled:
		o.Status = StatusDeclined
		o.DeclineReason = "canceled"
	default:
		o.Status = StatusPending
	}
	return o
}

// StripeCustomers maps buyer ids to Stripe customers, creating them on first use.
// Lookups for the same buyer share one round trip; different buyers proceed
// in parallel.
type StripeCustomers struct {
	api    *client.API
	flight singleflight.Group
	mu     sync.RWMutex
	cache  map[string]string
}

// NewStripeCustomers returns a buyer to customer resolver over api.
func NewStripeCustomers(api *client.API) *StripeCustomers {
	if api == nil {
		panic("processor: nil stripe api")
	}
	return &StripeCustomers{api: api, cache: make(map[string]string)}
}

// Ensure returns the customer tagged with buyerID, creating it if none exists.
func (s *StripeCustomers) Ensure(ctx context.Context, buyerID string) (string, error) {
	if buyerID == "" {
		return "", fmt.Errorf("%w: buyer id is required", ErrInvalidRequest)
	}
	if id, ok := s.cached(buyerID); ok {
		return id, nil
	}

	v, err, _ := s.flight.Do(buyerID, func() (any, error) {
		if id, ok := s.cached(buyerID); ok {
			return id, nil
		}
		id, err := s.lookupOrCreate(ctx, buyerID)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.cache[buyerID] = id
		s.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *StripeCustomers) cached(buyerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cache[buyerID]
	return id, ok
}

func (s *StripeCustomers) lookupOrCreate(ctx context.Context, buyerID string) (string, error) {
	search := &stripe.CustomerSearchParams{}
	search.Context = ctx
	search.Query = fmt.Sprintf("metadata['buyer_id']:'%s'", strings.ReplaceAll(buyerID, "'", `\'`))
	iter := s.api.Customers.Search(search)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", mapStripeError(err, idempotentCall)
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("customer:" + buyerID)
	params.AddMetadata("buyer_id", buyerID)
	cust, err := s.api.Customers.New(params)
	if err != nil {
		return "", mapStripeError(err, idempotentCall)
	}
	return cust.ID, nil
}

var _ Client = (*StripeClient)(nil)
