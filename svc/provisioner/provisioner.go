package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/svc/plan"
)

// Provisioner turns a captured checkout into a recurring subscription. Only
// one change per buyer can be in flight: the store's claim is the lock.
type Provisioner struct {
	store   Store
	billing Billing
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Provisioner) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a Provisioner recording claims in store and creating
// subscriptions through billing. It panics on a nil argument.
func New(store Store, billing Billing, opts ...Option) *Provisioner {
	if store == nil {
		panic("provisioner: nil store")
	}
	if billing == nil {
		panic("provisioner: nil billing")
	}
	p := &Provisioner{store: store, billing: billing, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision creates or upgrades the buyer's subscription. Replays with the
// same IdempotencyKey return the stored result without calling billing.
//
// A concurrent change for the same buyer fails with ErrSubscriptionConflict.
// Errors wrapping ErrUnavailable leave nothing claimed and may be retried.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	log := p.log.With(logger.BuyerID(req.BuyerID), logger.PlanID(req.PlanID))

	rec, err := p.store.Claim(ctx, Claim{
		BuyerID:          req.BuyerID,
		Key:              req.IdempotencyKey,
		PlanID:           req.PlanID,
		MonthlyAmount:    req.MonthlyAmount,
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
	})
	if err != nil {
		return Result{}, err
	}

	switch {
	case rec.AppliedKey == req.IdempotencyKey:
		return Result{Status: ResultActive, Record: rec}, nil
	case rec.Status == StatusRequiresAction && rec.ChallengeRef != "":
		return Result{Status: ResultRequiresAction, Record: rec, ChallengeRef: rec.ChallengeRef}, nil
	}

	out, err := p.billing.Subscribe(ctx, SubscribeParams{
		BuyerID:          req.BuyerID,
		PriceRef:         req.PriceRef,
		PaymentMethodRef: req.PaymentMethodRef,
		SubscriptionRef:  rec.ProcessorSubscriptionRef,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		p.release(ctx, log, rec.BuyerID, req.IdempotencyKey)
		log.WarnContext(ctx, "subscription billing failed", logger.Error(err))
		return Result{}, err
	}
	return p.apply(ctx, log, rec, req.IdempotencyKey, out)
}

// ResolveChallenge resumes a provisioning attempt suspended on the first
// invoice's authentication. key must be the one that started it.
func (p *Provisioner) ResolveChallenge(ctx context.Context, buyerID, key string) (Result, error) {
	rec, err := p.store.Get(ctx, buyerID)
	if err != nil {
		return Result{}, err
	}
	switch {
	case rec.AppliedKey == key:
		return Result{Status: ResultActive, Record: rec}, nil
	case rec.ClaimKey != key:
		if rec.ClaimKey == "" {
			return Result{}, ErrNoPendingChallenge
		}
		return Result{}, ErrSubscriptionConflict
	case rec.Status != StatusRequiresAction:
		return Result{}, ErrNoPendingChallenge
	}

	out, err := p.billing.Resolve(ctx, rec.ProcessorSubscriptionRef)
	if err != nil {
		return Result{}, err
	}
	log := p.log.With(logger.BuyerID(buyerID))
	if out.Status == BillingPending {
		return Result{Status: ResultRequiresAction, Record: rec, ChallengeRef: rec.ChallengeRef}, nil
	}
	return p.apply(ctx, log, rec, key, out)
}

// Cancel drops the change started by key, if it is still in flight. A buyer
// who walks away from the first-invoice challenge must not block later changes.
func (p *Provisioner) Cancel(ctx context.Context, buyerID, key string) error {
	rec, err := p.store.Get(ctx, buyerID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if rec.ClaimKey != key {
		return nil
	}
	rec.reject(p.now().UTC())
	return p.store.Save(ctx, key, rec)
}

// Current returns the buyer's billed subscription for the plan calculator,
// or nil when the buyer has none.
func (p *Provisioner) Current(ctx context.Context, buyerID string) (*plan.Current, error) {
	rec, err := p.store.Get(ctx, buyerID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !rec.Activated() {
		return nil, nil
	}
	return &plan.Current{
		PlanID:       rec.PlanID,
		MonthlyPrice: plan.Money{Amount: rec.MonthlyAmount, Currency: rec.Currency},
	}, nil
}

// Get returns the buyer's record.
func (p *Provisioner) Get(ctx context.Context, buyerID string) (*Record, error) {
	return p.store.Get(ctx, buyerID)
}

func (p *Provisioner) apply(ctx context.Context, log *slog.Logger, rec *Record, key string, out BillingOutcome) (Result, error) {
	now := p.now().UTC()
	if out.SubscriptionRef != "" {
		rec.ProcessorSubscriptionRef = out.SubscriptionRef
	}

	var res Result
	switch out.Status {
	case BillingActive:
		rec.activate(key, now)
		res = Result{Status: ResultActive, Record: rec}
	case BillingRequiresAction:
		rec.Status = StatusRequiresAction
		rec.ChallengeRef = out.ChallengeRef
		rec.UpdatedAt = now
		res = Result{Status: ResultRequiresAction, Record: rec, ChallengeRef: out.ChallengeRef}
	case BillingRejected:
		rec.reject(now)
		res = Result{Status: ResultRejected, Record: rec, Reason: out.Reason}
	default:
		// the provider has not settled the invoice yet; retry later with the same key
		p.release(ctx, log, rec.BuyerID, key)
		return Result{}, errors.Join(ErrUnavailable, errors.New("subscription payment still processing"))
	}

	if err := p.store.Save(ctx, key, rec); err != nil {
		return Result{}, err
	}
	log.InfoContext(ctx, "subscription provisioning settled",
		logger.State(res.Status),
		slog.String("subscription_ref", rec.ProcessorSubscriptionRef),
	)
	return res, nil
}

func (p *Provisioner) release(ctx context.Context, log *slog.Logger, buyerID, key string) {
	if err := p.store.Release(ctx, buyerID, key); err != nil {
		log.ErrorContext(ctx, "failed to release subscription claim", logger.Error(err))
	}
}
