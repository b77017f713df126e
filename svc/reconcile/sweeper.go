package reconcile

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/svc/checkout"
)

// Lister finds intents. checkout.Store implements it.
type Lister interface {
	List(ctx context.Context, f checkout.Filter) ([]*checkout.Intent, error)
}

// Checkout is the subset of *checkout.Service the sweeps drive.
type Checkout interface {
	Abandon(ctx context.Context, id string, kind checkout.FailureKind) (*checkout.Snapshot, error)
	Resume(ctx context.Context, id string) (*checkout.Snapshot, error)
	Reconcile(ctx context.Context, id string) (*checkout.Snapshot, error)
}

// PartialFailures lists intents waiting for reconciliation. *checkout.Recorder
// implements it.
type PartialFailures interface {
	ListPartialFailures(ctx context.Context) iter.Seq2[*checkout.Intent, error]
}

// Locker grants a single sweeper per tick across instances. *redis.Locker
// implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

const lockKey = "reconcile:sweep"

// Report counts what one pass did.
type Report struct {
	Expired    int64
	Abandoned  int64
	Resumed    int64
	Reconciled int64
	Errors     int64
}

// Sweeper runs all sweeps periodically.
type Sweeper struct {
	intents  Lister
	checkout Checkout
	partials PartialFailures
	locker   Locker
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithConfig replaces DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(s *Sweeper) { s.cfg = cfg }
}

// WithLocker guards each sweep with a distributed lock so one replica sweeps at a time.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Sweeper. It panics on a nil argument.
func New(intents Lister, svc Checkout, partials PartialFailures, opts ...Option) *Sweeper {
	if intents == nil {
		panic("reconcile: nil lister")
	}
	if svc == nil {
		panic("reconcile: nil checkout service")
	}
	if partials == nil {
		panic("reconcile: nil partial failure source")
	}
	s := &Sweeper{
		intents:  intents,
		checkout: svc,
		partials: partials,
		cfg:      DefaultConfig(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BatchSize <= 0 {
		s.cfg.BatchSize = 100
	}
	if s.cfg.Concurrency <= 0 {
		s.cfg.Concurrency = 1
	}
	if s.cfg.Interval <= 0 {
		s.cfg.Interval = time.Minute
	}
	s.log = s.log.With(logger.Component("reconcile"))
	return s
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sweeper shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to acquire sweep lock", logger.Error(err))
			return
		}
		if !ok {
			s.log.DebugContext(ctx, "sweep lock held elsewhere, skipping")
			return
		}
		defer unlock()
	}

	start := time.Now()
	rep, err := s.SweepOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.ErrorContext(ctx, "sweep failed", logger.Error(err))
	}
	s.log.InfoContext(ctx, "sweep finished",
		slog.Int64("expired", rep.Expired),
		slog.Int64("abandoned", rep.Abandoned),
		slog.Int64("resumed", rep.Resumed),
		slog.Int64("reconciled", rep.Reconciled),
		slog.Int64("errors", rep.Errors),
		logger.Duration(time.Since(start)),
	)
}

// SweepOnce runs every sweep one time. A failing sweep does not stop the
// ones after it; their errors are joined.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var rep Report
	err := errors.Join(
		s.ExpireChallenges(ctx, &rep),
		s.AbandonInactive(ctx, &rep),
		s.ResumeStale(ctx, &rep),
		s.ReconcilePartialFailures(ctx, &rep),
	)
	return rep, err
}

// ExpireChallenges abandons sessions whose challenge expired. The service
// cancels the processor intent only when its transition wins.
func (s *Sweeper) ExpireChallenges(ctx context.Context, rep *Report) error {
	f := checkout.Filter{
		States:                 []checkout.State{checkout.StatePaymentAuthChallenge, checkout.StateSubscriptionAuthChallenge},
		ChallengeExpiredBefore: s.now(),
	}
	return s.each(ctx, f, "expire_challenge", &rep.Expired, &rep.Errors, func(ctx context.Context, id string) error {
		_, err := s.checkout.Abandon(ctx, id, checkout.FailureChallengeTimeout)
		return err
	})
}

// AbandonInactive closes sessions that never got a payment method.
func (s *Sweeper) AbandonInactive(ctx context.Context, rep *Report) error {
	f := checkout.Filter{
		States:           []checkout.State{checkout.StateCreated, checkout.StateAwaitingProcessorIntent},
		TransitionBefore: s.now().Add(-s.cfg.InactivityWindow),
	}
	return s.each(ctx, f, "abandon_inactive", &rep.Abandoned, &rep.Errors, func(ctx context.Context, id string) error {
		_, err := s.checkout.Abandon(ctx, id, checkout.FailureInactive)
		return err
	})
}

// ResumeStale drives sessions stuck between two collaborator calls.
func (s *Sweeper) ResumeStale(ctx context.Context, rep *Report) error {
	f := checkout.Filter{
		States: []checkout.State{
			checkout.StateAuthorizingPayment,
			checkout.StateDownpaymentCaptured,
			checkout.StateProvisioningSubscription,
		},
		TransitionBefore: s.now().Add(-s.cfg.StaleAfter),
	}
	return s.each(ctx, f, "resume_stale", &rep.Resumed, &rep.Errors, func(ctx context.Context, id string) error {
		_, err := s.checkout.Resume(ctx, id)
		return err
	})
}

// ReconcilePartialFailures makes one more provisioning attempt per partial
// failure.
func (s *Sweeper) ReconcilePartialFailures(ctx context.Context, rep *Report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var listErr error
	for in, err := range s.partials.ListPartialFailures(gctx) {
		if err != nil {
			listErr = err
			break
		}
		id := in.ID
		g.Go(func() error {
			s.handle(gctx, "reconcile", id, &rep.Reconciled, &rep.Errors, func(ctx context.Context, id string) error {
				_, err := s.checkout.Reconcile(ctx, id)
				return err
			})
			return nil
		})
	}
	_ = g.Wait()
	return listErr
}

// each pages through f and applies fn to every intent, Concurrency at a time.
func (s *Sweeper) each(ctx context.Context, f checkout.Filter, op string, done, failed *int64, fn func(context.Context, string) error) error {
	f.Limit = s.cfg.BatchSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.intents.List(ctx, f)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, in := range page {
			id := in.ID
			g.Go(func() error {
				s.handle(gctx, op, id, done, failed, fn)
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < f.Limit {
			return nil
		}
		f.After = page[len(page)-1].ID
	}
}

// handle runs fn for one intent. Lost races are expected when another
// instance or a buyer request got there first.
func (s *Sweeper) handle(ctx context.Context, op, id string, done, failed *int64, fn func(context.Context, string) error) {
	ctx = logger.ContextWithIntentID(ctx, id)
	err := fn(ctx, id)
	switch {
	case err == nil, errors.Is(err, checkout.ErrProcessorDeclined):
		atomic.AddInt64(done, 1)
	case errors.Is(err, checkout.ErrConcurrentModification),
		errors.Is(err, checkout.ErrNotReconcilable):
		s.log.DebugContext(ctx, "intent moved by another writer", slog.String("op", op))
	case errors.Is(err, checkout.ErrAmbiguousOutcome):
		// still unknown at the processor; the next pass asks again
		s.log.WarnContext(ctx, "intent outcome still unknown", slog.String("op", op))
	default:
		atomic.AddInt64(failed, 1)
		s.log.ErrorContext(ctx, "sweep action failed", slog.String("op", op), logger.Error(err))
	}
}
