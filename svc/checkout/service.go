package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/retry"
	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

// Plans looks up catalog entries. *plan.Catalog implements it.
type Plans interface {
	Get(id string) (plan.Plan, error)
}

// Subscriptions is the provisioner as seen by the checkout session.
// *provisioner.Provisioner implements it.
type Subscriptions interface {
	Current(ctx context.Context, buyerID string) (*plan.Current, error)
	Get(ctx context.Context, buyerID string) (*provisioner.Record, error)
	Provision(ctx context.Context, req provisioner.Request) (provisioner.Result, error)
	ResolveChallenge(ctx context.Context, buyerID, key string) (provisioner.Result, error)
	Cancel(ctx context.Context, buyerID, key string) error
}

// Service drives checkout intents through the state machine. Every state
// change is a compare-and-set on the stored intent, so any number of
// instances can serve the same intents without a lock.
type Service struct {
	store     Store
	processor processor.Client
	subs      Subscriptions
	plans     Plans
	recorder  *Recorder
	cache     Cache
	cfg       Config
	backoff   retry.Backoff
	validate  *validator.Validate
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithCache sets the snapshot read-through cache. Nil keeps the no-op cache.
func WithCache(c Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithBackoff replaces the exponential backoff derived from Config.
func WithBackoff(b retry.Backoff) Option {
	return func(s *Service) { s.backoff = b }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the checkout state machine to its collaborators.
// It panics on a nil collaborator.
func NewService(store Store, proc processor.Client, subs Subscriptions, plans Plans, recorder *Recorder, opts ...Option) *Service {
	if store == nil {
		panic("checkout: nil store")
	}
	if proc == nil {
		panic("checkout: nil processor client")
	}
	if subs == nil {
		panic("checkout: nil subscriptions")
	}
	if plans == nil {
		panic("checkout: nil plans")
	}
	if recorder == nil {
		panic("checkout: nil recorder")
	}

	s := &Service{
		store:     store,
		processor: proc,
		subs:      subs,
		plans:     plans,
		recorder:  recorder,
		cache:     nopCache{},
		cfg:       DefaultConfig(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff == nil {
		s.backoff = retry.ExponentialBackoff{
			InitialInterval: s.cfg.RetryInitialInterval,
			MaxInterval:     s.cfg.RetryMaxInterval,
			Multiplier:      2,
			JitterFactor:    0.1,
		}
	}
	if s.cfg.RetryAttempts <= 0 {
		s.cfg.RetryAttempts = 1
	}
	return s
}

// Create starts a checkout for req.TargetPlanID, or returns the intent
// already stored under req.IdempotencyKey. The amount due today is computed
// here, from the buyer's subscription as recorded server-side, and never
// again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Snapshot, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	ctx = logger.ContextWithIntentID(ctx, req.IdempotencyKey)
	fp := fingerprint(req.BuyerID, req.TargetPlanID)

	existing, err := s.store.Get(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return s.replayCreate(ctx, existing, fp)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	target, err := s.plans.Get(req.TargetPlanID)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	current, err := s.subs.Current(ctx, req.BuyerID)
	if err != nil {
		return nil, errors.Join(ErrProvisionerUnavailable, err)
	}
	quote, err := plan.ComputeAmount(current, target)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	now := s.now().UTC()
	in := &Intent{
		ID:               req.IdempotencyKey,
		BuyerID:          req.BuyerID,
		TargetPlanID:     target.ID,
		PreviousPlanID:   quote.PreviousPlanID,
		AmountDueToday:   quote.AmountDueToday.Amount,
		Currency:         quote.AmountDueToday.Currency,
		Kind:             quote.Kind,
		State:            StateCreated,
		Fingerprint:      fp,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := s.store.Create(ctx, in); err != nil {
		if !errors.Is(err, ErrIntentExists) {
			return nil, err
		}
		// lost a concurrent create with the same key
		existing, err := s.store.Get(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		return s.replayCreate(ctx, existing, fp)
	}

	s.log.InfoContext(ctx, "checkout intent created",
		logger.BuyerID(in.BuyerID),
		logger.PlanID(in.TargetPlanID),
		slog.String("kind", string(in.Kind)),
		slog.Int64("amount_due_today", in.AmountDueToday),
		slog.String("currency", in.Currency),
	)
	return s.afterCreate(ctx, in)
}

func (s *Service) replayCreate(ctx context.Context, in *Intent, fp string) (*Snapshot, error) {
	if in.Fingerprint != fp {
		return nil, ErrIdempotencyKeyReuse
	}
	if in.State == StateCreated {
		return s.afterCreate(ctx, in)
	}
	snap := s.snapshot(ctx, in)
	if in.State == StateFailed && in.FailureKind == FailureProcessorUnavailable {
		return snap, ErrProcessorUnavailable
	}
	return snap, nil
}

func (s *Service) afterCreate(ctx context.Context, in *Intent) (*Snapshot, error) {
	err := s.ensureIntent(ctx, in)
	if errors.Is(err, ErrConcurrentModification) {
		return s.current(ctx, in.ID)
	}
	return s.snapshot(ctx, in), err
}

// ensureIntent moves a created intent on and makes sure the processor holds a
// payment intent for the amount due. Nothing is created when nothing is due.
func (s *Service) ensureIntent(ctx context.Context, in *Intent) error {
	if in.State == StateCreated {
		if err := s.transition(ctx, in, EventRequestIntent, nil); err != nil {
			return err
		}
	}
	if in.AmountDueToday == 0 || in.ProcessorIntentRef != "" {
		return nil
	}

	ref, err := retry.DoValue(ctx, s.policy(ctx, "create_intent", retryableCreate),
		func(ctx context.Context, _ int) (string, error) {
			return s.processor.CreateIntent(ctx, processor.CreateIntentParams{
				Amount:         in.AmountDueToday,
				Currency:       in.Currency,
				BuyerID:        in.BuyerID,
				IdempotencyKey: in.ID,
				Metadata:       map[string]string{processor.MetadataCheckoutIntentID: in.ID},
			})
		})
	if err != nil {
		kind := FailureProcessorUnavailable
		if !retryableCreate(err) {
			kind = FailureProcessorRejected
		}
		s.log.ErrorContext(ctx, "failed to create processor intent", logger.Error(err))
		if terr := s.transition(ctx, in, EventIntentFailed, func(n *Intent) {
			n.FailureKind = kind
			n.FailureReason = err.Error()
		}); terr != nil {
			return terr
		}
		s.record(ctx, in)
		return errors.Join(ErrProcessorUnavailable, err)
	}

	return s.update(ctx, in, func(n *Intent) { n.ProcessorIntentRef = ref })
}

// Confirm submits the buyer's payment method and drives the session as far
// as it can go: to a challenge, to a terminal state, or to an ambiguous
// outcome that the stale-session sweep resumes later.
//
// Confirming an intent that already left awaiting_processor_intent returns
// the stored result without calling the processor again.
func (s *Service) Confirm(ctx context.Context, id string, req ConfirmRequest) (*Snapshot, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	ctx = logger.ContextWithIntentID(ctx, id)

	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case in.State.IsFinal(), in.State.IsChallenge():
		return s.snapshot(ctx, in), outcomeErr(in)
	case in.State == StateCreated, in.State == StateAwaitingProcessorIntent:
		if err := s.ensureIntent(ctx, in); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
	default:
		return s.snapshot(ctx, in), ErrConcurrentModification
	}

	if err := s.transition(ctx, in, EventSubmitPayment, func(n *Intent) {
		n.PaymentMethod = req.PaymentMethod
	}); err != nil {
		return s.snapshotOrCurrent(ctx, in, err)
	}
	return s.authorize(ctx, in)
}

func (s *Service) authorize(ctx context.Context, in *Intent) (*Snapshot, error) {
	if in.AmountDueToday == 0 {
		return s.applyPayment(ctx, in, processor.Outcome{
			Status:           processor.StatusSucceeded,
			PaymentMethodRef: in.PaymentMethod,
		})
	}

	out, err := s.confirmPayment(ctx, in)
	switch {
	case err == nil:
		return s.applyPayment(ctx, in, out)
	case errors.Is(err, processor.ErrAmbiguousOutcome):
		s.log.WarnContext(ctx, "payment outcome unknown, leaving intent for resume", logger.Error(err))
		return s.snapshot(ctx, in), errors.Join(ErrAmbiguousOutcome, err)
	case errors.Is(err, processor.ErrInvalidRequest):
		return s.applyPayment(ctx, in, processor.Outcome{
			Status:        processor.StatusDeclined,
			DeclineReason: err.Error(),
		})
	}

	s.log.ErrorContext(ctx, "payment confirmation failed", logger.Error(err))
	if terr := s.transition(ctx, in, EventPaymentFailed, func(n *Intent) {
		n.FailureKind = FailureProcessorUnavailable
		n.FailureReason = err.Error()
	}); terr != nil {
		return s.snapshotOrCurrent(ctx, in, terr)
	}
	s.record(ctx, in)
	return s.snapshot(ctx, in), errors.Join(ErrProcessorUnavailable, err)
}

// confirmPayment confirms with the processor. A confirm that may have been
// applied is settled by a status query; it is only sent again when the
// processor shows it never took effect.
func (s *Service) confirmPayment(ctx context.Context, in *Intent) (processor.Outcome, error) {
	params := processor.ConfirmParams{
		IntentRef:      in.ProcessorIntentRef,
		PaymentMethod:  in.PaymentMethod,
		IdempotencyKey: in.ID + ":confirm",
	}
	return retry.DoValue(ctx, s.policy(ctx, "confirm", retryableConfirm),
		func(ctx context.Context, _ int) (processor.Outcome, error) {
			out, err := s.processor.Confirm(ctx, params)
			if !errors.Is(err, processor.ErrAmbiguousOutcome) {
				return out, err
			}
			st, serr := s.paymentStatus(ctx, in)
			switch {
			case serr != nil:
				return processor.Outcome{}, settleFailed{errors.Join(err, serr)}
			case st.Status == processor.StatusUnconfirmed:
				return processor.Outcome{}, err
			}
			return st, nil
		})
}

// paymentStatus queries the intent, retrying while the processor is unavailable.
func (s *Service) paymentStatus(ctx context.Context, in *Intent) (processor.Outcome, error) {
	return retry.DoValue(ctx, s.policy(ctx, "payment_status", processor.IsRetryable),
		func(ctx context.Context, _ int) (processor.Outcome, error) {
			return s.processor.Status(ctx, in.ProcessorIntentRef)
		})
}

// settleFailed marks an ambiguous confirm whose status query failed too.
// It ends the retry loop: nothing may be resent until the outcome is known.
type settleFailed struct{ error }

func (e settleFailed) Unwrap() error { return e.error }

// resumeAuthorization settles a session left in authorizing_payment. The
// processor is asked first; the payment method is only submitted again when
// no confirm has taken effect.
func (s *Service) resumeAuthorization(ctx context.Context, in *Intent) (*Snapshot, error) {
	if in.AmountDueToday == 0 || in.ProcessorIntentRef == "" {
		return s.authorize(ctx, in)
	}
	out, err := s.paymentStatus(ctx, in)
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "payment status still unknown", logger.Error(err))
		return s.snapshot(ctx, in), errors.Join(ErrAmbiguousOutcome, err)
	case out.Status == processor.StatusUnconfirmed:
		return s.authorize(ctx, in)
	}
	return s.applyPayment(ctx, in, out)
}

// applyPayment moves the session according to the processor's verdict on
// the down-payment.
func (s *Service) applyPayment(ctx context.Context, in *Intent, out processor.Outcome) (*Snapshot, error) {
	pm := out.PaymentMethodRef
	if pm == "" {
		pm = in.PaymentMethod
	}
	auth := &Authorization{
		CheckoutIntentID: in.ID,
		PaymentMethodRef: pm,
		CapturedAmount:   out.CapturedAmount,
		UpdatedAt:        s.now().UTC(),
		CreatedAt:        s.now().UTC(),
	}

	switch out.Status {
	case processor.StatusSucceeded:
		auth.ProcessorStatus = AuthorizationSucceeded
		if err := s.store.SaveAuthorization(ctx, auth); err != nil {
			return s.snapshot(ctx, in), err
		}
		if err := s.transition(ctx, in, EventCaptured, clearChallenge); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		return s.provision(ctx, in)

	case processor.StatusRequiresAction:
		if in.State == StatePaymentAuthChallenge {
			return s.snapshot(ctx, in), nil
		}
		auth.ProcessorStatus = AuthorizationRequiresAction
		if err := s.store.SaveAuthorization(ctx, auth); err != nil {
			return s.snapshot(ctx, in), err
		}
		expires := s.now().UTC().Add(s.cfg.ChallengeTimeout)
		if err := s.transition(ctx, in, EventChallengeRequired, func(n *Intent) {
			n.ChallengeRef = out.ChallengeRef
			n.ChallengeExpiresAt = expires
		}); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		return s.snapshot(ctx, in), nil

	case processor.StatusDeclined:
		auth.ProcessorStatus = AuthorizationFailed
		if err := s.store.SaveAuthorization(ctx, auth); err != nil {
			return s.snapshot(ctx, in), err
		}
		if err := s.transition(ctx, in, EventDeclined, func(n *Intent) {
			clearChallenge(n)
			n.FailureKind = FailureDeclined
			n.FailureReason = out.DeclineReason
		}); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		s.record(ctx, in)
		return s.snapshot(ctx, in), ErrProcessorDeclined
	}

	// still pending: stay where we are
	return s.snapshot(ctx, in), nil
}

// provision runs the subscription step after the down-payment was captured.
// From here on no failure may end in failed: money has moved.
func (s *Service) provision(ctx context.Context, in *Intent) (*Snapshot, error) {
	if in.State == StateDownpaymentCaptured {
		if err := s.transition(ctx, in, EventProvision, nil); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
	}
	res, err := s.provisionRequest(ctx, in, s.cfg.RetryAttempts)
	return s.applyProvision(ctx, in, res, err)
}

func (s *Service) provisionRequest(ctx context.Context, in *Intent, attempts int) (provisioner.Result, error) {
	target, err := s.plans.Get(in.TargetPlanID)
	if err != nil {
		return provisioner.Result{}, err
	}
	pm := in.PaymentMethod
	if auth, err := s.store.GetAuthorization(ctx, in.ID); err == nil && auth.PaymentMethodRef != "" {
		pm = auth.PaymentMethodRef
	}

	req := provisioner.Request{
		BuyerID:          in.BuyerID,
		PlanID:           target.ID,
		PriceRef:         target.PriceRef,
		PaymentMethodRef: pm,
		MonthlyAmount:    target.Price.Amount,
		Currency:         target.Price.Currency,
		IdempotencyKey:   in.ID,
		Kind:             in.Kind,
	}
	p := s.policy(ctx, "provision", retryableProvision)
	p.MaxAttempts = attempts
	return retry.DoValue(ctx, p, func(ctx context.Context, _ int) (provisioner.Result, error) {
		return s.subs.Provision(ctx, req)
	})
}

func (s *Service) applyProvision(ctx context.Context, in *Intent, res provisioner.Result, err error) (*Snapshot, error) {
	if err != nil {
		kind := FailureProvisionerUnavailable
		if errors.Is(err, provisioner.ErrSubscriptionConflict) {
			kind = FailureSubscriptionConflict
		}
		s.log.ErrorContext(ctx, "subscription provisioning failed after capture", logger.Error(err))
		snap, perr := s.partialFailure(ctx, in, kind, err.Error())
		if perr == nil && kind == FailureSubscriptionConflict {
			// captured but not provisioned: the caller must learn another change won
			perr = err
		}
		return snap, perr
	}

	switch res.Status {
	case provisioner.ResultActive:
		if err := s.transition(ctx, in, EventActivated, func(n *Intent) {
			clearChallenge(n)
			n.FailureKind = ""
			n.FailureReason = ""
		}); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		s.record(ctx, in)
		return s.snapshot(ctx, in), nil

	case provisioner.ResultRequiresAction:
		if in.State == StateSubscriptionAuthChallenge {
			return s.snapshot(ctx, in), nil
		}
		expires := s.now().UTC().Add(s.cfg.ChallengeTimeout)
		if err := s.transition(ctx, in, EventSubscriptionChallenge, func(n *Intent) {
			n.ChallengeRef = res.ChallengeRef
			n.ChallengeExpiresAt = expires
		}); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		return s.snapshot(ctx, in), nil

	default:
		return s.partialFailure(ctx, in, FailureProvisionRejected, res.Reason)
	}
}

func (s *Service) partialFailure(ctx context.Context, in *Intent, kind FailureKind, reason string) (*Snapshot, error) {
	if err := s.transition(ctx, in, EventProvisionFailed, func(n *Intent) {
		clearChallenge(n)
		n.FailureKind = kind
		n.FailureReason = reason
	}); err != nil {
		return s.snapshotOrCurrent(ctx, in, err)
	}
	s.record(ctx, in)
	return s.snapshot(ctx, in), nil
}

// ResolveChallenge resumes a session suspended on either authentication
// challenge. An expired challenge abandons the session instead.
func (s *Service) ResolveChallenge(ctx context.Context, id string) (*Snapshot, error) {
	ctx = logger.ContextWithIntentID(ctx, id)
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !in.State.IsChallenge() {
		if in.State.IsFinal() {
			return s.snapshot(ctx, in), outcomeErr(in)
		}
		return s.snapshot(ctx, in), ErrNoChallengePending
	}
	if !s.now().Before(in.ChallengeExpiresAt) {
		snap, err := s.abandon(ctx, in, FailureChallengeTimeout)
		if err != nil {
			return snap, err
		}
		return snap, ErrChallengeTimeout
	}

	if in.State == StatePaymentAuthChallenge {
		out, err := retry.DoValue(ctx, s.policy(ctx, "resolve_challenge", processor.IsRetryable),
			func(ctx context.Context, _ int) (processor.Outcome, error) {
				return s.processor.ResolveChallenge(ctx, in.ChallengeRef)
			})
		if err != nil {
			return s.snapshot(ctx, in), errors.Join(ErrProcessorUnavailable, err)
		}
		return s.applyPayment(ctx, in, out)
	}

	res, err := retry.DoValue(ctx, s.policy(ctx, "resolve_subscription_challenge", retryableProvision),
		func(ctx context.Context, _ int) (provisioner.Result, error) {
			return s.subs.ResolveChallenge(ctx, in.BuyerID, in.ID)
		})
	if errors.Is(err, provisioner.ErrUnavailable) {
		return s.snapshot(ctx, in), errors.Join(ErrProvisionerUnavailable, err)
	}
	return s.applyProvision(ctx, in, res, err)
}

// Get returns the intent's snapshot. Final snapshots are served from the
// cache when present.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	if snap, err := s.cache.Get(ctx, id); err == nil {
		return snap, nil
	} else if !isCacheMiss(err) {
		s.log.WarnContext(ctx, "snapshot cache read failed", logger.IntentID(id), logger.Error(err))
	}

	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(ctx, in)
	if in.State.IsFinal() {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.log.WarnContext(ctx, "snapshot cache write failed", logger.IntentID(id), logger.Error(err))
		}
	}
	return snap, nil
}

// Abandon ends a session the buyer walked away from. Only the writer that
// wins the transition cancels the processor intent, so it is canceled once.
func (s *Service) Abandon(ctx context.Context, id string, kind FailureKind) (*Snapshot, error) {
	ctx = logger.ContextWithIntentID(ctx, id)
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.abandon(ctx, in, kind)
}

func (s *Service) abandon(ctx context.Context, in *Intent, kind FailureKind) (*Snapshot, error) {
	if in.State == StateAbandoned {
		return s.snapshot(ctx, in), nil
	}
	from := in.State
	if err := s.transition(ctx, in, EventAbandon, func(n *Intent) {
		n.FailureKind = kind
	}); err != nil {
		return s.snapshotOrCurrent(ctx, in, err)
	}

	switch {
	case from == StateSubscriptionAuthChallenge:
		if err := s.subs.Cancel(ctx, in.BuyerID, in.ID); err != nil {
			s.log.ErrorContext(ctx, "failed to release subscription claim", logger.Error(err))
		}
	case in.ProcessorIntentRef != "":
		s.cancelIntent(ctx, in)
	}
	s.record(ctx, in)
	return s.snapshot(ctx, in), nil
}

// cancelIntent releases the processor intent. When the processor refuses
// because the payment went through in the meantime, the capture is stored
// so the reconciliation record asks for a refund.
func (s *Service) cancelIntent(ctx context.Context, in *Intent) {
	err := retry.Do(ctx, s.policy(ctx, "cancel_intent", processor.IsRetryable),
		func(ctx context.Context, _ int) error {
			return s.processor.Cancel(ctx, in.ProcessorIntentRef, in.ID+":cancel")
		})
	if err == nil {
		s.log.InfoContext(ctx, "processor intent canceled", logger.ProcessorRef(in.ProcessorIntentRef))
		return
	}
	if !errors.Is(err, processor.ErrNotCancelable) {
		s.log.ErrorContext(ctx, "failed to cancel processor intent",
			logger.ProcessorRef(in.ProcessorIntentRef), logger.Error(err))
		return
	}

	out, serr := s.processor.Status(ctx, in.ProcessorIntentRef)
	if serr != nil || out.Status != processor.StatusSucceeded {
		s.log.ErrorContext(ctx, "processor intent not cancelable",
			logger.ProcessorRef(in.ProcessorIntentRef), logger.Errors(err, serr))
		return
	}
	now := s.now().UTC()
	if err := s.store.SaveAuthorization(ctx, &Authorization{
		CheckoutIntentID: in.ID,
		PaymentMethodRef: out.PaymentMethodRef,
		ProcessorStatus:  AuthorizationSucceeded,
		CapturedAmount:   out.CapturedAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		s.log.ErrorContext(ctx, "failed to store late capture", logger.Error(err))
	}
}

// Resume continues a session left in a transient state, typically after a
// crash or an ambiguous processor response. Suspended and final sessions are
// returned unchanged.
func (s *Service) Resume(ctx context.Context, id string) (*Snapshot, error) {
	ctx = logger.ContextWithIntentID(ctx, id)
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch in.State {
	case StateCreated, StateAwaitingProcessorIntent:
		if err := s.ensureIntent(ctx, in); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		return s.snapshot(ctx, in), nil
	case StateAuthorizingPayment:
		return s.resumeAuthorization(ctx, in)
	case StateDownpaymentCaptured, StateProvisioningSubscription:
		return s.provision(ctx, in)
	default:
		return s.snapshot(ctx, in), nil
	}
}

// Reconcile makes one more provisioning attempt for a partial failure,
// reusing the intent id as the idempotency key. After
// Config.ReconcileMaxAttempts failed attempts the intent moves to
// refund_required.
func (s *Service) Reconcile(ctx context.Context, id string) (*Snapshot, error) {
	ctx = logger.ContextWithIntentID(ctx, id)
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.State != StatePartialFailure {
		return s.snapshot(ctx, in), ErrNotReconcilable
	}

	res, err := s.provisionRequest(ctx, in, 1)
	if err == nil && res.Status == provisioner.ResultActive {
		return s.applyProvision(ctx, in, res, nil)
	}

	reason := res.Reason
	switch {
	case err != nil:
		reason = err.Error()
	case res.Status == provisioner.ResultRequiresAction:
		// the buyer is gone; a challenge cannot be completed out of band
		reason = "subscription requires buyer authentication"
		if cerr := s.subs.Cancel(ctx, in.BuyerID, in.ID); cerr != nil {
			s.log.ErrorContext(ctx, "failed to release subscription claim", logger.Error(cerr))
		}
	}
	attempts := in.ReconcileAttempts + 1
	s.log.WarnContext(ctx, "reconciliation attempt failed",
		logger.Attempt(attempts), slog.String("reason", reason))

	if attempts < s.cfg.ReconcileMaxAttempts {
		if err := s.update(ctx, in, func(n *Intent) {
			n.ReconcileAttempts = attempts
			n.FailureReason = reason
		}); err != nil {
			return s.snapshotOrCurrent(ctx, in, err)
		}
		return s.snapshot(ctx, in), nil
	}

	if err := s.transition(ctx, in, EventRefundRequired, func(n *Intent) {
		n.ReconcileAttempts = attempts
		n.FailureReason = reason
	}); err != nil {
		return s.snapshotOrCurrent(ctx, in, err)
	}
	s.record(ctx, in)
	return s.snapshot(ctx, in), nil
}

// transition writes in moved by event. mutate edits the copy being written;
// in is replaced only when the compare-and-set succeeds.
func (s *Service) transition(ctx context.Context, in *Intent, event Event, mutate func(*Intent)) error {
	to, err := nextState(ctx, in, event)
	if err != nil {
		return err
	}

	from := in.State
	next := *in
	next.State = to
	next.LastTransitionAt = s.now().UTC()
	if mutate != nil {
		mutate(&next)
	}
	if err := s.store.Update(ctx, &next, from, in.Version); err != nil {
		return err
	}
	*in = next
	s.invalidate(ctx, in.ID)

	s.log.InfoContext(ctx, "checkout transition", logger.Transition(from, to, event))
	return nil
}

// update writes in without changing its state.
func (s *Service) update(ctx context.Context, in *Intent, mutate func(*Intent)) error {
	next := *in
	mutate(&next)
	if err := s.store.Update(ctx, &next, in.State, in.Version); err != nil {
		return err
	}
	*in = next
	s.invalidate(ctx, in.ID)
	return nil
}

func (s *Service) record(ctx context.Context, in *Intent) {
	if err := s.recorder.Record(ctx, in.ID, in.State); err != nil {
		s.log.ErrorContext(ctx, "failed to record checkout outcome", logger.State(in.State), logger.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.WarnContext(ctx, "snapshot cache delete failed", logger.Error(err))
	}
}

func (s *Service) snapshot(ctx context.Context, in *Intent) *Snapshot {
	var auth *Authorization
	if a, err := s.store.GetAuthorization(ctx, in.ID); err == nil {
		auth = a
	}
	var sub *provisioner.Record
	if in.State.Captured() {
		if r, err := s.subs.Get(ctx, in.BuyerID); err == nil {
			sub = r
		}
	}
	return newSnapshot(in, auth, sub)
}

// current re-reads the intent after another writer moved it.
func (s *Service) current(ctx context.Context, id string) (*Snapshot, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, in), nil
}

// snapshotOrCurrent pairs err with the freshest snapshot available.
func (s *Service) snapshotOrCurrent(ctx context.Context, in *Intent, err error) (*Snapshot, error) {
	if errors.Is(err, ErrConcurrentModification) {
		if snap, gerr := s.current(ctx, in.ID); gerr == nil {
			return snap, err
		}
	}
	return s.snapshot(ctx, in), err
}

func (s *Service) policy(ctx context.Context, op string, retryable func(error) bool) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.cfg.RetryAttempts,
		Backoff:     s.backoff,
		Retryable:   retryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			s.log.WarnContext(ctx, "retrying collaborator call",
				slog.String("op", op),
				logger.Attempt(attempt),
				logger.Duration(delay),
				logger.Error(err),
			)
		},
	}
}

// outcomeErr is the error a replayed request reports for a final intent.
func outcomeErr(in *Intent) error {
	switch {
	case in.State == StateFailed && in.FailureKind == FailureDeclined:
		return ErrProcessorDeclined
	case in.State == StateFailed && in.FailureKind == FailureProcessorUnavailable:
		return ErrProcessorUnavailable
	case in.State == StateAbandoned && in.FailureKind == FailureChallengeTimeout:
		return ErrChallengeTimeout
	case in.State == StatePartialFailure && in.FailureKind == FailureSubscriptionConflict:
		return provisioner.ErrSubscriptionConflict
	}
	return nil
}

func clearChallenge(n *Intent) {
	n.ChallengeRef = ""
	n.ChallengeExpiresAt = time.Time{}
}

func retryableCreate(err error) bool {
	return errors.Is(err, processor.ErrUnavailable) || errors.Is(err, processor.ErrAmbiguousOutcome)
}

func retryableConfirm(err error) bool {
	var sf settleFailed
	if errors.As(err, &sf) {
		return false
	}
	return errors.Is(err, processor.ErrUnavailable) || errors.Is(err, processor.ErrAmbiguousOutcome)
}

func retryableProvision(err error) bool {
	return errors.Is(err, provisioner.ErrUnavailable)
}
