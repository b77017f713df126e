package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Test payment method tokens understood by the sandbox. They mirror the
// processor's public test tokens so the same client code runs against both.
const (
	TestCardVisa         = "pm_card_visa"
	TestCardThreeDSecure = "pm_card_threeDSecure2Required"
	TestCardAuthRequired = "pm_card_authenticationRequired"
	TestCardDeclined     = "pm_card_chargeDeclined"
	TestCardInsufficient = "pm_card_chargeDeclinedInsufficientFunds"
)

// Op names a sandbox operation for failure injection and call counting.
type Op string

const (
	OpCreate  Op = "create"
	OpConfirm Op = "confirm"
	OpResolve Op = "resolve"
	OpStatus  Op = "status"
	OpCancel  Op = "cancel"
)

type sandboxIntent struct {
	ref           string
	amount        int64
	currency      string
	status        Status
	paymentMethod string
	challengeRef  string
	captured      int64
	declineReason string
	canceled      bool
	confirmKey    string
}

// Sandbox is a deterministic in-memory processor for development and tests.
// Outcomes are decided by the payment method token; failures can be queued
// per operation with FailNext. Safe for concurrent use.
type Sandbox struct {
	mu         sync.Mutex
	intents    map[string]*sandboxIntent
	byKey      map[string]string
	challenges map[string]string
	verdicts   map[string]Status
	failures   map[Op][]error
	calls      map[Op]int
}

// NewSandbox returns an empty in-memory processor.
func NewSandbox() *Sandbox {
	return &Sandbox{
		intents:    make(map[string]*sandboxIntent),
		byKey:      make(map[string]string),
		challenges: make(map[string]string),
		verdicts:   make(map[string]Status),
		failures:   make(map[Op][]error),
		calls:      make(map[Op]int),
	}
}

// ErrRequestLost is an ambiguous outcome for a request that never reached
// the processor. Injected with FailNext, the operation is not applied.
var ErrRequestLost = fmt.Errorf("%w: request lost in transit", ErrAmbiguousOutcome)

// FailNext queues errors returned by the next calls to op. ErrAmbiguousOutcome
// is returned after the operation has been applied, like a lost response.
func (s *Sandbox) FailNext(op Op, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// SetChallengeVerdict decides what resolving challengeRef yields; the default
// is StatusSucceeded.
func (s *Sandbox) SetChallengeVerdict(challengeRef string, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[challengeRef] = st
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Sandbox) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Captured returns the amount captured on intentRef.
func (s *Sandbox) Captured(intentRef string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[intentRef]; ok {
		return in.captured
	}
	return 0
}

// TotalCaptured sums captures across every intent.
func (s *Sandbox) TotalCaptured() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, in := range s.intents {
		total += in.captured
	}
	return total
}

// Canceled reports whether intentRef was canceled.
func (s *Sandbox) Canceled(intentRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentRef]
	return ok && in.canceled
}

// next records a call and pops an injected failure. Must hold mu.
func (s *Sandbox) next(op Op) error {
	s.calls[op]++
	q := s.failures[op]
	if len(q) == 0 {
		return nil
	}
	s.failures[op] = q[1:]
	return q[0]
}

func (s *Sandbox) CreateIntent(ctx context.Context, p CreateIntentParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	injected := s.next(OpCreate)
	if injected != nil && !errors.Is(injected, ErrAmbiguousOutcome) {
		return "", injected
	}
	if p.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	if ref, ok := s.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return ref, injected
	}

	ref := "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.intents[ref] = &sandboxIntent{ref: ref, amount: p.Amount, currency: p.Currency, status: StatusUnconfirmed}
	if p.IdempotencyKey != "" {
		s.byKey[p.IdempotencyKey] = ref
	}
	return ref, injected
}

func (s *Sandbox) Confirm(ctx context.Context, p ConfirmParams) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	injected := s.next(OpConfirm)
	if injected != nil && (!errors.Is(injected, ErrAmbiguousOutcome) || errors.Is(injected, ErrRequestLost)) {
		return Outcome{}, injected
	}

	in, ok := s.intents[p.IntentRef]
	if !ok {
		return Outcome{}, ErrIntentNotFound
	}
	if in.canceled {
		return Outcome{}, fmt.Errorf("%w: intent canceled", ErrInvalidRequest)
	}
	// replay of the same confirm, or a confirm after the outcome is final
	if (in.confirmKey != "" && in.confirmKey == p.IdempotencyKey) || in.status == StatusSucceeded {
		return in.outcome(), injected
	}

	in.confirmKey = p.IdempotencyKey
	in.paymentMethod = p.PaymentMethod
	switch p.PaymentMethod {
	case TestCardThreeDSecure, TestCardAuthRequired:
		in.status = StatusRequiresAction
		in.challengeRef = "3ds_" + in.ref
		s.challenges[in.challengeRef] = in.ref
	case TestCardDeclined:
		in.status = StatusDeclined
		in.declineReason = "card_declined"
	case TestCardInsufficient:
		in.status = StatusDeclined
		in.declineReason = "insufficient_funds"
	case "":
		return Outcome{}, fmt.Errorf("%w: payment method is required", ErrInvalidRequest)
	default:
		in.capture()
	}
	return in.outcome(), injected
}

func (s *Sandbox) ResolveChallenge(ctx context.Context, challengeRef string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	injected := s.next(OpResolve)
	if injected != nil && !errors.Is(injected, ErrAmbiguousOutcome) {
		return Outcome{}, injected
	}

	ref, ok := s.challenges[challengeRef]
	if !ok {
		return Outcome{}, ErrIntentNotFound
	}
	in := s.intents[ref]
	if in.status != StatusRequiresAction {
		return in.outcome(), injected
	}

	verdict, ok := s.verdicts[challengeRef]
	if !ok {
		verdict = StatusSucceeded
	}
	switch verdict {
	case StatusSucceeded:
		in.capture()
	case StatusDeclined:
		in.status = StatusDeclined
		in.declineReason = "authentication_failed"
	default:
		return Outcome{Status: StatusPending, ChallengeRef: challengeRef}, injected
	}
	return in.outcome(), injected
}

func (s *Sandbox) Status(ctx context.Context, intentRef string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.next(OpStatus); err != nil {
		return Outcome{}, err
	}
	in, ok := s.intents[intentRef]
	if !ok {
		return Outcome{}, ErrIntentNotFound
	}
	return in.outcome(), nil
}

func (s *Sandbox) Cancel(ctx context.Context, intentRef, _ string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	injected := s.next(OpCancel)
	if injected != nil && !errors.Is(injected, ErrAmbiguousOutcome) {
		return injected
	}
	in, ok := s.intents[intentRef]
	if !ok {
		return ErrIntentNotFound
	}
	if in.status == StatusSucceeded {
		return ErrNotCancelable
	}
	in.canceled = true
	in.status = StatusDeclined
	in.declineReason = "canceled"
	return injected
}

func (in *sandboxIntent) capture() {
	in.status = StatusSucceeded
	in.captured = in.amount
}

func (in *sandboxIntent) outcome() Outcome {
	o := Outcome{
		Status:           in.status,
		PaymentMethodRef: in.paymentMethod,
		CapturedAmount:   in.captured,
		DeclineReason:    in.declineReason,
	}
	if in.status == StatusRequiresAction {
		o.ChallengeRef = in.challengeRef
	}
	return o
}

var _ Client = (*Sandbox)(nil)
