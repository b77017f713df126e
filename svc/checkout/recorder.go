package checkout

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/checkout/pkg/alert"
	"github.com/dmitrymomot/checkout/pkg/kafka"
	"github.com/dmitrymomot/checkout/pkg/logger"
)

// ReconciliationRecord is the durable trace of a session that ended.
type ReconciliationRecord struct {
	CheckoutIntentID string
	BuyerID          string
	TerminalState    State
	AmountCaptured   int64
	Currency         string
	RefundRequired   bool
	Note             string
	RecordedAt       time.Time
	UpdatedAt        time.Time
}

// TerminalEvent is published for every recorded session outcome.
type TerminalEvent struct {
	EventID        string      `json:"event_id"`
	IntentID       string      `json:"intent_id"`
	BuyerID        string      `json:"buyer_id"`
	State          State       `json:"state"`
	TargetPlanID   string      `json:"target_plan_id"`
	AmountDue      int64       `json:"amount_due_today"`
	AmountCaptured int64       `json:"amount_captured"`
	Currency       string      `json:"currency"`
	RefundRequired bool        `json:"refund_required"`
	FailureKind    FailureKind `json:"failure_kind,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// EventTypeTerminal is the message type header of terminal events.
const EventTypeTerminal = "checkout.terminal"

// Publisher ships terminal events. *kafka.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Recorder keeps the reconciliation trail: one record per finished session,
// a terminal event per outcome and an operator alert whenever money was
// captured without a working subscription.
type Recorder struct {
	store     Store
	publisher Publisher
	notifier  alert.Notifier
	log       *slog.Logger
	now       func() time.Time
	pageSize  int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher sets where outcome events are published. Nil disables publishing.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.publisher = p }
}

// WithNotifier sets who is alerted about partial failures.
func WithNotifier(n alert.Notifier) RecorderOption {
	return func(r *Recorder) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithRecorderLogger sets the logger. Defaults to slog.Default().
func WithRecorderLogger(log *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// WithPageSize sets how many intents ListPartialFailures reads per query.
func WithPageSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// NewRecorder returns a Recorder over store. It panics if store is nil.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	if store == nil {
		panic("checkout: nil store")
	}
	r := &Recorder{store: store, log: slog.Default(), now: time.Now, pageSize: 100}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = alert.NewLogNotifier(r.log)
	}
	return r
}

// Record stores the outcome of intentID. Recording the same outcome twice
// rewrites the record. Event and alert delivery failures are logged, not
// returned: the record itself is what reconciliation relies on.
func (r *Recorder) Record(ctx context.Context, intentID string, state State) error {
	in, err := r.store.Get(ctx, intentID)
	if err != nil {
		return err
	}

	var captured int64
	auth, err := r.store.GetAuthorization(ctx, intentID)
	switch {
	case err == nil:
		if auth.ProcessorStatus == AuthorizationSucceeded {
			captured = auth.CapturedAmount
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	now := r.now().UTC()
	rec := &ReconciliationRecord{
		CheckoutIntentID: in.ID,
		BuyerID:          in.BuyerID,
		TerminalState:    state,
		AmountCaptured:   captured,
		Currency:         in.Currency,
		RefundRequired:   state == StateRefundRequired || (state == StateAbandoned && captured > 0),
		Note:             note(in),
		RecordedAt:       now,
		UpdatedAt:        now,
	}
	if err := r.store.SaveReconciliation(ctx, rec); err != nil {
		return err
	}

	log := r.log.With(logger.IntentID(in.ID), logger.BuyerID(in.BuyerID), logger.State(state))
	log.InfoContext(ctx, "checkout outcome recorded",
		slog.Int64("amount_captured", captured),
		slog.Bool("refund_required", rec.RefundRequired),
	)

	if r.publisher != nil {
		err := r.publisher.Publish(ctx, kafka.Message{
			Key:  in.ID,
			Type: EventTypeTerminal,
			Payload: TerminalEvent{
				EventID:        uuid.NewString(),
				IntentID:       in.ID,
				BuyerID:        in.BuyerID,
				State:          state,
				TargetPlanID:   in.TargetPlanID,
				AmountDue:      in.AmountDueToday,
				AmountCaptured: captured,
				Currency:       in.Currency,
				RefundRequired: rec.RefundRequired,
				FailureKind:    in.FailureKind,
				OccurredAt:     now,
			},
		})
		if err != nil {
			log.ErrorContext(ctx, "failed to publish terminal event", logger.Error(err))
		}
	}

	if a, ok := alertFor(in, rec); ok {
		if err := r.notifier.Notify(ctx, a); err != nil {
			log.ErrorContext(ctx, "failed to send operator alert", logger.Error(err))
		}
	}
	return nil
}

// ListPartialFailures yields every intent in partial_failure, reading the
// store page by page as the caller iterates.
func (r *Recorder) ListPartialFailures(ctx context.Context) iter.Seq2[*Intent, error] {
	return r.ListPartialFailuresAfter(ctx, "")
}

// ListPartialFailuresAfter resumes ListPartialFailures after the intent id
// cursor, so an interrupted sweep can pick up where it stopped.
func (r *Recorder) ListPartialFailuresAfter(ctx context.Context, cursor string) iter.Seq2[*Intent, error] {
	return func(yield func(*Intent, error) bool) {
		after := cursor
		for {
			page, err := r.store.List(ctx, Filter{
				States: []State{StatePartialFailure},
				After:  after,
				Limit:  r.pageSize,
			})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, in := range page {
				if !yield(in, nil) {
					return
				}
				after = in.ID
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

func note(in *Intent) string {
	switch {
	case in.FailureKind != "" && in.FailureReason != "":
		return fmt.Sprintf("%s: %s", in.FailureKind, in.FailureReason)
	case in.FailureKind != "":
		return string(in.FailureKind)
	default:
		return in.FailureReason
	}
}

func alertFor(in *Intent, rec *ReconciliationRecord) (alert.Alert, bool) {
	a := alert.Alert{
		IntentID: in.ID,
		BuyerID:  in.BuyerID,
		State:    string(rec.TerminalState),
		Amount:   rec.AmountCaptured,
		Currency: rec.Currency,
		Details: map[string]string{
			"target_plan":        in.TargetPlanID,
			"note":               rec.Note,
			"reconcile_attempts": strconv.Itoa(in.ReconcileAttempts),
		},
	}
	switch {
	case rec.TerminalState == StatePartialFailure:
		a.Severity = alert.SeverityWarning
		a.Subject = "Down-payment captured, subscription not provisioned"
	case rec.TerminalState == StateRefundRequired:
		a.Severity = alert.SeverityCritical
		a.Subject = "Refund required: subscription could not be provisioned"
	case rec.RefundRequired:
		a.Severity = alert.SeverityCritical
		a.Subject = "Refund required: buyer abandoned after the down-payment was captured"
	default:
		return alert.Alert{}, false
	}
	return a, true
}
