package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/checkout/pkg/pg"
	"github.com/dmitrymomot/checkout/svc/plan"
)

const intentColumns = `id, buyer_id, target_plan_id, COALESCE(previous_plan_id, ''), amount_due_today, currency,
	kind, COALESCE(processor_intent_ref, ''), state, version, fingerprint, COALESCE(payment_method, ''),
	COALESCE(challenge_ref, ''), challenge_expires_at, COALESCE(failure_kind, ''), COALESCE(failure_reason, ''),
	reconcile_attempts, created_at, last_transition_at`

// PGStore is the Postgres Store. Every state change is a single conditional
// UPDATE on (id, state, version); there are no row locks.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore returns a Store backed by db.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	if db == nil {
		panic("checkout: nil pgx pool")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, in *Intent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkout_intents (
			id, buyer_id, target_plan_id, previous_plan_id, amount_due_today, currency, kind,
			state, version, fingerprint, created_at, last_transition_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, 1, $9, $10, $11)`,
		in.ID, in.BuyerID, in.TargetPlanID, in.PreviousPlanID, in.AmountDueToday, in.Currency, string(in.Kind),
		string(in.State), in.Fingerprint, in.CreatedAt, in.LastTransitionAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrIntentExists
		}
		return fmt.Errorf("insert checkout intent: %w", err)
	}
	in.Version = 1
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Intent, error) {
	in, err := scanIntent(s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM checkout_intents WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkout intent: %w", err)
	}
	return in, nil
}

func (s *PGStore) Update(ctx context.Context, in *Intent, from State, version int64) error {
	var expires *time.Time
	if !in.ChallengeExpiresAt.IsZero() {
		expires = &in.ChallengeExpiresAt
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE checkout_intents SET
			state = $4,
			version = version + 1,
			processor_intent_ref = NULLIF($5, ''),
			payment_method = NULLIF($6, ''),
			challenge_ref = NULLIF($7, ''),
			challenge_expires_at = $8,
			failure_kind = NULLIF($9, ''),
			failure_reason = NULLIF($10, ''),
			reconcile_attempts = $11,
			last_transition_at = $12
		WHERE id = $1 AND state = $2 AND version = $3`,
		in.ID, string(from), version,
		string(in.State), in.ProcessorIntentRef, in.PaymentMethod, in.ChallengeRef, expires,
		string(in.FailureKind), in.FailureReason, in.ReconcileAttempts, in.LastTransitionAt,
	)
	if err != nil {
		return fmt.Errorf("update checkout intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	in.Version = version + 1
	return nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Intent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	if !f.TransitionBefore.IsZero() {
		where = append(where, "last_transition_at < "+arg(f.TransitionBefore))
	}
	if !f.ChallengeExpiredBefore.IsZero() {
		where = append(where, "challenge_expires_at < "+arg(f.ChallengeExpiredBefore))
	}
	where = append(where, "id > "+arg(f.After))

	q := `SELECT ` + intentColumns + ` FROM checkout_intents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkout intents: %w", err)
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkout intent: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkout intents: %w", err)
	}
	return out, nil
}

func (s *PGStore) SaveAuthorization(ctx context.Context, a *Authorization) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO payment_authorizations (
			checkout_intent_id, payment_method_ref, processor_status, captured_amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (checkout_intent_id) DO UPDATE SET
			payment_method_ref = EXCLUDED.payment_method_ref,
			processor_status = EXCLUDED.processor_status,
			captured_amount = EXCLUDED.captured_amount,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		a.CheckoutIntentID, a.PaymentMethodRef, string(a.ProcessorStatus), a.CapturedAmount, a.UpdatedAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save payment authorization: %w", err)
	}
	return nil
}

func (s *PGStore) GetAuthorization(ctx context.Context, intentID string) (*Authorization, error) {
	var (
		a      Authorization
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT checkout_intent_id, payment_method_ref, processor_status, captured_amount, created_at, updated_at
		FROM payment_authorizations WHERE checkout_intent_id = $1`, intentID,
	).Scan(&a.CheckoutIntentID, &a.PaymentMethodRef, &status, &a.CapturedAmount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment authorization: %w", err)
	}
	a.ProcessorStatus = AuthorizationStatus(status)
	return &a, nil
}

func (s *PGStore) SaveReconciliation(ctx context.Context, r *ReconciliationRecord) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO reconciliation_records (
			checkout_intent_id, buyer_id, terminal_state, amount_captured, currency,
			refund_required, note, recorded_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (checkout_intent_id) DO UPDATE SET
			terminal_state = EXCLUDED.terminal_state,
			amount_captured = EXCLUDED.amount_captured,
			refund_required = EXCLUDED.refund_required,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at
		RETURNING recorded_at`,
		r.CheckoutIntentID, r.BuyerID, string(r.TerminalState), r.AmountCaptured, r.Currency,
		r.RefundRequired, r.Note, r.UpdatedAt,
	).Scan(&r.RecordedAt)
	if err != nil {
		return fmt.Errorf("save reconciliation record: %w", err)
	}
	return nil
}

func (s *PGStore) GetReconciliation(ctx context.Context, intentID string) (*ReconciliationRecord, error) {
	var (
		r     ReconciliationRecord
		state string
	)
	err := s.db.QueryRow(ctx, `
		SELECT checkout_intent_id, buyer_id, terminal_state, amount_captured, currency,
			refund_required, note, recorded_at, updated_at
		FROM reconciliation_records WHERE checkout_intent_id = $1`, intentID,
	).Scan(&r.CheckoutIntentID, &r.BuyerID, &state, &r.AmountCaptured, &r.Currency,
		&r.RefundRequired, &r.Note, &r.RecordedAt, &r.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reconciliation record: %w", err)
	}
	r.TerminalState = State(state)
	return &r, nil
}

func scanIntent(row pgx.Row) (*Intent, error) {
	var (
		in                       Intent
		kind, state, failureKind string
		expires                  *time.Time
	)
	err := row.Scan(
		&in.ID, &in.BuyerID, &in.TargetPlanID, &in.PreviousPlanID, &in.AmountDueToday, &in.Currency,
		&kind, &in.ProcessorIntentRef, &state, &in.Version, &in.Fingerprint, &in.PaymentMethod,
		&in.ChallengeRef, &expires, &failureKind, &in.FailureReason,
		&in.ReconcileAttempts, &in.CreatedAt, &in.LastTransitionAt,
	)
	if err != nil {
		return nil, err
	}
	in.Kind = plan.Kind(kind)
	in.State = State(state)
	in.FailureKind = FailureKind(failureKind)
	if expires != nil {
		in.ChallengeExpiresAt = *expires
	}
	return &in, nil
}

var _ Store = (*PGStore)(nil)
