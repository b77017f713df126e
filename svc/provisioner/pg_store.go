package provisioner

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/checkout/pkg/pg"
)

const recordColumns = `id, buyer_id, plan_id, status, payment_method_ref, monthly_amount, currency,
	processor_subscription_ref, challenge_ref, pending_plan_id, pending_monthly_amount,
	COALESCE(claim_key, ''), COALESCE(applied_key, ''), created_at, updated_at`

// PGStore keeps subscription records in Postgres. The unique buyer_id column
// makes the claim a single conditional upsert.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore returns a Store backed by db.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	if db == nil {
		panic("provisioner: nil pgx pool")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, buyerID string) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM subscription_records WHERE buyer_id = $1`, buyerID)
	rec, err := scanRecord(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	return rec, nil
}

func (s *PGStore) Claim(ctx context.Context, c Claim) (*Record, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO subscription_records (
			id, buyer_id, plan_id, status, payment_method_ref, currency,
			pending_plan_id, pending_monthly_amount, claim_key
		) VALUES ($1, $2, $3, 'pending', $4, $5, $3, $6, $7)
		ON CONFLICT (buyer_id) DO UPDATE SET
			claim_key = EXCLUDED.claim_key,
			pending_plan_id = EXCLUDED.pending_plan_id,
			pending_monthly_amount = EXCLUDED.pending_monthly_amount,
			payment_method_ref = EXCLUDED.payment_method_ref,
			updated_at = now()
		WHERE subscription_records.claim_key IS NULL
			AND subscription_records.applied_key IS DISTINCT FROM EXCLUDED.claim_key
		RETURNING `+recordColumns,
		uuid.New(), c.BuyerID, c.PlanID, c.PaymentMethodRef, c.Currency, c.MonthlyAmount, c.Key,
	)
	rec, err := scanRecord(row)
	switch {
	case err == nil:
		return rec, nil
	case pg.IsDuplicateKeyError(err):
		return nil, ErrSubscriptionConflict
	case !pg.IsNotFoundError(err):
		return nil, errors.Join(ErrUnavailable, err)
	}

	// the upsert matched nothing: either a replay of key or someone else's claim
	rec, err = s.Get(ctx, c.BuyerID)
	if err != nil {
		return nil, err
	}
	if rec.ClaimKey == c.Key || rec.AppliedKey == c.Key {
		return rec, nil
	}
	return nil, ErrSubscriptionConflict
}

func (s *PGStore) Save(ctx context.Context, key string, rec *Record) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscription_records SET
			plan_id = $3,
			status = $4,
			payment_method_ref = $5,
			monthly_amount = $6,
			currency = $7,
			processor_subscription_ref = $8,
			challenge_ref = $9,
			pending_plan_id = $10,
			pending_monthly_amount = $11,
			claim_key = NULLIF($12, ''),
			applied_key = NULLIF($13, ''),
			updated_at = $14
		WHERE buyer_id = $1 AND claim_key = $2`,
		rec.BuyerID, key,
		rec.PlanID, rec.Status, rec.PaymentMethodRef, rec.MonthlyAmount, rec.Currency,
		rec.ProcessorSubscriptionRef, rec.ChallengeRef, rec.PendingPlanID, rec.PendingAmount,
		rec.ClaimKey, rec.AppliedKey, rec.UpdatedAt,
	)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionConflict
	}
	return nil
}

func (s *PGStore) Release(ctx context.Context, buyerID, key string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE subscription_records
		SET claim_key = NULL, pending_plan_id = '', pending_monthly_amount = 0, updated_at = now()
		WHERE buyer_id = $1 AND claim_key = $2`,
		buyerID, key,
	)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status string
	err := row.Scan(
		&rec.ID, &rec.BuyerID, &rec.PlanID, &status, &rec.PaymentMethodRef, &rec.MonthlyAmount, &rec.Currency,
		&rec.ProcessorSubscriptionRef, &rec.ChallengeRef, &rec.PendingPlanID, &rec.PendingAmount,
		&rec.ClaimKey, &rec.AppliedKey, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}

var _ Store = (*PGStore)(nil)
