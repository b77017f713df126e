package provisioner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists subscription records.
//
// Claim reserves the buyer's record for key: it inserts a pending record when
// none exists, or sets the claim on an unclaimed record. When the record is
// already claimed by key, or key was the last applied change, the record is
// returned unchanged. Any other claim yields ErrSubscriptionConflict.
//
// Save writes rec only while the record is still claimed by key. Release
// clears the claim held by key without applying it.
type Store interface {
	Get(ctx context.Context, buyerID string) (*Record, error)
	Claim(ctx context.Context, c Claim) (*Record, error)
	Save(ctx context.Context, key string, rec *Record) error
	Release(ctx context.Context, buyerID, key string) error
}

// MemoryStore is an in-process Store for tests and the sandbox mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, buyerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[buyerID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Claim(_ context.Context, c Claim) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec, ok := s.records[c.BuyerID]
	if !ok {
		rec = Record{
			ID:               uuid.New(),
			BuyerID:          c.BuyerID,
			PlanID:           c.PlanID,
			Status:           StatusPending,
			PaymentMethodRef: c.PaymentMethodRef,
			Currency:         c.Currency,
			PendingPlanID:    c.PlanID,
			PendingAmount:    c.MonthlyAmount,
			ClaimKey:         c.Key,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.records[c.BuyerID] = rec
		return &rec, nil
	}

	switch {
	case rec.AppliedKey == c.Key, rec.ClaimKey == c.Key:
		return &rec, nil
	case rec.ClaimKey != "":
		return nil, ErrSubscriptionConflict
	}

	rec.ClaimKey = c.Key
	rec.PendingPlanID = c.PlanID
	rec.PendingAmount = c.MonthlyAmount
	rec.PaymentMethodRef = c.PaymentMethodRef
	rec.UpdatedAt = now
	s.records[c.BuyerID] = rec
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.BuyerID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.ClaimKey != key {
		return ErrSubscriptionConflict
	}
	s.records[rec.BuyerID] = *rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, buyerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[buyerID]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.ClaimKey != key {
		return nil
	}
	rec.ClaimKey = ""
	rec.PendingPlanID = ""
	rec.PendingAmount = 0
	rec.UpdatedAt = s.now().UTC()
	s.records[buyerID] = rec
	return nil
}

var _ Store = (*MemoryStore)(nil)
