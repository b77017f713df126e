package checkout

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Filter selects intents for sweeps. Zero fields do not filter. Results are
// ordered by id and start after the After cursor.
type Filter struct {
	States                 []State
	TransitionBefore       time.Time
	ChallengeExpiredBefore time.Time
	After                  string
	Limit                  int
}

func (f Filter) match(in *Intent) bool {
	if len(f.States) > 0 && !slices.Contains(f.States, in.State) {
		return false
	}
	if !f.TransitionBefore.IsZero() && !in.LastTransitionAt.Before(f.TransitionBefore) {
		return false
	}
	if !f.ChallengeExpiredBefore.IsZero() &&
		(in.ChallengeExpiresAt.IsZero() || !in.ChallengeExpiresAt.Before(f.ChallengeExpiredBefore)) {
		return false
	}
	return in.ID > f.After
}

// Store persists intents, authorizations and reconciliation records.
//
// Update is a compare-and-set: it writes in only while the stored intent is
// still in state from at version, then bumps in.Version. A lost race returns
// ErrConcurrentModification. AmountDueToday is never written by Update.
type Store interface {
	Create(ctx context.Context, in *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, in *Intent, from State, version int64) error
	List(ctx context.Context, f Filter) ([]*Intent, error)

	SaveAuthorization(ctx context.Context, a *Authorization) error
	GetAuthorization(ctx context.Context, intentID string) (*Authorization, error)

	SaveReconciliation(ctx context.Context, r *ReconciliationRecord) error
	GetReconciliation(ctx context.Context, intentID string) (*ReconciliationRecord, error)
}

// MemoryStore keeps everything in maps. Used by tests and the sandbox mode.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]Intent
	auths   map[string]Authorization
	recs    map[string]ReconciliationRecord
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]Intent),
		auths:   make(map[string]Authorization),
		recs:    make(map[string]ReconciliationRecord),
	}
}

func (s *MemoryStore) Create(_ context.Context, in *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.ID]; ok {
		return ErrIntentExists
	}
	in.Version = 1
	s.intents[in.ID] = *in
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &in, nil
}

func (s *MemoryStore) Update(_ context.Context, in *Intent, from State, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.intents[in.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.State != from || cur.Version != version {
		return ErrConcurrentModification
	}

	next := *in
	next.AmountDueToday = cur.AmountDueToday
	next.Version = version + 1
	s.intents[in.ID] = next
	in.Version = next.Version
	return nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Intent
	for _, in := range s.intents {
		if f.match(&in) {
			out = append(out, &in)
		}
	}
	slices.SortFunc(out, func(a, b *Intent) int { return cmp.Compare(a.ID, b.ID) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveAuthorization(_ context.Context, a *Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.auths[a.CheckoutIntentID]; ok {
		a.CreatedAt = cur.CreatedAt
	}
	s.auths[a.CheckoutIntentID] = *a
	return nil
}

func (s *MemoryStore) GetAuthorization(_ context.Context, intentID string) (*Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auths[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) SaveReconciliation(_ context.Context, r *ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.recs[r.CheckoutIntentID]; ok {
		r.RecordedAt = cur.RecordedAt
	}
	s.recs[r.CheckoutIntentID] = *r
	return nil
}

func (s *MemoryStore) GetReconciliation(_ context.Context, intentID string) (*ReconciliationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recs[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

var _ Store = (*MemoryStore)(nil)
