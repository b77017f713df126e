package plan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

// Catalog is a validated, read-only set of plans.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog loads plans from src and validates each one.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plan: nil source")
	}

	loaded, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(loaded) == 0 {
		return nil, ErrEmptyCatalog
	}

	plans := make(map[string]Plan, len(loaded))
	for id, p := range loaded {
		if p.ID != id {
			return nil, fmt.Errorf("%w: key %q holds plan %q", ErrInvalidPlan, id, p.ID)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		plans[id] = p
	}
	return &Catalog{plans: plans}, nil
}

// Get returns the plan or ErrPlanNotFound.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// Public lists self-service plans ordered by price.
func (c *Catalog) Public() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.Public {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.Price.Amount, b.Price.Amount), cmp.Compare(a.ID, b.ID))
	})
	return out
}
