package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/svc/plan"
)

func usd(amount int64) plan.Money { return plan.Money{Amount: amount, Currency: "USD"} }

func TestComputeAmount(t *testing.T) {
	t.Parallel()

	pro := plan.Plan{ID: "pro", Price: usd(40), Downpayment: usd(40)}
	lite := plan.Plan{ID: "lite", Price: usd(20), Downpayment: usd(20)}
	starter := plan.Plan{ID: "starter", Price: usd(25), Downpayment: usd(30)}

	tests := []struct {
		name     string
		current  *plan.Current
		target   plan.Plan
		wantKind plan.Kind
		wantDue  int64
		wantErr  error
	}{
		{
			name:     "new purchase charges downpayment",
			target:   starter,
			wantKind: plan.KindNewPurchase,
			wantDue:  30,
		},
		{
			name:     "upgrade charges monthly delta",
			current:  &plan.Current{PlanID: "starter", MonthlyPrice: usd(25)},
			target:   pro,
			wantKind: plan.KindUpgrade,
			wantDue:  15,
		},
		{
			name:     "downgrade is clamped to zero",
			current:  &plan.Current{PlanID: "starter", MonthlyPrice: usd(25)},
			target:   lite,
			wantKind: plan.KindUpgrade,
			wantDue:  0,
		},
		{
			name:    "same plan is rejected",
			current: &plan.Current{PlanID: "pro", MonthlyPrice: usd(40)},
			target:  pro,
			wantErr: plan.ErrNoChangeRequested,
		},
		{
			name:    "currency mismatch is rejected",
			current: &plan.Current{PlanID: "starter", MonthlyPrice: plan.Money{Amount: 25, Currency: "EUR"}},
			target:  pro,
			wantErr: plan.ErrCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q, err := plan.ComputeAmount(tt.current, tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, q.Kind)
			assert.Equal(t, tt.wantDue, q.AmountDueToday.Amount)
			assert.Equal(t, "USD", q.AmountDueToday.Currency)
			assert.Equal(t, tt.target.ID, q.TargetPlanID)
			if tt.current != nil {
				assert.Equal(t, tt.current.PlanID, q.PreviousPlanID)
			}
		})
	}
}

func TestComputeAmountIsDeterministic(t *testing.T) {
	t.Parallel()

	cur := &plan.Current{PlanID: "starter", MonthlyPrice: usd(2500)}
	target := plan.Plan{ID: "pro", Price: usd(4000), Downpayment: usd(4000)}

	first, err := plan.ComputeAmount(cur, target)
	require.NoError(t, err)
	for range 10 {
		again, err := plan.ComputeAmount(cur, target)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	t.Run("validates and normalizes", func(t *testing.T) {
		t.Parallel()

		cat, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(
			plan.Plan{ID: "pro", Price: plan.Money{Amount: 4000, Currency: "usd"}, Downpayment: plan.Money{Amount: 4000, Currency: "USD"}, Public: true},
			plan.Plan{ID: "starter", Price: usd(2500), Downpayment: usd(3000), Public: true},
			plan.Plan{ID: "legacy", Price: usd(1000), Downpayment: usd(0)},
		))
		require.NoError(t, err)

		pro, err := cat.Get("pro")
		require.NoError(t, err)
		assert.Equal(t, "USD", pro.Price.Currency)
		assert.Equal(t, plan.IntervalMonthly, pro.Interval)

		public := cat.Public()
		require.Len(t, public, 2)
		assert.Equal(t, "starter", public[0].ID)
		assert.Equal(t, "pro", public[1].ID)

		_, err = cat.Get("missing")
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	invalid := []struct {
		name string
		p    plan.Plan
		want error
	}{
		{"unknown currency", plan.Plan{ID: "x", Price: plan.Money{Amount: 1, Currency: "ZZZ"}, Downpayment: plan.Money{Amount: 1, Currency: "ZZZ"}}, plan.ErrInvalidCurrency},
		{"negative price", plan.Plan{ID: "x", Price: usd(-1), Downpayment: usd(0)}, plan.ErrInvalidPlan},
		{"mixed currencies", plan.Plan{ID: "x", Price: usd(1), Downpayment: plan.Money{Amount: 1, Currency: "EUR"}}, plan.ErrInvalidPlan},
		{"bad interval", plan.Plan{ID: "x", Price: usd(1), Downpayment: usd(1), Interval: "weekly"}, plan.ErrInvalidPlan},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(tt.p))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

const plansYAML = `
plans:
  - id: starter
    name: Starter
    price: {amount: 2500, currency: USD}
    downpayment: {amount: 3000, currency: USD}
    price_ref: price_starter_monthly
    public: true
  - id: pro
    name: Pro
    price: {amount: 4000, currency: USD}
    downpayment: {amount: 4000, currency: USD}
    interval: monthly
    price_ref: price_pro_monthly
    public: true
`

func TestYAMLSource(t *testing.T) {
	t.Parallel()

	t.Run("file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))

		cat, err := plan.NewCatalog(context.Background(), plan.NewYAMLSource(path))
		require.NoError(t, err)

		starter, err := cat.Get("starter")
		require.NoError(t, err)
		assert.Equal(t, int64(3000), starter.Downpayment.Amount)
		assert.Equal(t, "price_starter_monthly", starter.PriceRef)
	})

	t.Run("fs", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{"plans.yaml": {Data: []byte(plansYAML)}}
		plans, err := plan.NewYAMLSourceFS(fsys, "plans.yaml").Load(context.Background())
		require.NoError(t, err)
		assert.Len(t, plans, 2)
	})

	t.Run("duplicate ids", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{"plans.yaml": {Data: []byte("plans:\n  - id: a\n  - id: a\n")}}
		_, err := plan.NewYAMLSourceFS(fsys, "plans.yaml").Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := plan.NewCatalog(context.Background(), plan.NewYAMLSource(filepath.Join(t.TempDir(), "nope.yaml")))
		assert.ErrorIs(t, err, plan.ErrFailedToLoadPlans)
	})
}

func TestNewInMemSourcePanicsWithoutPlans(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { plan.NewInMemSource() })
}
