package provisioner_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

func newPurchase(key string) provisioner.Request {
	return provisioner.Request{
		BuyerID:          "buyer_1",
		PlanID:           "basic",
		PriceRef:         "price_basic",
		PaymentMethodRef: processor.TestCardVisa,
		MonthlyAmount:    2500,
		Currency:         "USD",
		IdempotencyKey:   key,
		Kind:             plan.KindNewPurchase,
	}
}

func upgrade(key, planID string, amount int64) provisioner.Request {
	req := newPurchase(key)
	req.PlanID = planID
	req.PriceRef = "price_" + planID
	req.MonthlyAmount = amount
	req.Kind = plan.KindUpgrade
	return req
}

func TestProvisionNewPurchase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	billing := provisioner.NewSandboxBilling()
	p := provisioner.New(provisioner.NewMemoryStore(), billing)

	res, err := p.Provision(ctx, newPurchase("ci_1"))
	require.NoError(t, err)
	assert.Equal(t, provisioner.ResultActive, res.Status)
	assert.Equal(t, provisioner.StatusActive, res.Record.Status)
	assert.Equal(t, "basic", res.Record.PlanID)
	assert.Equal(t, int64(2500), res.Record.MonthlyAmount)
	assert.NotEmpty(t, res.Record.ProcessorSubscriptionRef)

	current, err := p.Current(ctx, "buyer_1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "basic", current.PlanID)
	assert.Equal(t, plan.Money{Amount: 2500, Currency: "USD"}, current.MonthlyPrice)

	t.Run("replay does not bill again", func(t *testing.T) {
		again, err := p.Provision(ctx, newPurchase("ci_1"))
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultActive, again.Status)
		assert.Equal(t, res.Record.ID, again.Record.ID)
		assert.Equal(t, 1, billing.Calls())
	})
}

func TestProvisionUpgradeRewritesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())

	first, err := p.Provision(ctx, newPurchase("ci_1"))
	require.NoError(t, err)

	res, err := p.Provision(ctx, upgrade("ci_2", "pro", 4000))
	require.NoError(t, err)
	assert.Equal(t, provisioner.ResultActive, res.Status)
	assert.Equal(t, first.Record.ID, res.Record.ID)
	assert.Equal(t, first.Record.ProcessorSubscriptionRef, res.Record.ProcessorSubscriptionRef)
	assert.Equal(t, "pro", res.Record.PlanID)
	assert.Equal(t, int64(4000), res.Record.MonthlyAmount)
}

func TestProvisionCurrentWithoutSubscription(t *testing.T) {
	t.Parallel()

	p := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())
	current, err := p.Current(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestProvisionUnavailableReleasesClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	billing := provisioner.NewSandboxBilling()
	billing.FailNext(provisioner.ErrUnavailable)
	p := provisioner.New(provisioner.NewMemoryStore(), billing)

	_, err := p.Provision(ctx, newPurchase("ci_1"))
	require.ErrorIs(t, err, provisioner.ErrUnavailable)

	current, err := p.Current(ctx, "buyer_1")
	require.NoError(t, err)
	assert.Nil(t, current)

	// another key can claim after the failed attempt released the record
	res, err := p.Provision(ctx, newPurchase("ci_2"))
	require.NoError(t, err)
	assert.Equal(t, provisioner.ResultActive, res.Status)
}

func TestProvisionRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("new purchase fails", func(t *testing.T) {
		t.Parallel()
		p := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())
		req := newPurchase("ci_1")
		req.PaymentMethodRef = processor.TestCardDeclined

		res, err := p.Provision(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultRejected, res.Status)
		assert.Equal(t, "card_declined", res.Reason)
		assert.Equal(t, provisioner.StatusFailed, res.Record.Status)
	})

	t.Run("upgrade keeps previous plan", func(t *testing.T) {
		t.Parallel()
		billing := provisioner.NewSandboxBilling()
		p := provisioner.New(provisioner.NewMemoryStore(), billing)
		_, err := p.Provision(ctx, newPurchase("ci_1"))
		require.NoError(t, err)

		billing.QueueStatus(provisioner.BillingRejected)
		res, err := p.Provision(ctx, upgrade("ci_2", "pro", 4000))
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultRejected, res.Status)

		current, err := p.Current(ctx, "buyer_1")
		require.NoError(t, err)
		assert.Equal(t, "basic", current.PlanID)
	})
}

func TestProvisionChallenge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) (*provisioner.Provisioner, *provisioner.SandboxBilling, provisioner.Result) {
		t.Helper()
		billing := provisioner.NewSandboxBilling()
		p := provisioner.New(provisioner.NewMemoryStore(), billing)
		req := newPurchase("ci_1")
		req.PaymentMethodRef = processor.TestCardAuthRequired

		res, err := p.Provision(ctx, req)
		require.NoError(t, err)
		require.Equal(t, provisioner.ResultRequiresAction, res.Status)
		require.NotEmpty(t, res.ChallengeRef)
		return p, billing, res
	}

	t.Run("approved", func(t *testing.T) {
		t.Parallel()
		p, _, _ := setup(t)

		res, err := p.ResolveChallenge(ctx, "buyer_1", "ci_1")
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultActive, res.Status)
		assert.Equal(t, "basic", res.Record.PlanID)

		replay, err := p.ResolveChallenge(ctx, "buyer_1", "ci_1")
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultActive, replay.Status)
	})

	t.Run("still pending", func(t *testing.T) {
		t.Parallel()
		p, billing, started := setup(t)
		billing.SetChallengeVerdict(started.Record.ProcessorSubscriptionRef, provisioner.BillingPending)

		res, err := p.ResolveChallenge(ctx, "buyer_1", "ci_1")
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultRequiresAction, res.Status)
		assert.Equal(t, started.ChallengeRef, res.ChallengeRef)
	})

	t.Run("replayed provision stays suspended", func(t *testing.T) {
		t.Parallel()
		p, billing, started := setup(t)
		req := newPurchase("ci_1")
		req.PaymentMethodRef = processor.TestCardAuthRequired

		res, err := p.Provision(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultRequiresAction, res.Status)
		assert.Equal(t, started.ChallengeRef, res.ChallengeRef)
		assert.Equal(t, 1, billing.Calls())
	})

	t.Run("other key conflicts while suspended", func(t *testing.T) {
		t.Parallel()
		p, _, _ := setup(t)

		_, err := p.Provision(ctx, upgrade("ci_2", "pro", 4000))
		assert.ErrorIs(t, err, provisioner.ErrSubscriptionConflict)

		_, err = p.ResolveChallenge(ctx, "buyer_1", "ci_2")
		assert.ErrorIs(t, err, provisioner.ErrSubscriptionConflict)
	})

	t.Run("cancel releases the claim", func(t *testing.T) {
		t.Parallel()
		p, _, _ := setup(t)

		require.NoError(t, p.Cancel(ctx, "buyer_1", "ci_1"))
		rec, err := p.Get(ctx, "buyer_1")
		require.NoError(t, err)
		assert.Equal(t, provisioner.StatusFailed, rec.Status)
		assert.Empty(t, rec.ClaimKey)

		res, err := p.Provision(ctx, newPurchase("ci_2"))
		require.NoError(t, err)
		assert.Equal(t, provisioner.ResultActive, res.Status)

		require.NoError(t, p.Cancel(ctx, "buyer_1", "ci_1"), "cancel of a settled key is a no-op")
	})

	t.Run("no challenge", func(t *testing.T) {
		t.Parallel()
		p := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())
		_, err := p.ResolveChallenge(ctx, "buyer_1", "ci_1")
		assert.ErrorIs(t, err, provisioner.ErrRecordNotFound)

		_, err = p.Provision(ctx, newPurchase("ci_1"))
		require.NoError(t, err)
		_, err = p.ResolveChallenge(ctx, "buyer_1", "ci_9")
		assert.ErrorIs(t, err, provisioner.ErrNoPendingChallenge)
	})
}

// gatedBilling blocks Subscribe until release is closed.
type gatedBilling struct {
	provisioner.Billing
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBilling) Subscribe(ctx context.Context, p provisioner.SubscribeParams) (provisioner.BillingOutcome, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Billing.Subscribe(ctx, p)
}

func TestProvisionConcurrentUpgrades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := provisioner.NewMemoryStore()
	seed := provisioner.New(store, provisioner.NewSandboxBilling())
	_, err := seed.Provision(ctx, newPurchase("ci_0"))
	require.NoError(t, err)

	gate := &gatedBilling{
		Billing: provisioner.NewSandboxBilling(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := provisioner.New(store, gate)

	var first provisioner.Result
	var firstErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		first, firstErr = p.Provision(ctx, upgrade("ci_1", "pro", 4000))
	}()

	<-gate.entered
	_, err = p.Provision(ctx, upgrade("ci_2", "team", 9000))
	assert.ErrorIs(t, err, provisioner.ErrSubscriptionConflict)

	close(gate.release)
	<-done
	require.NoError(t, firstErr)
	assert.Equal(t, provisioner.ResultActive, first.Status)

	current, err := p.Current(ctx, "buyer_1")
	require.NoError(t, err)
	assert.Equal(t, "pro", current.PlanID)
}

func TestProvisionValidation(t *testing.T) {
	t.Parallel()

	p := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())
	tests := []struct {
		name   string
		mutate func(*provisioner.Request)
	}{
		{"buyer", func(r *provisioner.Request) { r.BuyerID = "" }},
		{"plan", func(r *provisioner.Request) { r.PlanID = "" }},
		{"key", func(r *provisioner.Request) { r.IdempotencyKey = "" }},
		{"amount", func(r *provisioner.Request) { r.MonthlyAmount = -1 }},
		{"currency", func(r *provisioner.Request) { r.Currency = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := newPurchase("ci_1")
			tt.mutate(&req)
			_, err := p.Provision(context.Background(), req)
			assert.ErrorIs(t, err, provisioner.ErrInvalidRequest)
		})
	}
}

func TestNewPanicsOnMissingDeps(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { provisioner.New(nil, provisioner.NewSandboxBilling()) })
	assert.Panics(t, func() { provisioner.New(provisioner.NewMemoryStore(), nil) })
}
