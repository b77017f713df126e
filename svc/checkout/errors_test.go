package checkout_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want checkout.ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", errors.Join(checkout.ErrValidation, errors.New("bad field")), checkout.KindValidation},
		{"unknown plan", fmt.Errorf("%w: %q", plan.ErrPlanNotFound, "gold"), checkout.KindValidation},
		{"no change", plan.ErrNoChangeRequested, checkout.KindValidation},
		{"no challenge", checkout.ErrNoChallengePending, checkout.KindValidation},
		{"not found", checkout.ErrNotFound, checkout.KindNotFound},
		{"key reuse", checkout.ErrIdempotencyKeyReuse, checkout.KindConcurrentModification},
		{"lost race", checkout.ErrConcurrentModification, checkout.KindConcurrentModification},
		{"subscription conflict", provisioner.ErrSubscriptionConflict, checkout.KindSubscriptionConflict},
		{"challenge timeout", checkout.ErrChallengeTimeout, checkout.KindChallengeTimeout},
		{"declined", checkout.ErrProcessorDeclined, checkout.KindProcessorDeclined},
		{"ambiguous", errors.Join(checkout.ErrAmbiguousOutcome, processor.ErrAmbiguousOutcome), checkout.KindAmbiguousOutcome},
		{"processor down", errors.Join(checkout.ErrProcessorUnavailable, processor.ErrUnavailable), checkout.KindProcessorUnavailable},
		{"raw processor down", processor.ErrUnavailable, checkout.KindProcessorUnavailable},
		{"provisioner down", errors.Join(checkout.ErrProvisionerUnavailable, provisioner.ErrUnavailable), checkout.KindProvisionerUnavailable},
		{"unknown", errors.New("boom"), checkout.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, checkout.KindOf(tt.err))
		})
	}
}
