// Package checkout runs the checkout session for subscription purchases and
// plan changes.
//
// A session is a persisted Intent that moves through a fixed state machine:
//
//	created -> awaiting_processor_intent -> authorizing_payment
//	  -> [payment_auth_challenge] -> downpayment_captured
//	  -> provisioning_subscription -> [subscription_auth_challenge]
//	  -> succeeded | partial_failure
//
// with failed and abandoned reachable before capture, and refund_required
// reachable from partial_failure once reconciliation gives up.
//
// The amount due today is computed once, at creation, from the buyer's
// subscription as recorded by the provisioner. Every state change is a
// compare-and-set on the stored intent, so duplicate or concurrent requests
// for the same idempotency key never charge twice.
//
// Basic usage:
//
//	svc := checkout.NewService(store, processorClient, provisioner, catalog, recorder)
//	snap, err := svc.Create(ctx, checkout.CreateRequest{
//		IdempotencyKey: key,
//		BuyerID:        buyerID,
//		TargetPlanID:   "pro",
//	})
//	snap, err = svc.Confirm(ctx, snap.ID, checkout.ConfirmRequest{PaymentMethod: pm})
//	if snap.State == checkout.StatePaymentAuthChallenge {
//		// buyer completes the challenge out of band
//		snap, err = svc.ResolveChallenge(ctx, snap.ID)
//	}
//
// Errors are classified with KindOf for transport layers.
package checkout
