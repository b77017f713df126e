// Package provisioner owns the buyer's recurring subscription.
//
// Each buyer has exactly one Record. Provision claims it with a conditional
// write keyed on the buyer id, calls the recurring-billing provider and
// settles the record as active, suspended on an authentication challenge or
// rejected. A second change started while a claim is held fails with
// ErrSubscriptionConflict, so concurrent upgrades can never leave two active
// subscriptions.
//
// Billing is implemented by StripeBilling for production and SandboxBilling
// for development and tests. Records live in PGStore or MemoryStore.
package provisioner
