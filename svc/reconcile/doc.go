// Package reconcile sweeps checkout intents that no request will move on its
// own: expired authentication challenges, sessions the buyer walked away
// from, transient states left behind by a crash or an ambiguous processor
// response, and partial failures awaiting another provisioning attempt.
//
// Every action goes through the checkout service, so sweeps are safe to run
// on several instances at once; a Locker only keeps them from duplicating
// work.
//
//	sw := reconcile.New(store, svc, recorder, reconcile.WithConfig(cfg))
//	go sw.Run(ctx)
package reconcile
