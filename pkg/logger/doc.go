// Package logger builds *slog.Logger instances for the checkout service.
//
// New returns a logger configured by Option functions (format, level, static
// attributes, environment presets) whose handler injects attributes pulled
// from context on every record. The checkout intent id is injected by default:
//
//	log := logger.New(logger.WithEnvironment(cfg.Env, "checkoutd"))
//	ctx = logger.ContextWithIntentID(ctx, intent.ID)
//	log.InfoContext(ctx, "state changed",
//	    logger.Transition(from, to, event),
//	    logger.BuyerID(intent.BuyerID),
//	)
//
// Attribute helpers in attr.go keep key names consistent across packages.
// Error and Errors return an empty Attr for nil errors, so they can be passed
// unconditionally.
package logger
