// Package httpserver runs an http.Handler with sane timeouts and graceful
// shutdown driven by the caller's context, plus a JSON readiness handler.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Run wraps listen errors with ErrStart and shutdown errors with ErrShutdown.
package httpserver
