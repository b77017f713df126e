package checkout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/checkout/handler"
	"github.com/dmitrymomot/checkout/pkg/requestid"
	checkoutsvc "github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/processor"
)

// Service is the part of the checkout service exposed over HTTP.
type Service interface {
	Create(ctx context.Context, req checkoutsvc.CreateRequest) (*checkoutsvc.Snapshot, error)
	Confirm(ctx context.Context, id string, req checkoutsvc.ConfirmRequest) (*checkoutsvc.Snapshot, error)
	ResolveChallenge(ctx context.Context, id string) (*checkoutsvc.Snapshot, error)
	Get(ctx context.Context, id string) (*checkoutsvc.Snapshot, error)
}

var _ Service = (*checkoutsvc.Service)(nil)

// RouterOptions configures the checkout HTTP surface. Service is required;
// the webhook and health routes are only mounted when provided.
type RouterOptions struct {
	Service  Service
	Webhooks processor.WebhookParser
	Health   http.Handler
	Logger   *slog.Logger
}

// Router creates the checkout API router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/", checkout.Router(checkout.RouterOptions{
//	    Service:  svc,
//	    Webhooks: stripeClient,
//	    Health:   httpserver.HealthCheckHandler(log, time.Second, checks...),
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("checkout: service is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{
		svc:    opts.Service,
		hooks:  opts.Webhooks,
		log:    log,
		errors: handler.NewErrorHandler(log, Classify),
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)

	r.Route("/checkout-intents", func(r chi.Router) {
		r.Post("/", wrap(h, h.create, pathBinder, headerBinder, jsonBinder))
		r.Get("/{id}", wrap(h, h.get, pathBinder, headerBinder))
		r.Post("/{id}/confirm", wrap(h, h.confirm, pathBinder, headerBinder, jsonBinder))
		r.Post("/{id}/resolve-challenge", wrap(h, h.resolveChallenge, pathBinder, headerBinder))
	})
	if opts.Webhooks != nil {
		r.Post("/webhooks/processor", wrap(h, h.webhook, headerBinder))
	}
	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
	}
	return r
}
