package checkout_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/handler"
	"github.com/dmitrymomot/checkout/modules/checkout"
	"github.com/dmitrymomot/checkout/pkg/retry"
	checkoutsvc "github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

var basicPlan = plan.Plan{
	ID:          "basic",
	Name:        "Basic",
	Price:       plan.Money{Amount: 2500, Currency: "USD"},
	Downpayment: plan.Money{Amount: 5000, Currency: "USD"},
	PriceRef:    "price_basic",
	Public:      true,
}

type fakeParser struct {
	ev  processor.WebhookEvent
	err error
}

func (p fakeParser) ParseWebhook(payload []byte, signature string) (processor.WebhookEvent, error) {
	if signature != "t=1,v1=ok" {
		return processor.WebhookEvent{}, processor.ErrInvalidSignature
	}
	return p.ev, p.err
}

type env struct {
	srv  http.Handler
	svc  *checkoutsvc.Service
	proc *processor.Sandbox
}

func newEnv(t *testing.T, parser processor.WebhookParser) *env {
	t.Helper()
	catalog, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(basicPlan))
	require.NoError(t, err)

	store := checkoutsvc.NewMemoryStore()
	proc := processor.NewSandbox()
	subs := provisioner.New(provisioner.NewMemoryStore(), provisioner.NewSandboxBilling())
	svc := checkoutsvc.NewService(store, proc, subs, catalog, checkoutsvc.NewRecorder(store),
		checkoutsvc.WithBackoff(retry.FixedBackoff{}),
	)

	opts := checkout.RouterOptions{
		Service: svc,
		Health:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	}
	if parser != nil {
		opts.Webhooks = parser
	}
	return &env{srv: checkout.Router(opts), svc: svc, proc: proc}
}

type call struct {
	method  string
	path    string
	body    string
	headers map[string]string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(c.method, c.path, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(c.method, c.path, nil)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func (e *env) create(t *testing.T, key string) checkoutsvc.Snapshot {
	t.Helper()
	w := e.do(t, call{
		method:  http.MethodPost,
		path:    "/checkout-intents",
		body:    `{"target_plan_id":"basic"}`,
		headers: map[string]string{"Idempotency-Key": key, "X-Buyer-ID": "buyer_1"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[checkoutsvc.Snapshot](t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("created and replayed", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0001")
		assert.Equal(t, "ci_http_0001", snap.ID)
		assert.Equal(t, checkoutsvc.StateAwaitingProcessorIntent, snap.State)
		assert.Equal(t, int64(5000), snap.AmountDueToday)

		again := e.create(t, "ci_http_0001")
		assert.Equal(t, snap.ID, again.ID)
		assert.Equal(t, 1, e.proc.Calls(processor.OpCreate))
	})

	tests := []struct {
		name       string
		c          call
		wantStatus int
		wantKind   string
	}{
		{
			name:       "missing buyer",
			c:          call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"basic"}`, headers: map[string]string{"Idempotency-Key": "ci_http_0002"}},
			wantStatus: http.StatusUnauthorized,
			wantKind:   "missing_buyer",
		},
		{
			name:       "missing idempotency key",
			c:          call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"basic"}`, headers: map[string]string{"X-Buyer-ID": "buyer_1"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "validation_error",
		},
		{
			name:       "unknown plan",
			c:          call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"gold"}`, headers: map[string]string{"Idempotency-Key": "ci_http_0003", "X-Buyer-ID": "buyer_1"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "validation_error",
		},
		{
			name:       "client supplied amount is rejected",
			c:          call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"basic","amount":1}`, headers: map[string]string{"Idempotency-Key": "ci_http_0004", "X-Buyer-ID": "buyer_1"}},
			wantStatus: http.StatusBadRequest,
			wantKind:   "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := newEnv(t, nil).do(t, tt.c)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, decode[handler.ErrorBody](t, w).Kind)
		})
	}

	t.Run("validation details name client fields", func(t *testing.T) {
		t.Parallel()
		w := newEnv(t, nil).do(t, call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"basic"}`, headers: map[string]string{"X-Buyer-ID": "buyer_1", "Idempotency-Key": "short"}})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode[handler.ErrorBody](t, w)
		assert.Equal(t, []string{"min=8"}, body.Details["Idempotency-Key"])
	})

	t.Run("key reused for another plan conflicts", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		e.create(t, "ci_http_0005")
		w := e.do(t, call{method: http.MethodPost, path: "/checkout-intents", body: `{"target_plan_id":"basic"}`, headers: map[string]string{"Idempotency-Key": "ci_http_0005", "X-Buyer-ID": "buyer_2"}})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestConfirmEndpoint(t *testing.T) {
	t.Parallel()

	confirm := func(id, key, method string) call {
		return call{
			method:  http.MethodPost,
			path:    "/checkout-intents/" + id + "/confirm",
			body:    `{"payment_method":"` + method + `"}`,
			headers: map[string]string{"Idempotency-Key": key},
		}
	}

	t.Run("succeeds", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0101")

		w := e.do(t, confirm(snap.ID, snap.ID, processor.TestCardVisa))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[checkoutsvc.Snapshot](t, w)
		assert.Equal(t, checkoutsvc.StateSucceeded, got.State)
		require.NotNil(t, got.Authorization)
		assert.Equal(t, int64(5000), got.Authorization.CapturedAmount)
		require.NotNil(t, got.Subscription)
		assert.Equal(t, "basic", got.Subscription.PlanID)

		w = e.do(t, call{method: http.MethodGet, path: "/checkout-intents/" + snap.ID})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, checkoutsvc.StateSucceeded, decode[checkoutsvc.Snapshot](t, w).State)
	})

	t.Run("declined carries the intent", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0102")

		w := e.do(t, confirm(snap.ID, snap.ID, processor.TestCardDeclined))
		require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
		body := decode[checkout.IntentError](t, w)
		assert.Equal(t, "processor_declined", body.Kind)
		require.NotNil(t, body.Intent)
		assert.Equal(t, checkoutsvc.StateFailed, body.Intent.State)
	})

	t.Run("key must equal id", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0103")

		w := e.do(t, confirm(snap.ID, "ci_other_key", processor.TestCardVisa))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode[handler.ErrorBody](t, w)
		assert.Equal(t, "validation_error", body.Kind)
		assert.Contains(t, body.Details, "Idempotency-Key")
		assert.Zero(t, e.proc.Calls(processor.OpConfirm))
	})

	t.Run("processor unavailable", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0104")
		e.proc.FailNext(processor.OpConfirm, processor.ErrUnavailable, processor.ErrUnavailable, processor.ErrUnavailable)

		w := e.do(t, confirm(snap.ID, snap.ID, processor.TestCardVisa))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
		body := decode[handler.ErrorBody](t, w)
		assert.Equal(t, checkoutsvc.ErrProcessorUnavailable.Error(), body.Error)
	})

	t.Run("other buyers cannot see the intent", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0105")

		w := e.do(t, call{method: http.MethodGet, path: "/checkout-intents/" + snap.ID, headers: map[string]string{"X-Buyer-ID": "buyer_2"}})
		assert.Equal(t, http.StatusNotFound, w.Code)

		c := confirm(snap.ID, snap.ID, processor.TestCardVisa)
		c.headers["X-Buyer-ID"] = "buyer_2"
		assert.Equal(t, http.StatusNotFound, e.do(t, c).Code)
	})

	t.Run("unknown intent", func(t *testing.T) {
		t.Parallel()
		w := newEnv(t, nil).do(t, confirm("ci_missing_1", "ci_missing_1", processor.TestCardVisa))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decode[handler.ErrorBody](t, w).Kind)
	})
}

func TestResolveChallengeEndpoint(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	snap := e.create(t, "ci_http_0201")
	w := e.do(t, call{
		method:  http.MethodPost,
		path:    "/checkout-intents/" + snap.ID + "/confirm",
		body:    `{"payment_method":"` + processor.TestCardThreeDSecure + `"}`,
		headers: map[string]string{"Idempotency-Key": snap.ID},
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[checkoutsvc.Snapshot](t, w)
	require.Equal(t, checkoutsvc.StatePaymentAuthChallenge, got.State)
	assert.NotEmpty(t, got.ChallengeRef)

	resolve := call{method: http.MethodPost, path: "/checkout-intents/" + snap.ID + "/resolve-challenge", headers: map[string]string{"Idempotency-Key": snap.ID}}
	w = e.do(t, resolve)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, checkoutsvc.StateSucceeded, decode[checkoutsvc.Snapshot](t, w).State)

	// replays report the final state without resolving again
	w = e.do(t, resolve)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, checkoutsvc.StateSucceeded, decode[checkoutsvc.Snapshot](t, w).State)
	assert.Equal(t, 1, e.proc.Calls(processor.OpResolve))

	t.Run("nothing pending", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, nil)
		snap := e.create(t, "ci_http_0202")
		w := e.do(t, call{method: http.MethodPost, path: "/checkout-intents/" + snap.ID + "/resolve-challenge", headers: map[string]string{"Idempotency-Key": snap.ID}})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "validation_error", decode[handler.ErrorBody](t, w).Kind)
	})
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	post := func(e *env, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", sig)
		w := httptest.NewRecorder()
		e.srv.ServeHTTP(w, req)
		return w
	}

	t.Run("resolves the referenced challenge", func(t *testing.T) {
		t.Parallel()
		parser := &fakeParser{}
		e := newEnv(t, parser)
		snap := e.create(t, "ci_http_0301")
		got, err := e.svc.Confirm(context.Background(), snap.ID, checkoutsvc.ConfirmRequest{PaymentMethod: processor.TestCardThreeDSecure})
		require.NoError(t, err)
		require.Equal(t, checkoutsvc.StatePaymentAuthChallenge, got.State)

		parser.ev = processor.WebhookEvent{
			ID:               "evt_1",
			Type:             "payment_intent.succeeded",
			IntentRef:        got.ProcessorIntentRef,
			CheckoutIntentID: snap.ID,
			Outcome:          processor.Outcome{Status: processor.StatusSucceeded},
		}
		w := post(e, "t=1,v1=ok")
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

		after, err := e.svc.Get(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.Equal(t, checkoutsvc.StateSucceeded, after.State)

		// redelivery is acknowledged without another processor call
		assert.Equal(t, http.StatusNoContent, post(e, "t=1,v1=ok").Code)
		assert.Equal(t, 1, e.proc.Calls(processor.OpResolve))
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		w := post(newEnv(t, &fakeParser{}), "t=1,v1=forged")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_webhook", decode[handler.ErrorBody](t, w).Kind)
	})

	t.Run("unsupported and unrouted events are acknowledged", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusNoContent, post(newEnv(t, &fakeParser{err: processor.ErrUnsupportedEvent}), "t=1,v1=ok").Code)
		assert.Equal(t, http.StatusNoContent, post(newEnv(t, &fakeParser{ev: processor.WebhookEvent{ID: "evt_2"}}), "t=1,v1=ok").Code)
	})

	t.Run("unknown intent is acknowledged", func(t *testing.T) {
		t.Parallel()
		parser := &fakeParser{ev: processor.WebhookEvent{ID: "evt_3", CheckoutIntentID: "ci_missing_2", Outcome: processor.Outcome{Status: processor.StatusSucceeded}}}
		assert.Equal(t, http.StatusNoContent, post(newEnv(t, parser), "t=1,v1=ok").Code)
	})

	t.Run("not mounted without a parser", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusNotFound, post(newEnv(t, nil), "t=1,v1=ok").Code)
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	w := newEnv(t, nil).do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		ok     bool
	}{
		{checkoutsvc.ErrProcessorDeclined, http.StatusPaymentRequired, true},
		{errors.Join(checkoutsvc.ErrProcessorUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable, true},
		{checkoutsvc.ErrAmbiguousOutcome, http.StatusServiceUnavailable, true},
		{checkoutsvc.ErrChallengeTimeout, http.StatusGone, true},
		{checkoutsvc.ErrConcurrentModification, http.StatusConflict, true},
		{provisioner.ErrSubscriptionConflict, http.StatusConflict, true},
		{checkoutsvc.ErrNotFound, http.StatusNotFound, true},
		{errors.New("boom"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			info, ok := checkout.Classify(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.status, info.StatusCode)
			if ok {
				assert.NotContains(t, info.Message, "dial tcp")
			}
		})
	}
}

func TestRouterPanicsWithoutService(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { checkout.Router(checkout.RouterOptions{}) })
}
