package alert_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/alert"
)

func partialFailure() alert.Alert {
	return alert.Alert{
		Severity: alert.SeverityCritical,
		Subject:  "Payment captured but subscription missing",
		IntentID: "ci_123",
		BuyerID:  "buyer_1",
		State:    "partial_failure",
		Amount:   3000,
		Currency: "USD",
		Details:  map[string]string{"reason": "provisioner unavailable", "attempts": "3"},
	}
}

func TestAlertText(t *testing.T) {
	t.Parallel()

	a := partialFailure()
	text := a.Text()
	assert.Contains(t, text, "intent:   ci_123")
	assert.Contains(t, text, "amount:   3000 USD")
	assert.Less(t, bytes.Index([]byte(text), []byte("attempts:")), bytes.Index([]byte(text), []byte("reason:")))
	assert.Equal(t, "checkout-partial-failure", a.Tag())
}

func TestAlertValidate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, alert.Alert{IntentID: "ci_1"}.Validate(), alert.ErrInvalidAlert)
	assert.ErrorIs(t, alert.Alert{Subject: "x"}.Validate(), alert.ErrInvalidAlert)
	assert.NoError(t, partialFailure().Validate())
}

func TestNewPostmarkNotifierConfig(t *testing.T) {
	t.Parallel()

	valid := alert.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "alerts@example.com",
		Recipients:          []string{"ops@example.com"},
	}

	tests := []struct {
		name   string
		mutate func(*alert.Config)
	}{
		{"missing token", func(c *alert.Config) { c.PostmarkServerToken = "" }},
		{"bad sender", func(c *alert.Config) { c.SenderEmail = "not-an-email" }},
		{"no recipients", func(c *alert.Config) { c.Recipients = nil }},
		{"bad recipient", func(c *alert.Config) { c.Recipients = []string{"ops"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			n, err := alert.NewPostmarkNotifier(cfg)
			assert.ErrorIs(t, err, alert.ErrInvalidConfig)
			assert.Nil(t, n)
		})
	}

	n, err := alert.NewPostmarkNotifier(valid)
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestPostmarkNotifierNotify(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"ops@example.com","SubmittedAt":"2026-01-01T00:00:00Z","MessageID":"m1","ErrorCode":0,"Message":"OK"}`))
	}))
	t.Cleanup(srv.Close)

	n, err := alert.NewPostmarkNotifier(alert.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "alerts@example.com",
		Recipients:          []string{"ops@example.com", "billing@example.com"},
	}, alert.WithBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), partialFailure()))
	assert.Equal(t, "ops@example.com,billing@example.com", got["To"])
	assert.Equal(t, "[critical] Payment captured but subscription missing", got["Subject"])
	assert.Equal(t, "checkout-partial-failure", got["Tag"])
}

func TestPostmarkNotifierProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	t.Cleanup(srv.Close)

	n, err := alert.NewPostmarkNotifier(alert.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "alerts@example.com",
		Recipients:          []string{"ops@example.com"},
	}, alert.WithBaseURL(srv.URL))
	require.NoError(t, err)

	err = n.Notify(context.Background(), partialFailure())
	assert.ErrorIs(t, err, alert.ErrFailedToNotify)
	assert.Contains(t, err.Error(), "300")
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	n := alert.NewLogNotifier(slog.New(slog.NewJSONHandler(buf, nil)))
	require.NoError(t, n.Notify(context.Background(), partialFailure()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "ci_123", entry["intent_id"])
}

func TestNewPicksNotifier(t *testing.T) {
	t.Parallel()

	n, err := alert.New(alert.Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &alert.LogNotifier{}, n)

	n, err = alert.New(alert.Config{
		PostmarkServerToken: "t",
		SenderEmail:         "alerts@example.com",
		Recipients:          []string{"ops@example.com"},
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &alert.PostmarkNotifier{}, n)
}
