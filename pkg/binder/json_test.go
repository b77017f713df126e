package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/binder"
)

type confirmBody struct {
	PaymentMethod string   `json:"payment_method"`
	Tags          []string `json:"tags"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     error
		want        confirmBody
	}{
		{
			name:        "valid body",
			contentType: "application/json",
			body:        `{"payment_method":"pm_card_visa"}`,
			want:        confirmBody{PaymentMethod: "pm_card_visa"},
		},
		{
			name:        "charset parameter",
			contentType: "application/json; charset=utf-8",
			body:        `{"payment_method":"pm_card_visa"}`,
			want:        confirmBody{PaymentMethod: "pm_card_visa"},
		},
		{
			name:        "strings are sanitized",
			contentType: "application/json",
			body:        `{"payment_method":"  pm_card_visa\u0000 ","tags":[" a "]}`,
			want:        confirmBody{PaymentMethod: "pm_card_visa", Tags: []string{"a"}},
		},
		{
			name:    "missing content type with body",
			body:    `{"payment_method":"pm"}`,
			wantErr: binder.ErrMissingContentType,
		},
		{
			name:        "wrong content type",
			contentType: "text/plain",
			body:        `{"payment_method":"pm"}`,
			wantErr:     binder.ErrUnsupportedMediaType,
		},
		{
			name:        "unknown field",
			contentType: "application/json",
			body:        `{"payment_method":"pm","amount":1}`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
		{
			name:        "malformed",
			contentType: "application/json",
			body:        `{"payment_method":`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
		{
			name:        "empty body with content type",
			contentType: "application/json",
			body:        "",
			wantErr:     binder.ErrFailedToParseJSON,
		},
		{
			name:        "trailing data",
			contentType: "application/json",
			body:        `{"payment_method":"pm"}{"x":1}`,
			wantErr:     binder.ErrFailedToParseJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			var got confirmBody
			err := binder.JSON()(req, &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONNotApplicable(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	var got confirmBody
	assert.ErrorIs(t, binder.JSON()(req, &got), binder.ErrBinderNotApplicable)
}

func TestJSONTooLarge(t *testing.T) {
	t.Parallel()

	body := `{"payment_method":"` + strings.Repeat("x", binder.DefaultMaxJSONSize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	var got confirmBody
	err := binder.JSON()(req, &got)
	require.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	assert.Contains(t, err.Error(), "too large")
}
