package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"
)

type stripeStub struct {
	mu       sync.Mutex
	requests map[string]url.Values
}

func newStripeStub(t *testing.T) (*StripeClient, *stripeStub) {
	t.Helper()
	stub := &stripeStub{requests: make(map[string]url.Values)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		stub.mu.Lock()
		stub.requests[r.URL.Path] = r.PostForm
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents":
			_, _ = w.Write([]byte(`{"id":"pi_test_1","object":"payment_intent","status":"requires_capture"}`))
		case "/v1/payment_intents/pi_test_1/cancel":
			_, _ = w.Write([]byte(`{"id":"pi_test_1","object":"payment_intent","status":"canceled"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeClient("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend}), stub
}

func TestStripeHoldUsesManualCapture(t *testing.T) {
	c, stub := newStripeStub(t)

	id, err := c.Hold(context.Background(), HoldRequest{
		Amount:   4500,
		Currency: "zar",
		Metadata: map[string]string{"reservation_token": "tok-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_test_1", id)

	form := stub.requests["/v1/payment_intents"]
	assert.Equal(t, "4500", form.Get("amount"))
	assert.Equal(t, "zar", form.Get("currency"))
	assert.Equal(t, "manual", form.Get("capture_method"))
	assert.Equal(t, "tok-1", form.Get("metadata[reservation_token]"))
}

func TestStripeCancel(t *testing.T) {
	c, stub := newStripeStub(t)

	require.NoError(t, c.Cancel(context.Background(), "pi_test_1"))
	_, called := stub.requests["/v1/payment_intents/pi_test_1/cancel"]
	assert.True(t, called)

	assert.Error(t, c.Cancel(context.Background(), "pi_missing"))
}
