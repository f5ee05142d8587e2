package stripe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	"github.com/smallbiznis/accessflow/internal/config"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const secret = "whsec_test"

func newProvider(t *testing.T) *Provider {
	t.Helper()
	return New(config.Config{Stripe: config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: secret,
		PricePro:      "price_pro",
		SuccessURL:    "https://app.test/ok",
		CancelURL:     "https://app.test/cancel",
	}}, zap.NewNop())
}

func signed(t *testing.T, event map[string]any, key string) ([]byte, http.Header) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    key,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", sp.Header)
	return payload, h
}

func event(id, typ string, object map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     1767225600,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	}
}

func TestParseWebhookMapsEvents(t *testing.T) {
	p := newProvider(t)

	tests := []struct {
		name   string
		event  map[string]any
		want   subscriptiondomain.EventType
		assert func(t *testing.T, ev *subscriptiondomain.Event)
	}{
		{
			name:  "invoice payment succeeded",
			event: event("evt_1", "invoice.payment_succeeded", map[string]any{"id": "in_1", "customer": "cus_1", "subscription": "sub_1"}),
			want:  subscriptiondomain.EventPaymentSucceeded,
			assert: func(t *testing.T, ev *subscriptiondomain.Event) {
				assert.Equal(t, "cus_1", ev.CustomerID)
				assert.Equal(t, "sub_1", ev.SubscriptionID)
			},
		},
		{
			name: "invoice paid with parent subscription",
			event: event("evt_2", "invoice.paid", map[string]any{
				"id": "in_2", "customer": "cus_2",
				"parent": map[string]any{"subscription_details": map[string]any{"subscription": "sub_2"}},
			}),
			want: subscriptiondomain.EventPaymentSucceeded,
			assert: func(t *testing.T, ev *subscriptiondomain.Event) {
				assert.Equal(t, "sub_2", ev.SubscriptionID)
			},
		},
		{
			name:  "invoice payment failed",
			event: event("evt_3", "invoice.payment_failed", map[string]any{"id": "in_3", "customer": "cus_3"}),
			want:  subscriptiondomain.EventPaymentFailed,
		},
		{
			name: "subscription updated",
			event: event("evt_4", "customer.subscription.updated", map[string]any{
				"id": "sub_4", "customer": "cus_4", "status": "trialing",
				"items": map[string]any{"data": []any{map[string]any{
					"current_period_end": 1769904000,
					"price":              map[string]any{"id": "price_pro"},
				}}},
			}),
			want: subscriptiondomain.EventSubscriptionUpdated,
			assert: func(t *testing.T, ev *subscriptiondomain.Event) {
				assert.Equal(t, "trialing", ev.ProviderStatus)
				assert.Equal(t, string(tenantdomain.PlanPro), ev.Plan)
				require.NotNil(t, ev.PeriodEnd)
				assert.Equal(t, int64(1769904000), ev.PeriodEnd.Unix())
			},
		},
		{
			name:  "subscription deleted",
			event: event("evt_5", "customer.subscription.deleted", map[string]any{"id": "sub_5", "customer": "cus_5", "status": "canceled"}),
			want:  subscriptiondomain.EventSubscriptionDeleted,
		},
		{
			name: "checkout completed",
			event: event("evt_6", "checkout.session.completed", map[string]any{
				"id": "cs_6", "customer": "cus_6", "subscription": "sub_6",
				"metadata":         map[string]any{"plan": "pro"},
				"customer_details": map[string]any{"email": "ops@acme.test", "name": "Acme"},
			}),
			want: subscriptiondomain.EventCheckoutCompleted,
			assert: func(t *testing.T, ev *subscriptiondomain.Event) {
				assert.Equal(t, "ops@acme.test", ev.Email)
				assert.Equal(t, "Acme", ev.Name)
				assert.Equal(t, "pro", ev.Plan)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, headers := signed(t, tt.event, secret)
			ev, err := p.ParseWebhook(context.Background(), payload, headers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, "stripe", ev.Provider)
			assert.Equal(t, tt.event["id"], ev.ID)
			if tt.assert != nil {
				tt.assert(t, ev)
			}
		})
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	p := newProvider(t)
	payload, headers := signed(t, event("evt_1", "invoice.paid", map[string]any{"customer": "cus_1"}), "whsec_other")

	_, err := p.ParseWebhook(context.Background(), payload, headers)
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSignature)

	_, err = p.ParseWebhook(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSignature)
}

func TestParseWebhookIgnoresUnknownTypes(t *testing.T) {
	p := newProvider(t)
	payload, headers := signed(t, event("evt_1", "customer.created", map[string]any{"id": "cus_1"}), secret)

	_, err := p.ParseWebhook(context.Background(), payload, headers)
	assert.ErrorIs(t, err, billingdomain.ErrEventIgnored)
}

func TestParseWebhookUnconfigured(t *testing.T) {
	p := New(config.Config{}, zap.NewNop())
	_, err := p.ParseWebhook(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, billingdomain.ErrProviderUnconfigured)
}

func TestCreateCheckoutErrors(t *testing.T) {
	p := newProvider(t)
	_, err := p.CreateCheckout(context.Background(), billingdomain.CheckoutRequest{TenantID: 1, Plan: tenantdomain.PlanStandard})
	assert.ErrorIs(t, err, billingdomain.ErrPricingUnset)

	unconfigured := New(config.Config{}, zap.NewNop())
	_, err = unconfigured.CreateCheckout(context.Background(), billingdomain.CheckoutRequest{TenantID: 1, Plan: tenantdomain.PlanPro})
	assert.ErrorIs(t, err, billingdomain.ErrProviderUnconfigured)
}

func TestCreateCheckoutCallsStripe(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(srv.URL),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p := newProvider(t).WithBackend(backend)

	sess, err := p.CreateCheckout(context.Background(), billingdomain.CheckoutRequest{
		TenantID: 42, Email: "ops@acme.test", Plan: tenantdomain.PlanPro,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", sess.CheckoutURL)

	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "price_pro", form.Get("line_items[0][price]"))
	assert.Equal(t, "42", form.Get("client_reference_id"))
	assert.Equal(t, "ops@acme.test", form.Get("customer_email"))
	assert.Equal(t, "pro", form.Get("metadata[plan]"))
}
