package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	"github.com/smallbiznis/accessflow/internal/config"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const (
	providerName    = "stripe"
	signatureHeader = "Stripe-Signature"
	metadataPlan    = "plan"
	metadataTenant  = "tenant_id"
)

type Provider struct {
	cfg     config.StripeConfig
	backend stripe.Backend
	log     *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Provider {
	sc := cfg.Stripe
	if sc.WebhookTolerance <= 0 {
		sc.WebhookTolerance = webhook.DefaultTolerance
	}
	return &Provider{
		cfg:     sc,
		backend: stripe.GetBackend(stripe.APIBackend),
		log:     log.Named("billing.stripe"),
	}
}

// WithBackend points API calls at b instead of the public Stripe API.
func (p *Provider) WithBackend(b stripe.Backend) *Provider {
	p.backend = b
	return p
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*subscriptiondomain.Event, error) {
	if !p.cfg.Configured() {
		return nil, billingdomain.ErrProviderUnconfigured
	}
	sig := strings.TrimSpace(headers.Get(signatureHeader))
	if sig == "" {
		return nil, billingdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) || errors.Is(err, webhook.ErrInvalidHeader) {
			return nil, billingdomain.ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", billingdomain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, billingdomain.ErrInvalidPayload
	}

	out := &subscriptiondomain.Event{
		ID:         event.ID,
		Provider:   providerName,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case "invoice.payment_succeeded", "invoice.paid":
		out.Type = subscriptiondomain.EventPaymentSucceeded
		err = p.fromInvoice(event.Data.Raw, out)
	case "invoice.payment_failed":
		out.Type = subscriptiondomain.EventPaymentFailed
		err = p.fromInvoice(event.Data.Raw, out)
	case "customer.subscription.deleted":
		out.Type = subscriptiondomain.EventSubscriptionDeleted
		err = p.fromSubscription(event.Data.Raw, out)
	case "customer.subscription.updated":
		out.Type = subscriptiondomain.EventSubscriptionUpdated
		err = p.fromSubscription(event.Data.Raw, out)
	case "checkout.session.completed":
		out.Type = subscriptiondomain.EventCheckoutCompleted
		err = p.fromCheckoutSession(event.Data.Raw, out)
	default:
		return nil, billingdomain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) CreateCheckout(ctx context.Context, req billingdomain.CheckoutRequest) (*subscriptiondomain.CheckoutSession, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, billingdomain.ErrProviderUnconfigured
	}
	price := p.priceFor(req.Plan)
	if price == "" {
		return nil, billingdomain.ErrPricingUnset
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.TenantID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataPlan:   string(req.Plan),
				metadataTenant: req.TenantID.String(),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataPlan, string(req.Plan))
	params.AddMetadata(metadataTenant, req.TenantID.String())
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	client := session.Client{B: p.backend, Key: p.cfg.SecretKey}
	sess, err := client.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout: %w", err)
	}
	return &subscriptiondomain.CheckoutSession{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

func (p *Provider) priceFor(plan tenantdomain.Plan) string {
	switch plan {
	case tenantdomain.PlanStandard:
		return p.cfg.PriceStandard
	case tenantdomain.PlanPro:
		return p.cfg.PricePro
	case tenantdomain.PlanEnterprise:
		return p.cfg.PriceEnterprise
	default:
		return ""
	}
}

func (p *Provider) planForPrice(price string) string {
	if price == "" {
		return ""
	}
	for _, plan := range []tenantdomain.Plan{tenantdomain.PlanStandard, tenantdomain.PlanPro, tenantdomain.PlanEnterprise} {
		if p.priceFor(plan) == price {
			return string(plan)
		}
	}
	return ""
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	CustomerEmail string `json:"customer_email"`
}

type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

func (p *Provider) fromInvoice(raw json.RawMessage, out *subscriptiondomain.Event) error {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return billingdomain.ErrInvalidPayload
	}
	out.CustomerID = strings.TrimSpace(inv.Customer)
	out.SubscriptionID = strings.TrimSpace(inv.Subscription)
	if out.SubscriptionID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = strings.TrimSpace(inv.Parent.SubscriptionDetails.Subscription)
	}
	out.Email = strings.TrimSpace(inv.CustomerEmail)
	if out.CustomerID == "" && out.SubscriptionID == "" {
		return billingdomain.ErrInvalidPayload
	}
	return nil
}

func (p *Provider) fromSubscription(raw json.RawMessage, out *subscriptiondomain.Event) error {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return billingdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return billingdomain.ErrInvalidPayload
	}
	out.SubscriptionID = strings.TrimSpace(sub.ID)
	out.CustomerID = strings.TrimSpace(sub.Customer)
	out.ProviderStatus = strings.ToLower(strings.TrimSpace(sub.Status))
	out.Plan = sub.Metadata[metadataPlan]

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
		if plan := p.planForPrice(item.Price.ID); plan != "" {
			out.Plan = plan
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return nil
}

func (p *Provider) fromCheckoutSession(raw json.RawMessage, out *subscriptiondomain.Event) error {
	var sess stripeCheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return billingdomain.ErrInvalidPayload
	}
	out.CustomerID = strings.TrimSpace(sess.Customer)
	out.SubscriptionID = strings.TrimSpace(sess.Subscription)
	out.ClientReference = strings.TrimSpace(sess.ClientReferenceID)
	out.Plan = sess.Metadata[metadataPlan]
	out.Email = strings.TrimSpace(sess.CustomerEmail)
	if sess.CustomerDetails != nil {
		if out.Email == "" {
			out.Email = strings.TrimSpace(sess.CustomerDetails.Email)
		}
		out.Name = strings.TrimSpace(sess.CustomerDetails.Name)
	}
	if out.CustomerID == "" && out.Email == "" && out.ClientReference == "" {
		return billingdomain.ErrInvalidPayload
	}
	return nil
}
