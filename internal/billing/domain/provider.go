// Package domain declares the billing provider contract.
package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
)

// DefaultProvider handles checkout when the caller does not name one.
const DefaultProvider = "stripe"

var (
	ErrProviderNotFound     = errors.New("billing_provider_not_found")
	ErrProviderUnconfigured = errors.New("billing_provider_unconfigured")
	ErrPricingUnset         = errors.New("billing_pricing_unset")
	ErrInvalidSignature     = errors.New("invalid_webhook_signature")
	ErrInvalidPayload       = errors.New("invalid_webhook_payload")
	ErrEventIgnored         = errors.New("webhook_event_ignored")
)

type CheckoutRequest struct {
	TenantID   snowflake.ID
	Email      string
	CustomerID string
	Plan       tenantdomain.Plan
}

type Provider interface {
	Name() string
	// ParseWebhook verifies and maps a raw delivery. Event types without a
	// transition return ErrEventIgnored.
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*subscriptiondomain.Event, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*subscriptiondomain.CheckoutSession, error)
}

