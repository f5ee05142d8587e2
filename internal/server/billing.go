package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this.
const maxWebhookBodyBytes = 1 << 20

type subscribeRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// HandleBillingWebhook verifies a provider delivery and applies it to the
// tenant's subscription state. Ignored types are acknowledged. A payment
// event for a customer no tenant is linked to yet answers 409 so the
// provider redelivers it once checkout has provisioned the tenant; other
// events for unknown customers are acknowledged.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	providerName := strings.TrimSpace(c.Param("provider"))
	provider, err := s.billing.Get(providerName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	event, err := provider.ParseWebhook(ctx, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, billingdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		s.log.Warn("webhook rejected",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	if _, err := s.subscriptionSvc.Apply(ctx, *event); err != nil {
		if errors.Is(err, tenantdomain.ErrTenantNotFound) {
			if retryUnknownCustomer(event.Type) {
				s.log.Warn("payment event for unlinked customer, asking for redelivery",
					zap.String("provider", providerName),
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
				)
				AbortWithError(c, fmt.Errorf("%w: billing customer not linked to a tenant yet", ErrConflict))
				return
			}
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// retryUnknownCustomer reports whether an event for an unknown customer can
// still land on a tenant. Invoices may arrive before the checkout event that
// provisions the tenant.
func retryUnknownCustomer(t subscriptiondomain.EventType) bool {
	return t == subscriptiondomain.EventPaymentSucceeded || t == subscriptiondomain.EventPaymentFailed
}

// Subscribe starts a hosted checkout for the authenticated tenant.
func (s *Server) Subscribe(c *gin.Context) {
	tenantID, ok := tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req subscribeRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.subscriptionSvc.Subscribe(c.Request.Context(), tenantID, req.Plan)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}
