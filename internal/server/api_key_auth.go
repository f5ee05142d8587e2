package server

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	obscontext "github.com/smallbiznis/accessflow/internal/observability/context"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey     = "X-API-Key"
	HeaderAdminToken = "X-Admin-Token"

	contextTenantIDKey = "tenant_id"
)

// APIKeyRequired authenticates requests by API key. Tenant identity is
// derived solely from the key; any tenant id sent by the client is ignored.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := apiKeyFromRequest(c)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tenantID, err := s.apiKeySvc.Resolve(c.Request.Context(), raw)
		if err != nil {
			if errors.Is(err, apikeydomain.ErrInvalidKey) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			s.log.Error("api key lookup failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantIDKey, tenantID)
		c.Next()
	}
}

// AdminTokenRequired guards internal routes. With no admin token configured
// the routes do not exist.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.AdminToken)
		if expected == "" {
			AbortWithError(c, ErrNotFound)
			return
		}

		got := strings.TrimSpace(c.GetHeader(HeaderAdminToken))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return key
	}

	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func tenantIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	v, ok := c.Get(contextTenantIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(snowflake.ID)
	return id, ok && id != 0
}
