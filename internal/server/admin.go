package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	"go.uber.org/zap"
)

type provisionResponse struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Email  *string           `json:"email"`
	Plan   tenantdomain.Plan `json:"plan"`
	Active bool              `json:"active"`
	APIKey string            `json:"api_key"`
}

// ProvisionTenant creates an active tenant and returns its first API key.
// The raw key is only ever shown in this response.
func (s *Server) ProvisionTenant(c *gin.Context) {
	var req tenantdomain.ProvisionRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.tenantSvc.Provision(c.Request.Context(), nil, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("tenant provisioned",
		zap.String("tenant_id", result.Tenant.ID.String()),
		zap.String("plan", string(result.Tenant.Plan)),
	)

	c.JSON(http.StatusCreated, provisionResponse{
		ID:     result.Tenant.ID.String(),
		Name:   result.Tenant.Name,
		Email:  result.Tenant.Email,
		Plan:   result.Tenant.Plan,
		Active: result.Tenant.Active,
		APIKey: result.APIKey,
	})
}

// ListAuditLogs returns a tenant's audit trail, newest first. Paging is by
// the created_at of the last entry seen, passed back as before.
func (s *Server) ListAuditLogs(c *gin.Context) {
	if s.audit == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	tenantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || tenantID == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	req := auditdomain.ListRequest{
		TenantID: tenantID,
		Action:   strings.TrimSpace(c.Query("action")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "must be a non-negative integer"))
			return
		}
		req.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			AbortWithError(c, newValidationError("before", "invalid_before", "must be an RFC 3339 timestamp"))
			return
		}
		req.Before = &before
	}

	logs, err := s.audit.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}
