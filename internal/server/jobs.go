package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"go.uber.org/zap"
)

type createJobRequest struct {
	SourceURL            string `json:"source_url" binding:"required,url"`
	PresetID             string `json:"preset_id"`
	EstimatedMinutes     int64  `json:"estimated_minutes" binding:"gte=0"`
	EstimatedEgressBytes int64  `json:"estimated_egress_bytes" binding:"gte=0"`
}

type jobResponse struct {
	pipelinedomain.Bundle
	Replay bool `json:"replay,omitempty"`
}

// CreateJob replays a recent identical request, otherwise gates the tenant's
// declared consumption plus one job unit and fans the request out into
// pipeline steps. A failed fan-out releases the charge so retries of the
// same request are not counted twice.
func (s *Server) CreateJob(c *gin.Context) {
	tenantID, ok := tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createJobRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	pipelineReq := pipelinedomain.CreateRequest{
		SourceURL: strings.TrimSpace(req.SourceURL),
		PresetID:  strings.TrimSpace(req.PresetID),
	}

	bundle, replay, err := s.pipelineSvc.Replay(ctx, tenantID, pipelineReq)
	switch {
	case errors.Is(err, pipelinedomain.ErrInvalidSourceURL):
		AbortWithError(c, err)
		return
	case err != nil:
		s.log.Warn("idempotency lookup failed, continuing without replay",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	case replay:
		c.JSON(http.StatusOK, jobResponse{Bundle: *bundle, Replay: true})
		return
	}

	snapshot, err := s.tenantSvc.Snapshot(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !snapshot.Usable(s.clock.Now()) {
		AbortWithError(c, ErrPaymentRequired)
		return
	}

	charge := usagedomain.Deltas{
		Minutes:     req.EstimatedMinutes,
		Jobs:        1,
		EgressBytes: req.EstimatedEgressBytes,
	}
	gate, err := s.usageSvc.IncrementAndGate(ctx, tenantID, charge)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if gate.Blocked {
		AbortWithError(c, &UsageBlockedError{Reason: gate.Reason})
		return
	}

	pipelineReq.JobUnitCharged = true
	result, err := s.pipelineSvc.CreateJob(ctx, tenantID, pipelineReq)
	if err != nil {
		s.releaseCharge(ctx, tenantID, gate, charge)
		AbortWithError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Replay {
		// A concurrent identical request created the bundle first.
		s.releaseCharge(ctx, tenantID, gate, charge)
		status = http.StatusOK
	}
	c.JSON(status, jobResponse{Bundle: result.Bundle, Replay: result.Replay})
}

// releaseCharge takes back a gate charge for a job that was never created.
// It runs detached from the request so a client disconnect cannot skip it.
func (s *Server) releaseCharge(ctx context.Context, tenantID snowflake.ID, gate usagedomain.GateResult, charge usagedomain.Deltas) {
	if err := s.usageSvc.Release(context.WithoutCancel(ctx), tenantID, gate.PeriodStart, charge); err != nil {
		s.log.Error("release usage charge failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("minutes", charge.Minutes),
			zap.Int64("egress_bytes", charge.EgressBytes),
			zap.Error(err),
		)
	}
}

func (s *Server) GetJob(c *gin.Context) {
	tenantID, ok := tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	bundleID := strings.TrimSpace(c.Param("id"))
	if bundleID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	status, err := s.pipelineSvc.GetStatus(c.Request.Context(), tenantID, bundleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
