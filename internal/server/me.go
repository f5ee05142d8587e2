package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
)

type usageCaps struct {
	Minutes     int64 `json:"minutes"`
	Jobs        int64 `json:"jobs"`
	EgressBytes int64 `json:"egress_bytes"`
}

type usageResponse struct {
	PeriodStart time.Time `json:"period_start"`
	usagedomain.Usage
	Caps usageCaps `json:"caps"`
}

func (s *Server) GetUsage(c *gin.Context) {
	tenantID, ok := tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	snap, err := s.usageSvc.Current(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usageResponse{
		PeriodStart: snap.PeriodStart,
		Usage:       snap.Usage,
		Caps: usageCaps{
			Minutes:     snap.Caps.Minutes,
			Jobs:        snap.Caps.Jobs,
			EgressBytes: snap.Caps.EgressBytes,
		},
	})
}

func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, ok := tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	view, err := s.subscriptionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
