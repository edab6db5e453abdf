package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
)

type entitlementResponse struct {
	Entitlement entdomain.Record `json:"entitlement"`
	Violations  []string         `json:"violations,omitempty"`
}

type reconcileRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Force          bool   `json:"force"`
}

// GetEntitlement serves the stored record after local expiry enforcement so
// a lapsed premium flag is never returned.
func (s *Server) GetEntitlement(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, entdomain.ErrInvalidUser)
		return
	}

	res, err := s.entitlements.EnforceExpiry(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := entitlementResponse{Entitlement: res.Record}
	if verify, _ := strconv.ParseBool(c.Query("verify")); verify {
		resp.Violations = s.verify(c, res.Record)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) verify(c *gin.Context, rec entdomain.Record) []string {
	violations := engine.CheckState(rec, s.clock.Now())
	if len(violations) == 0 {
		return nil
	}

	log := logger.WithContext(c.Request.Context(), s.log)
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		log.Error("entitlement invariant violated",
			zap.String("rule", string(v.Rule)),
			zap.String("detail", v.Detail),
		)
		s.metrics.IncViolation(string(v.Rule))
		out = append(out, v.String())
	}
	return out
}

func (s *Server) ReconcileEntitlement(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, entdomain.ErrInvalidUser)
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.entitlements.Reconcile(c.Request.Context(), entdomain.ReconcileRequest{
		UserID:         userID,
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		Force:          req.Force,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
