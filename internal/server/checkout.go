package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	paymentservice "github.com/cursolabs/cursopay/internal/payment/service"
	"github.com/gin-gonic/gin"
)

type createCheckoutRequest struct {
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	BillingCycleID string `json:"billing_cycle_id"`
	Currency       string `json:"currency,omitempty"`
	Recurring      bool   `json:"recurring,omitempty"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_id", "invalid user_id"))
		return
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_id", "invalid plan_id"))
		return
	}
	cycleID, err := snowflake.ParseString(strings.TrimSpace(req.BillingCycleID))
	if err != nil {
		AbortWithError(c, newValidationError("billing_cycle_id", "invalid_id", "invalid billing_cycle_id"))
		return
	}

	resp, err := s.checkoutSvc.CreateCheckout(c.Request.Context(), paymentservice.CreateCheckoutRequest{
		UserID:         userID,
		PlanID:         planID,
		BillingCycleID: cycleID,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Provider:       c.Param("provider"),
		Recurring:      req.Recurring,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, resp)
}
