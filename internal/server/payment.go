package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cursolabs/cursopay/internal/payment/reconcile"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type validatePaymentRequest struct {
	Token          string `json:"token"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

func (s *Server) ValidatePayment(c *gin.Context) {
	var req validatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "missing_token", "token is required"))
		return
	}

	var subID *snowflake.ID
	if raw := strings.TrimSpace(req.SubscriptionID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("subscription_id", "invalid_id", "invalid subscription_id"))
			return
		}
		subID = &id
	}

	result, err := s.reconcileSvc.ValidatePayment(c.Request.Context(), reconcile.ValidateRequest{
		Provider:       c.Param("provider"),
		Token:          strings.TrimSpace(req.Token),
		SubscriptionID: subID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{
		"success":           true,
		"subscription_id":   result.SubscriptionID.String(),
		"already_processed": result.AlreadyProcessed,
	})
}

// PaymentReturn is the browser landing after provider checkout. Each provider
// names its token parameter differently; Webpay additionally posts it as a
// form field.
func (s *Server) PaymentReturn(c *gin.Context) {
	provider := c.Param("provider")
	token := returnToken(c, provider)
	if token == "" {
		AbortWithError(c, newValidationError("token", "missing_token", "missing provider token"))
		return
	}

	result, err := s.reconcileSvc.ValidatePayment(c.Request.Context(), reconcile.ValidateRequest{
		Provider: provider,
		Token:    token,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{
		"success":           true,
		"subscription_id":   result.SubscriptionID.String(),
		"already_processed": result.AlreadyProcessed,
	})
}

func (s *Server) PaymentCancelled(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": false, "reason": "cancelled_by_user"})
}

func returnToken(c *gin.Context, provider string) string {
	switch provider {
	case string(subscriptiondomain.ProviderWebpay):
		if token := c.Query("token_ws"); token != "" {
			return token
		}
		return c.PostForm("token_ws")
	case string(subscriptiondomain.ProviderPayPal):
		return c.Query("token")
	case string(subscriptiondomain.ProviderMercadoPago):
		if id := c.Query("payment_id"); id != "" {
			return id
		}
		return c.Query("collection_id")
	default:
		return ""
	}
}

// HandleWebhook acknowledges every delivery with 200 once it has been read;
// Mercado Pago retries on anything else and the seen-gate plus ledger
// constraints already make redeliveries harmless.
func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if err := s.webhookSvc.Handle(c.Request.Context(), payload); err != nil {
		s.log.Error("webhook processing failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
