package server

import (
	"errors"
	"net/http"

	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	"github.com/gin-gonic/gin"
)

type apiError struct {
	status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

func newValidationError(field, code, message string) error {
	return &apiError{status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

func invalidRequestError() error {
	return &apiError{status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

// AbortWithError translates domain errors into HTTP responses. Unmapped errors
// surface as opaque 500s so internals never leak to the client.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.status, gin.H{"error": apiErr})
		return
	}

	var reqErr *paymentdomain.ProviderRequestError
	if errors.As(err, &reqErr) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{
			"code":     "provider_unavailable",
			"message":  "payment provider request failed",
			"provider": reqErr.Provider,
		}})
		return
	}

	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrPaymentNotFound),
		errors.Is(err, catalogdomain.ErrPlanNotFound),
		errors.Is(err, catalogdomain.ErrBillingCycleNotFound),
		errors.Is(err, catalogdomain.ErrPriceNotFound),
		errors.Is(err, userdomain.ErrUserNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, subscriptiondomain.ErrActiveSubscriptionExists):
		return http.StatusConflict, "active_subscription_exists"

	case errors.Is(err, paymentdomain.ErrAmountMismatch):
		return http.StatusConflict, "amount_mismatch"

	case errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"

	case errors.Is(err, paymentdomain.ErrPaymentNotAuthorized):
		return http.StatusPaymentRequired, "payment_not_authorized"

	case errors.Is(err, subscriptiondomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, subscriptiondomain.ErrInvalidUser):
		return http.StatusBadRequest, "invalid_request"

	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
