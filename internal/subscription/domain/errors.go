package domain

import "errors"

var (
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrActiveSubscriptionExists = errors.New("user already has an active subscription")
	ErrInvalidStatus            = errors.New("invalid subscription status")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrInvalidProvider          = errors.New("invalid payment provider")
	ErrInvalidUser              = errors.New("invalid user")
	ErrMissingLink              = errors.New("subscription has no provider link")
)

func ParseProvider(value string) (Provider, error) {
	switch Provider(value) {
	case ProviderWebpay, ProviderMercadoPago, ProviderPayPal:
		return Provider(value), nil
	default:
		return "", ErrInvalidProvider
	}
}
