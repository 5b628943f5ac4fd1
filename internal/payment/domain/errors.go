package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderConfig means credentials are absent or partial. Fatal for
	// the provider until configuration is fixed; never retryable by the payer.
	ErrProviderConfig = errors.New("payment provider not configured")

	ErrProviderNotFound = errors.New("unknown payment provider")

	// ErrPaymentNotAuthorized means the provider declined or has not yet
	// approved the charge. The subscription stays unconfirmed.
	ErrPaymentNotAuthorized = errors.New("payment not authorized by provider")

	// ErrAmountMismatch is an integrity failure: the provider-confirmed
	// amount differs from the subscription snapshot beyond tolerance.
	// Never auto-resolved.
	ErrAmountMismatch = errors.New("payment amount does not match subscription amount")
)

// ProviderRequestError carries the remote rejection so callers can surface
// the provider's own detail. The payer may retry checkout.
type ProviderRequestError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderRequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsProviderRequestError reports whether err is a remote rejection from any
// provider.
func IsProviderRequestError(err error) bool {
	var pre *ProviderRequestError
	return errors.As(err, &pre)
}
