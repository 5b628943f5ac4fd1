package domain

type Status string

const (
	// StatusPendingPayment is the pre-confirmation placeholder: the checkout
	// exists locally but no provider has confirmed a charge yet. Kept distinct
	// from StatusPaymentFailed, which only describes a previously active
	// subscription whose renewal charge was declined.
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusActive         Status = "ACTIVE"
	StatusPaused         Status = "PAUSED"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
)

func IsValidStatus(status Status) bool {
	switch status {
	case StatusPendingPayment, StatusActive, StatusPaused,
		StatusCancelled, StatusExpired, StatusPaymentFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition may leave the status.
// Reactivation after cancellation requires a new subscription.
func IsTerminal(status Status) bool {
	return status == StatusCancelled || status == StatusExpired
}

func IsTransitionAllowed(current, target Status) bool {
	if current == target {
		return true
	}
	switch current {
	case StatusPendingPayment:
		return target == StatusActive || target == StatusCancelled
	case StatusActive:
		return target == StatusPaused || target == StatusCancelled ||
			target == StatusPaymentFailed || target == StatusExpired
	case StatusPaused:
		return target == StatusActive || target == StatusCancelled
	case StatusPaymentFailed:
		return target == StatusActive || target == StatusCancelled || target == StatusExpired
	default:
		return false
	}
}
