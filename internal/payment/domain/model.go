package domain

import (
	"context"
	"time"
)

const (
	ProviderWebpay      = "webpay"
	ProviderMercadoPago = "mercadopago"
	ProviderPayPal      = "paypal"
)

type ConfirmationStatus string

const (
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationRejected ConfirmationStatus = "rejected"
)

type CreateIntentInput struct {
	// ExternalReference correlates the provider-side object back to our
	// subscription. Webpay carries it as buy_order, Mercado Pago and PayPal
	// as external_reference / custom_id.
	ExternalReference string
	AmountCents       int64
	Currency          string
	Description       string
	ReturnURL         string
	CancelURL         string
	PayerEmail        string
	PayerName         string
}

// PaymentIntent is the provider-side object the payer is redirected to.
type PaymentIntent struct {
	IntentID    string
	RedirectURL string
}

// Confirmation is the authoritative result of asking the provider what
// actually happened to a charge. Amounts are normalized to minor units so
// reconciliation compares cents against cents regardless of the provider's
// own formatting.
type Confirmation struct {
	TransactionID     string
	Status            ConfirmationStatus
	AmountCents       int64
	Currency          string
	PaymentMethod     string
	ExternalReference string
	PaidAt            time.Time

	// NeedsCaptureVerification marks a capture the provider reported as
	// pending review while the enclosing order already completed. The
	// payment is treated as successful but flagged for a later recheck.
	NeedsCaptureVerification bool

	RawPayload []byte
}

// ProviderAdapter is the uniform contract every payment provider implements:
// create an intent, redirect the payer, then confirm. Confirm commits or
// captures on providers where confirmation has that side effect, and is safe
// to repeat when a prior response was lost; the adapter always propagates
// what the remote side returns rather than caching a result.
type ProviderAdapter interface {
	Provider() string
	CreateIntent(ctx context.Context, input CreateIntentInput) (*PaymentIntent, error)
	Confirm(ctx context.Context, intentID string) (*Confirmation, error)
}

// CaptureVerifier is implemented by adapters whose captures can settle after
// the confirmation was accepted. VerifyCapture reports whether the capture
// has settled.
type CaptureVerifier interface {
	VerifyCapture(ctx context.Context, captureID string) (bool, error)
}

type RecurringIntentInput struct {
	CreateIntentInput

	// Billing frequency for the provider's recurring engine.
	IntervalType  string
	IntervalCount int
}

type Preapproval struct {
	ID                string
	Status            string
	ExternalReference string
	RawPayload        []byte
}

// RecurringPayment is an individual charge read back from the recurring API.
// PreapprovalID is the recurring handle the charge was made under, when the
// provider reports one; it gives correlation a second key besides the
// external reference.
type RecurringPayment struct {
	Confirmation

	PreapprovalID string
}

// RecurringAdapter is the extra surface of providers whose recurring API has
// a lifecycle of its own (Mercado Pago PreApproval issues webhooks
// indefinitely, unlike a one-shot Checkout Pro preference).
type RecurringAdapter interface {
	CreateSubscriptionIntent(ctx context.Context, input RecurringIntentInput) (*PaymentIntent, error)
	GetPreapproval(ctx context.Context, preapprovalID string) (*Preapproval, error)
	GetPayment(ctx context.Context, paymentID string) (*RecurringPayment, error)
}
