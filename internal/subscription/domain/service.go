package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateCheckoutRequest struct {
	UserID         snowflake.ID
	PlanID         snowflake.ID
	BillingCycleID snowflake.ID
	Currency       string // optional; defaults to the user's preferred currency
	Provider       Provider
}

type RecordPaymentInput struct {
	SubscriptionID snowflake.ID
	Provider       Provider
	TransactionID  string
	AmountCents    int64
	Currency       string
	PaymentMethod  string
	PaidAt         time.Time
	RawPayload     []byte
	// NeedsVerification flags a capture still under provider review.
	NeedsVerification bool
	// RollPeriod recomputes the current period from PaidAt and re-activates
	// the subscription. Set for first confirmations and approved renewals.
	RollPeriod bool
}

type RecordPaymentResult struct {
	Payment Payment
	// Created is false when the transaction id had already been recorded;
	// the call is then a no-op and side effects must not fire again.
	Created bool
}

// Service owns the subscription state machine and payment ledger.
type Service interface {
	CreatePendingCheckout(ctx context.Context, req CreateCheckoutRequest) (Subscription, error)
	AttachLink(ctx context.Context, id snowflake.ID, link ProviderLink) error
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	FindByLink(ctx context.Context, link ProviderLink) (Subscription, error)

	RecordPayment(ctx context.Context, input RecordPaymentInput) (RecordPaymentResult, error)
	Transition(ctx context.Context, id snowflake.ID, target Status, reason string) error
	Cancel(ctx context.Context, id snowflake.ID, reason string) error
	RollPeriod(ctx context.Context, id snowflake.ID, from time.Time) error
	ListPayments(ctx context.Context, subscriptionID snowflake.ID) ([]Payment, error)
}
