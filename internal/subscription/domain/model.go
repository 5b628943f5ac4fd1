package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Provider string

const (
	ProviderWebpay      Provider = "webpay"
	ProviderMercadoPago Provider = "mercadopago"
	ProviderPayPal      Provider = "paypal"
)

// Subscription is one enrollment of a user in a plan for a billing cycle.
// AmountCents/Currency snapshot the resolved price at checkout time; every
// provider confirmation is reconciled against that snapshot, never against
// the live catalog.
type Subscription struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID         snowflake.ID `json:"user_id" gorm:"not null;index"`
	PlanID         snowflake.ID `json:"plan_id" gorm:"not null"`
	BillingCycleID snowflake.ID `json:"billing_cycle_id" gorm:"not null"`
	Status         Status       `json:"status" gorm:"type:varchar(20);not null"`
	AmountCents    int64        `json:"amount_cents" gorm:"not null"`
	Currency       string       `json:"currency" gorm:"type:varchar(3);not null"`
	AutoRenew      bool         `json:"auto_renew" gorm:"default:true"`

	StartedAt          *time.Time `json:"started_at"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason *string    `json:"cancellation_reason"`

	Provider      Provider `json:"provider" gorm:"type:varchar(20);not null"`
	BuyOrder      *string  `json:"buy_order" gorm:"type:text"`
	PreferenceID  *string  `json:"preference_id" gorm:"type:text"`
	PreapprovalID *string  `json:"preapproval_id" gorm:"type:text"`
	OrderID       *string  `json:"order_id" gorm:"type:text"`

	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is an append-only audit row for one provider charge.
// (payment_provider, transaction_id) is unique among COMPLETED rows at the
// storage layer; that index is the idempotency gate for repeated
// confirmations and webhook redeliveries.
type Payment struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	SubscriptionID  snowflake.ID  `json:"subscription_id" gorm:"not null;index"`
	UserID          snowflake.ID  `json:"user_id" gorm:"not null"`
	AmountCents     int64         `json:"amount_cents" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:varchar(3);not null"`
	Status          PaymentStatus `json:"status" gorm:"type:varchar(20);not null"`
	PaymentMethod   string        `json:"payment_method" gorm:"type:text"`
	PaymentProvider Provider      `json:"payment_provider" gorm:"type:varchar(20);not null"`
	TransactionID   string        `json:"transaction_id" gorm:"type:text;not null"`
	// NeedsVerification marks a charge the provider approved while still
	// holding the capture for review. Cleared once the capture settles.
	NeedsVerification bool `json:"needs_verification" gorm:"not null;default:false"`

	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
	PaidAt      *time.Time `json:"paid_at"`

	Metadata  datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "subscription_payments" }
