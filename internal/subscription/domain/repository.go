package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	FindByLink(ctx context.Context, db *gorm.DB, link ProviderLink) (*Subscription, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, sub *Subscription) error
	UpdateLink(ctx context.Context, db *gorm.DB, sub *Subscription) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindCompletedPayment(ctx context.Context, db *gorm.DB, provider Provider, transactionID string) (*Payment, error)
	ListPaymentsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Payment, error)
}
