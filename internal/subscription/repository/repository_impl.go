package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	if err := db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	query := tx.WithContext(ctx)
	// sqlite has no row locks; the whole-db write lock covers the test path.
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub subscriptiondomain.Subscription
	if err := query.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindActiveByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, subscriptiondomain.StatusActive).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindByLink(ctx context.Context, db *gorm.DB, link subscriptiondomain.ProviderLink) (*subscriptiondomain.Subscription, error) {
	query := db.WithContext(ctx)

	switch l := link.(type) {
	case subscriptiondomain.WebpayLink:
		query = query.Where("provider = ? AND buy_order = ?", subscriptiondomain.ProviderWebpay, l.BuyOrder)
	case subscriptiondomain.PayPalLink:
		query = query.Where("provider = ? AND order_id = ?", subscriptiondomain.ProviderPayPal, l.OrderID)
	case subscriptiondomain.MercadoPagoLink:
		switch {
		case l.PreapprovalID != "":
			query = query.Where("provider = ? AND preapproval_id = ?", subscriptiondomain.ProviderMercadoPago, l.PreapprovalID)
		case l.PreferenceID != "":
			query = query.Where("provider = ? AND preference_id = ?", subscriptiondomain.ProviderMercadoPago, l.PreferenceID)
		default:
			return nil, nil
		}
	default:
		return nil, nil
	}

	var sub subscriptiondomain.Subscription
	if err := query.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, started_at = ?, current_period_start = ?, current_period_end = ?,
		     cancelled_at = ?, cancellation_reason = ?, auto_renew = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Status,
		sub.StartedAt,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelledAt,
		sub.CancellationReason,
		sub.AutoRenew,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) UpdateLink(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET provider = ?, buy_order = ?, preference_id = ?, preapproval_id = ?, order_id = ?,
		     metadata = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Provider,
		sub.BuyOrder,
		sub.PreferenceID,
		sub.PreapprovalID,
		sub.OrderID,
		sub.Metadata,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *subscriptiondomain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindCompletedPayment(ctx context.Context, db *gorm.DB, provider subscriptiondomain.Provider, transactionID string) (*subscriptiondomain.Payment, error) {
	var payment subscriptiondomain.Payment
	err := db.WithContext(ctx).
		Where("payment_provider = ? AND transaction_id = ? AND status = ?",
			provider, transactionID, subscriptiondomain.PaymentStatusCompleted).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) ListPaymentsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.Payment, error) {
	var payments []subscriptiondomain.Payment
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
