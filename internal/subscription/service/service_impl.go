package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"github.com/cursolabs/cursopay/internal/clock"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	catalogSvc catalogdomain.Service
	userRepo   userdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository

	CatalogSvc catalogdomain.Service
	UserRepo   userdomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		catalogSvc: p.CatalogSvc,
		userRepo:   p.UserRepo,
	}
}

// CreatePendingCheckout resolves the authoritative price, rejects a second
// concurrent enrollment, and creates the local record in PENDING_PAYMENT
// before any provider is contacted.
func (s *Service) CreatePendingCheckout(ctx context.Context, req subscriptiondomain.CreateCheckoutRequest) (subscriptiondomain.Subscription, error) {
	if _, err := subscriptiondomain.ParseProvider(string(req.Provider)); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	account, err := s.userRepo.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if account == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = account.PreferredCurrency
	}

	if _, err := s.catalogSvc.GetPlan(ctx, req.PlanID); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if _, err := s.catalogSvc.GetBillingCycle(ctx, req.BillingCycleID); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	price, err := s.catalogSvc.ResolvePrice(ctx, req.PlanID, req.BillingCycleID, currency)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	// Check-then-act; the partial unique index on (user_id) WHERE ACTIVE is
	// the real guard when two checkouts race to activation.
	existing, err := s.repo.FindActiveByUserID(ctx, s.db, req.UserID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrActiveSubscriptionExists
	}

	now := s.clock.Now(ctx)
	sub := subscriptiondomain.Subscription{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		PlanID:         req.PlanID,
		BillingCycleID: req.BillingCycleID,
		Status:         subscriptiondomain.StatusPendingPayment,
		AmountCents:    price.AmountCents,
		Currency:       currency,
		AutoRenew:      true,
		Provider:       req.Provider,
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, &sub); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("pending checkout created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("provider", string(req.Provider)),
		zap.Int64("amount_cents", price.AmountCents),
		zap.String("currency", currency))

	return sub, nil
}

func (s *Service) AttachLink(ctx context.Context, id snowflake.ID, link subscriptiondomain.ProviderLink) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	sub.SetLink(link)
	sub.UpdatedAt = s.clock.Now(ctx)
	return s.repo.UpdateLink(ctx, s.db, sub)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) FindByLink(ctx context.Context, link subscriptiondomain.ProviderLink) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByLink(ctx, s.db, link)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

// RecordPayment appends a COMPLETED payment and, when RollPeriod is set,
// re-activates the subscription with a fresh period. Re-delivery of the same
// provider transaction is a no-op: the pre-check catches the common case and
// the partial unique index on (payment_provider, transaction_id) closes the
// race between two concurrent deliveries.
func (s *Service) RecordPayment(ctx context.Context, input subscriptiondomain.RecordPaymentInput) (subscriptiondomain.RecordPaymentResult, error) {
	if existing, err := s.repo.FindCompletedPayment(ctx, s.db, input.Provider, input.TransactionID); err != nil {
		return subscriptiondomain.RecordPaymentResult{}, err
	} else if existing != nil {
		return subscriptiondomain.RecordPaymentResult{Payment: *existing, Created: false}, nil
	}

	var payment subscriptiondomain.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, input.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		paidAt := input.PaidAt
		if paidAt.IsZero() {
			paidAt = s.clock.Now(ctx)
		}

		var periodStart, periodEnd *time.Time
		if input.RollPeriod && !subscriptiondomain.IsTerminal(sub.Status) {
			cycle, err := s.catalogSvc.GetBillingCycle(ctx, sub.BillingCycleID)
			if err != nil {
				return err
			}
			start := paidAt
			end := subscriptiondomain.AddInterval(start, cycle.IntervalType, cycle.IntervalCount)
			periodStart, periodEnd = &start, &end

			sub.Status = subscriptiondomain.StatusActive
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
			if sub.StartedAt == nil {
				sub.StartedAt = &start
			}
			sub.UpdatedAt = s.clock.Now(ctx)
			if err := s.repo.UpdateLifecycle(ctx, tx, sub); err != nil {
				return err
			}
		}

		payment = subscriptiondomain.Payment{
			ID:                s.genID.Generate(),
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			AmountCents:       input.AmountCents,
			Currency:          strings.ToUpper(input.Currency),
			Status:            subscriptiondomain.PaymentStatusCompleted,
			PaymentMethod:     input.PaymentMethod,
			PaymentProvider:   input.Provider,
			TransactionID:     input.TransactionID,
			NeedsVerification: input.NeedsVerification,
			PeriodStart:       periodStart,
			PeriodEnd:         periodEnd,
			PaidAt:            &paidAt,
			Metadata:          datatypes.JSON(input.RawPayload),
			CreatedAt:         s.clock.Now(ctx),
		}
		return s.repo.InsertPayment(ctx, tx, &payment)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.repo.FindCompletedPayment(ctx, s.db, input.Provider, input.TransactionID)
			if findErr != nil {
				return subscriptiondomain.RecordPaymentResult{}, findErr
			}
			if existing != nil {
				return subscriptiondomain.RecordPaymentResult{Payment: *existing, Created: false}, nil
			}
		}
		return subscriptiondomain.RecordPaymentResult{}, err
	}

	s.log.Info("payment recorded",
		zap.String("subscription_id", input.SubscriptionID.String()),
		zap.String("provider", string(input.Provider)),
		zap.String("transaction_id", input.TransactionID),
		zap.Int64("amount_cents", input.AmountCents))

	return subscriptiondomain.RecordPaymentResult{Payment: payment, Created: true}, nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, target subscriptiondomain.Status, reason string) error {
	if !subscriptiondomain.IsValidStatus(target) {
		return subscriptiondomain.ErrInvalidStatus
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if sub.Status == target {
			return nil
		}
		if !subscriptiondomain.IsTransitionAllowed(sub.Status, target) {
			return subscriptiondomain.ErrInvalidTransition
		}

		now := s.clock.Now(ctx)
		switch target {
		case subscriptiondomain.StatusActive:
			if sub.StartedAt == nil {
				sub.StartedAt = &now
			}
		case subscriptiondomain.StatusCancelled:
			sub.CancelledAt = &now
			sub.AutoRenew = false
			if reason != "" {
				sub.CancellationReason = &reason
			}
		case subscriptiondomain.StatusExpired:
			sub.AutoRenew = false
		}

		sub.Status = target
		sub.UpdatedAt = now

		s.log.Info("subscription transitioned",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("status", string(target)),
			zap.String("reason", reason))

		return s.repo.UpdateLifecycle(ctx, tx, sub)
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) error {
	return s.Transition(ctx, id, subscriptiondomain.StatusCancelled, reason)
}

// RollPeriod re-anchors the current period at from. Used when a recurring
// provider reports a freshly authorized charge without a local validate call.
func (s *Service) RollPeriod(ctx context.Context, id snowflake.ID, from time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscriptiondomain.IsTerminal(sub.Status) {
			return subscriptiondomain.ErrInvalidTransition
		}

		cycle, err := s.catalogSvc.GetBillingCycle(ctx, sub.BillingCycleID)
		if err != nil {
			return err
		}

		start := from.UTC()
		end := subscriptiondomain.AddInterval(start, cycle.IntervalType, cycle.IntervalCount)
		sub.Status = subscriptiondomain.StatusActive
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		if sub.StartedAt == nil {
			sub.StartedAt = &start
		}
		sub.UpdatedAt = s.clock.Now(ctx)

		return s.repo.UpdateLifecycle(ctx, tx, sub)
	})
}

func (s *Service) ListPayments(ctx context.Context, subscriptionID snowflake.ID) ([]subscriptiondomain.Payment, error) {
	return s.repo.ListPaymentsBySubscription(ctx, s.db, subscriptionID)
}
