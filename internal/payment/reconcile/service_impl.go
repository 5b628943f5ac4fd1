package reconcile

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"github.com/cursolabs/cursopay/internal/notification"
	"github.com/cursolabs/cursopay/internal/observability"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	"github.com/cursolabs/cursopay/internal/receipt"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ValidateRequest struct {
	Provider string
	// Token is whatever the provider handed back on return: the Webpay
	// token_ws, the PayPal order id, or the Mercado Pago payment id.
	Token          string
	SubscriptionID *snowflake.ID
}

type ValidateResult struct {
	SubscriptionID snowflake.ID
	// AlreadyProcessed is true when this transaction had been recorded
	// before; the call succeeded but no side effects fired.
	AlreadyProcessed bool
}

// Service reconciles a provider confirmation against the local ledger.
type Service struct {
	db  *gorm.DB
	log *zap.Logger

	registry        *paymentdomain.Registry
	subscriptionSvc subscriptiondomain.Service
	catalogSvc      catalogdomain.Service
	userRepo        userdomain.Repository
	sender          notification.Sender
	receipts        receipt.Generator
	metrics         *observability.PaymentMetrics
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	Registry        *paymentdomain.Registry
	SubscriptionSvc subscriptiondomain.Service
	CatalogSvc      catalogdomain.Service
	UserRepo        userdomain.Repository
	Sender          notification.Sender
	Receipts        receipt.Generator
	Metrics         *observability.PaymentMetrics
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.reconcile"),
		registry:        p.Registry,
		subscriptionSvc: p.SubscriptionSvc,
		catalogSvc:      p.CatalogSvc,
		userRepo:        p.UserRepo,
		sender:          p.Sender,
		receipts:        p.Receipts,
		metrics:         p.Metrics,
	}
}

// ValidatePayment asks the provider what actually happened, then mutates the
// ledger accordingly. Safe to call repeatedly with the same token: the
// ledger's transaction-id gate turns repeats into no-ops.
func (s *Service) ValidatePayment(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return ValidateResult{}, err
	}

	conf, err := adapter.Confirm(ctx, req.Token)
	if err != nil {
		s.metrics.Reconciled.WithLabelValues(req.Provider, "provider_error").Inc()
		return ValidateResult{}, err
	}

	if conf.Status != paymentdomain.ConfirmationApproved {
		s.log.Warn("payment not authorized",
			zap.String("provider", req.Provider),
			zap.String("token", req.Token),
			zap.String("status", string(conf.Status)))
		s.metrics.Reconciled.WithLabelValues(req.Provider, "not_authorized").Inc()
		return ValidateResult{}, paymentdomain.ErrPaymentNotAuthorized
	}

	sub, err := s.resolveSubscription(ctx, req, conf)
	if err != nil {
		s.metrics.Reconciled.WithLabelValues(req.Provider, "not_found").Inc()
		return ValidateResult{}, err
	}

	if !amountWithinTolerance(conf.AmountCents, sub.AmountCents, sub.Currency) {
		s.log.Error("amount mismatch, refusing to activate",
			zap.String("provider", req.Provider),
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("expected_cents", sub.AmountCents),
			zap.Int64("confirmed_cents", conf.AmountCents),
			zap.String("currency", sub.Currency))
		s.metrics.AmountMismatch.WithLabelValues(req.Provider).Inc()
		s.metrics.Reconciled.WithLabelValues(req.Provider, "amount_mismatch").Inc()
		return ValidateResult{}, paymentdomain.ErrAmountMismatch
	}

	result, err := s.subscriptionSvc.RecordPayment(ctx, subscriptiondomain.RecordPaymentInput{
		SubscriptionID:    sub.ID,
		Provider:          sub.Provider,
		TransactionID:     conf.TransactionID,
		AmountCents:       conf.AmountCents,
		Currency:          conf.Currency,
		PaymentMethod:     conf.PaymentMethod,
		PaidAt:            conf.PaidAt,
		RawPayload:        conf.RawPayload,
		NeedsVerification: conf.NeedsCaptureVerification,
		RollPeriod:        true,
	})
	if err != nil {
		s.metrics.Reconciled.WithLabelValues(req.Provider, "ledger_error").Inc()
		return ValidateResult{}, err
	}

	if !result.Created {
		s.metrics.Reconciled.WithLabelValues(req.Provider, "duplicate").Inc()
		return ValidateResult{SubscriptionID: sub.ID, AlreadyProcessed: true}, nil
	}

	if conf.NeedsCaptureVerification {
		s.log.Warn("capture pending provider review, flagged for recheck",
			zap.String("provider", req.Provider),
			zap.String("subscription_id", sub.ID.String()),
			zap.String("transaction_id", conf.TransactionID))
	}

	s.fireSideEffects(ctx, sub, result.Payment)
	s.metrics.Reconciled.WithLabelValues(req.Provider, "success").Inc()

	return ValidateResult{SubscriptionID: sub.ID}, nil
}

// resolveSubscription prefers the explicit id from the caller, then the
// provider's correlation: the external reference round-trips our
// subscription id, and failing that the stored provider link.
func (s *Service) resolveSubscription(ctx context.Context, req ValidateRequest, conf *paymentdomain.Confirmation) (subscriptiondomain.Subscription, error) {
	if req.SubscriptionID != nil {
		sub, err := s.subscriptionSvc.GetByID(ctx, *req.SubscriptionID)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}
		// The caller picks the subscription, but the confirmation must come
		// from the provider that subscription was opened with.
		if string(sub.Provider) != req.Provider {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidProvider
		}
		return sub, nil
	}

	if conf.ExternalReference != "" {
		if id, err := snowflake.ParseString(conf.ExternalReference); err == nil {
			if sub, err := s.subscriptionSvc.GetByID(ctx, id); err == nil {
				return sub, nil
			}
		}
	}

	link := linkForToken(req.Provider, req.Token)
	if link == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.subscriptionSvc.FindByLink(ctx, link)
}

func linkForToken(provider, token string) subscriptiondomain.ProviderLink {
	switch provider {
	case paymentdomain.ProviderWebpay:
		return subscriptiondomain.WebpayLink{BuyOrder: token}
	case paymentdomain.ProviderPayPal:
		return subscriptiondomain.PayPalLink{OrderID: token}
	case paymentdomain.ProviderMercadoPago:
		return subscriptiondomain.MercadoPagoLink{PreferenceID: token}
	default:
		return nil
	}
}

// fireSideEffects generates the receipt and sends the welcome email. Both
// are best-effort: the payment already succeeded, so failures are logged and
// swallowed.
func (s *Service) fireSideEffects(ctx context.Context, sub subscriptiondomain.Subscription, payment subscriptiondomain.Payment) {
	account, err := s.userRepo.FindByID(ctx, s.db, sub.UserID)
	if err != nil || account == nil {
		s.log.Warn("side effects skipped, user lookup failed",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		return
	}

	planName := ""
	if plan, err := s.catalogSvc.GetPlan(ctx, sub.PlanID); err == nil {
		planName = plan.Name
	}

	var attachments []notification.Attachment
	paidAt := payment.CreatedAt
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	pdf, err := s.receipts.Generate(
		receipt.Customer{Name: account.FullName(), Email: account.Email},
		receipt.PaymentDetails{
			PlanName:      planName,
			AmountCents:   payment.AmountCents,
			Currency:      payment.Currency,
			Provider:      string(payment.PaymentProvider),
			TransactionID: payment.TransactionID,
			PaidAt:        paidAt,
		})
	if err != nil {
		s.log.Warn("receipt generation failed",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
	} else {
		attachments = append(attachments, notification.Attachment{
			Filename: "receipt-" + payment.ID.String() + ".pdf",
			Data:     pdf,
		})
	}

	if err := s.sender.SendWelcomeEmail(ctx, account.Email, account.FullName(), planName, attachments...); err != nil {
		s.log.Warn("welcome email failed",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
	}
}

// amountWithinTolerance compares confirmed cents against the snapshot.
// Zero-decimal currencies demand an exact match; decimal currencies absorb
// one cent of provider-side rounding.
func amountWithinTolerance(confirmed, expected int64, currency string) bool {
	diff := confirmed - expected
	if diff < 0 {
		diff = -diff
	}
	switch currency {
	case "CLP", "PYG", "JPY", "KRW":
		return diff == 0
	default:
		return diff <= 1
	}
}
