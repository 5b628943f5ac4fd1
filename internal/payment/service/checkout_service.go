package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"github.com/cursolabs/cursopay/internal/config"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateCheckoutRequest struct {
	UserID         snowflake.ID
	PlanID         snowflake.ID
	BillingCycleID snowflake.ID
	Currency       string
	Provider       string
	// Recurring selects Mercado Pago PreApproval over a one-shot preference.
	// Ignored for providers without a recurring engine.
	Recurring bool
}

type CreateCheckoutResponse struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	IntentID       string       `json:"intent_id"`
	RedirectURL    string       `json:"redirect_url"`
}

// CheckoutService drives checkout creation: pending ledger record first,
// provider intent second, link attach last. The ledger record exists before
// any provider is contacted so a crashed checkout leaves an inert
// PENDING_PAYMENT row rather than an orphaned provider object.
type CheckoutService struct {
	db  *gorm.DB
	log *zap.Logger

	registry        *paymentdomain.Registry
	subscriptionSvc subscriptiondomain.Service
	catalogSvc      catalogdomain.Service
	userRepo        userdomain.Repository
	baseURL         string
}

type CheckoutServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config

	Registry        *paymentdomain.Registry
	SubscriptionSvc subscriptiondomain.Service
	CatalogSvc      catalogdomain.Service
	UserRepo        userdomain.Repository
}

func NewCheckoutService(p CheckoutServiceParam) *CheckoutService {
	return &CheckoutService{
		db:              p.DB,
		log:             p.Log.Named("payment.checkout"),
		registry:        p.Registry,
		subscriptionSvc: p.SubscriptionSvc,
		catalogSvc:      p.CatalogSvc,
		userRepo:        p.UserRepo,
		baseURL:         p.Cfg.BaseURL,
	}
}

func (s *CheckoutService) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (CreateCheckoutResponse, error) {
	provider, err := subscriptiondomain.ParseProvider(req.Provider)
	if err != nil {
		return CreateCheckoutResponse{}, err
	}

	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return CreateCheckoutResponse{}, err
	}

	sub, err := s.subscriptionSvc.CreatePendingCheckout(ctx, subscriptiondomain.CreateCheckoutRequest{
		UserID:         req.UserID,
		PlanID:         req.PlanID,
		BillingCycleID: req.BillingCycleID,
		Currency:       req.Currency,
		Provider:       provider,
	})
	if err != nil {
		return CreateCheckoutResponse{}, err
	}

	input, err := s.intentInput(ctx, sub)
	if err != nil {
		return CreateCheckoutResponse{}, err
	}

	var intent *paymentdomain.PaymentIntent
	if req.Recurring && provider == subscriptiondomain.ProviderMercadoPago {
		recurring, ok := adapter.(paymentdomain.RecurringAdapter)
		if !ok {
			return CreateCheckoutResponse{}, paymentdomain.ErrProviderNotFound
		}
		cycle, err := s.catalogSvc.GetBillingCycle(ctx, sub.BillingCycleID)
		if err != nil {
			return CreateCheckoutResponse{}, err
		}
		intent, err = recurring.CreateSubscriptionIntent(ctx, paymentdomain.RecurringIntentInput{
			CreateIntentInput: input,
			IntervalType:      string(cycle.IntervalType),
			IntervalCount:     cycle.IntervalCount,
		})
		if err != nil {
			return CreateCheckoutResponse{}, err
		}
	} else {
		intent, err = adapter.CreateIntent(ctx, input)
		if err != nil {
			return CreateCheckoutResponse{}, err
		}
	}

	link := s.linkFor(provider, sub, intent, req.Recurring)
	if err := s.subscriptionSvc.AttachLink(ctx, sub.ID, link); err != nil {
		return CreateCheckoutResponse{}, err
	}

	s.log.Info("checkout created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("provider", req.Provider),
		zap.String("intent_id", intent.IntentID))

	return CreateCheckoutResponse{
		SubscriptionID: sub.ID,
		IntentID:       intent.IntentID,
		RedirectURL:    intent.RedirectURL,
	}, nil
}

func (s *CheckoutService) intentInput(ctx context.Context, sub subscriptiondomain.Subscription) (paymentdomain.CreateIntentInput, error) {
	account, err := s.userRepo.FindByID(ctx, s.db, sub.UserID)
	if err != nil {
		return paymentdomain.CreateIntentInput{}, err
	}
	if account == nil {
		return paymentdomain.CreateIntentInput{}, subscriptiondomain.ErrInvalidUser
	}

	description := ""
	if plan, err := s.catalogSvc.GetPlan(ctx, sub.PlanID); err == nil {
		description = plan.Name
	}

	return paymentdomain.CreateIntentInput{
		ExternalReference: sub.ID.String(),
		AmountCents:       sub.AmountCents,
		Currency:          sub.Currency,
		Description:       description,
		ReturnURL:         s.baseURL + "/api/payments/" + string(sub.Provider) + "/return",
		CancelURL:         s.baseURL + "/api/payments/" + string(sub.Provider) + "/cancel",
		PayerEmail:        account.Email,
		PayerName:         account.FullName(),
	}, nil
}

// linkFor records the provider identifier the confirmation will come back
// with. Webpay confirms by buy order (our subscription id), Mercado Pago by
// preference or preapproval id, PayPal by order id.
func (s *CheckoutService) linkFor(provider subscriptiondomain.Provider, sub subscriptiondomain.Subscription, intent *paymentdomain.PaymentIntent, recurring bool) subscriptiondomain.ProviderLink {
	switch provider {
	case subscriptiondomain.ProviderWebpay:
		return subscriptiondomain.WebpayLink{BuyOrder: sub.ID.String()}
	case subscriptiondomain.ProviderPayPal:
		return subscriptiondomain.PayPalLink{OrderID: intent.IntentID}
	default:
		if recurring {
			return subscriptiondomain.MercadoPagoLink{PreapprovalID: intent.IntentID}
		}
		return subscriptiondomain.MercadoPagoLink{PreferenceID: intent.IntentID}
	}
}
