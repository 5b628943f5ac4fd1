package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	catalogrepository "github.com/cursolabs/cursopay/internal/catalog/repository"
	catalogservice "github.com/cursolabs/cursopay/internal/catalog/service"
	"github.com/cursolabs/cursopay/internal/clock"
	"github.com/cursolabs/cursopay/internal/notification"
	"github.com/cursolabs/cursopay/internal/observability"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	"github.com/cursolabs/cursopay/internal/payment/reconcile"
	"github.com/cursolabs/cursopay/internal/receipt"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	subscriptionrepository "github.com/cursolabs/cursopay/internal/subscription/repository"
	subscriptionservice "github.com/cursolabs/cursopay/internal/subscription/service"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	userrepository "github.com/cursolabs/cursopay/internal/user/repository"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Fakes --

type fakeAdapter struct {
	provider     string
	confirmation *paymentdomain.Confirmation
	confirmErr   error
	confirms     int
}

func (f *fakeAdapter) Provider() string { return f.provider }

func (f *fakeAdapter) CreateIntent(ctx context.Context, input paymentdomain.CreateIntentInput) (*paymentdomain.PaymentIntent, error) {
	return &paymentdomain.PaymentIntent{IntentID: "intent-1", RedirectURL: "https://pay.example.com"}, nil
}

func (f *fakeAdapter) Confirm(ctx context.Context, intentID string) (*paymentdomain.Confirmation, error) {
	f.confirms++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmation, nil
}

type recordingSender struct {
	sent int
}

func (r *recordingSender) SendWelcomeEmail(ctx context.Context, email, name, planName string, attachments ...notification.Attachment) error {
	r.sent++
	return nil
}

type fakeReceipts struct {
	generated int
}

func (f *fakeReceipts) Generate(customer receipt.Customer, details receipt.PaymentDetails) ([]byte, error) {
	f.generated++
	return []byte("%PDF-1.4"), nil
}

// -- Fixture --

type fixture struct {
	svc       *reconcile.Service
	subSvc    subscriptiondomain.Service
	adapter   *fakeAdapter
	mpAdapter *fakeAdapter
	sender    *recordingSender
	receipts  *fakeReceipts

	userID  snowflake.ID
	planID  snowflake.ID
	cycleID snowflake.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&catalogdomain.Plan{},
		&catalogdomain.BillingCycle{},
		&catalogdomain.Price{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Payment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	catalogSvc := catalogservice.NewService(catalogservice.ServiceParam{
		DB: db, Log: log, Repo: catalogrepository.Provide(),
	})
	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{},
		Repo: subscriptionrepository.Provide(), CatalogSvc: catalogSvc, UserRepo: userrepository.Provide(),
	})

	f := &fixture{
		subSvc:    subSvc,
		adapter:   &fakeAdapter{provider: paymentdomain.ProviderWebpay},
		mpAdapter: &fakeAdapter{provider: paymentdomain.ProviderMercadoPago},
		sender:    &recordingSender{},
		receipts:  &fakeReceipts{},
	}

	f.svc = reconcile.NewService(reconcile.ServiceParam{
		DB:              db,
		Log:             log,
		Registry:        paymentdomain.NewRegistry(f.adapter, f.mpAdapter),
		SubscriptionSvc: subSvc,
		CatalogSvc:      catalogSvc,
		UserRepo:        userrepository.Provide(),
		Sender:          f.sender,
		Receipts:        f.receipts,
		Metrics:         observability.NewPaymentMetrics(prometheus.NewRegistry()),
	})

	now := time.Now().UTC()
	user := userdomain.User{ID: node.Generate(), Email: "maria@example.com", FirstName: "Maria", PreferredCurrency: "CLP", CreatedAt: now, UpdatedAt: now}
	plan := catalogdomain.Plan{ID: node.Generate(), Code: "premium", Name: "Premium", Active: true, CreatedAt: now, UpdatedAt: now}
	cycle := catalogdomain.BillingCycle{ID: node.Generate(), Code: "monthly", IntervalType: catalogdomain.IntervalMonth, IntervalCount: 1, CreatedAt: now}
	price := catalogdomain.Price{ID: node.Generate(), PlanID: plan.ID, BillingCycleID: cycle.ID, Currency: "CLP", AmountCents: 19990, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Create(&cycle).Error)
	require.NoError(t, db.Create(&price).Error)

	f.userID, f.planID, f.cycleID = user.ID, plan.ID, cycle.ID
	return f
}

func (f *fixture) pendingSubscription(t *testing.T) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subSvc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID: f.userID, PlanID: f.planID, BillingCycleID: f.cycleID,
		Provider: subscriptiondomain.ProviderWebpay,
	})
	require.NoError(t, err)
	require.NoError(t, f.subSvc.AttachLink(context.Background(), sub.ID,
		subscriptiondomain.WebpayLink{BuyOrder: sub.ID.String()}))
	return sub
}

func approvedConfirmation(sub subscriptiondomain.Subscription) *paymentdomain.Confirmation {
	return &paymentdomain.Confirmation{
		TransactionID:     "txn-1001",
		Status:            paymentdomain.ConfirmationApproved,
		AmountCents:       19990,
		Currency:          "CLP",
		PaymentMethod:     "webpay_plus",
		ExternalReference: sub.ID.String(),
		PaidAt:            time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC),
		RawPayload:        []byte(`{"status":"AUTHORIZED"}`),
	}
}

// -- Tests --

func TestValidatePaymentActivates(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	f.adapter.confirmation = approvedConfirmation(sub)

	result, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay,
		Token:    "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, result.SubscriptionID)
	assert.False(t, result.AlreadyProcessed)

	got, err := f.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC), got.CurrentPeriodEnd.UTC())

	assert.Equal(t, 1, f.sender.sent)
	assert.Equal(t, 1, f.receipts.generated)
}

func TestValidatePaymentRejectsProviderMismatch(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	f.mpAdapter.confirmation = approvedConfirmation(sub)

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider:       paymentdomain.ProviderMercadoPago,
		Token:          "tok-1",
		SubscriptionID: &sub.ID,
	})
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidProvider)

	payments, err := f.subSvc.ListPayments(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	got, err := f.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingPayment, got.Status)
}

func TestValidatePaymentHeldCaptureIsFlagged(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	conf := approvedConfirmation(sub)
	conf.NeedsCaptureVerification = true
	f.adapter.confirmation = conf

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay,
		Token:    "tok-1",
	})
	require.NoError(t, err)

	got, err := f.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)

	payments, err := f.subSvc.ListPayments(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].NeedsVerification)
}

func TestValidatePaymentRepeatedIsIdempotent(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	f.adapter.confirmation = approvedConfirmation(sub)

	req := reconcile.ValidateRequest{Provider: paymentdomain.ProviderWebpay, Token: "tok-1"}

	first, err := f.svc.ValidatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)

	for i := 0; i < 3; i++ {
		again, err := f.svc.ValidatePayment(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, again.AlreadyProcessed)
	}

	payments, err := f.subSvc.ListPayments(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	// Side effects fire at most once.
	assert.Equal(t, 1, f.sender.sent)
	assert.Equal(t, 1, f.receipts.generated)
}

func TestValidatePaymentDeclinedDoesNotActivate(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	f.adapter.confirmation = &paymentdomain.Confirmation{
		TransactionID: "txn-1002",
		Status:        paymentdomain.ConfirmationRejected,
		AmountCents:   19990,
		Currency:      "CLP",
	}

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay, Token: "tok-1",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotAuthorized)

	got, err := f.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingPayment, got.Status)
	assert.Equal(t, 0, f.sender.sent)
}

func TestValidatePaymentAmountMismatchNeverActivates(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	conf := approvedConfirmation(sub)
	conf.AmountCents = 1 // tampered
	f.adapter.confirmation = conf

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay, Token: "tok-1",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)

	got, err := f.subSvc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingPayment, got.Status)

	payments, err := f.subSvc.ListPayments(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestValidatePaymentCLPDemandsExactAmount(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	conf := approvedConfirmation(sub)
	conf.AmountCents = 19991 // off by one peso: out of tolerance for CLP
	f.adapter.confirmation = conf

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay, Token: "tok-1",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)
}

func TestValidatePaymentResolvesByExplicitID(t *testing.T) {
	f := setup(t)
	sub := f.pendingSubscription(t)
	conf := approvedConfirmation(sub)
	conf.ExternalReference = "" // nothing to correlate on
	f.adapter.confirmation = conf

	result, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider:       paymentdomain.ProviderWebpay,
		Token:          sub.ID.String(),
		SubscriptionID: &sub.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, result.SubscriptionID)
}

func TestValidatePaymentUnknownProvider(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: "stripe", Token: "tok-1",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestValidatePaymentUnresolvableSubscription(t *testing.T) {
	f := setup(t)
	f.adapter.confirmation = &paymentdomain.Confirmation{
		TransactionID: "txn-9",
		Status:        paymentdomain.ConfirmationApproved,
		AmountCents:   19990,
		Currency:      "CLP",
	}

	_, err := f.svc.ValidatePayment(context.Background(), reconcile.ValidateRequest{
		Provider: paymentdomain.ProviderWebpay, Token: "tok-unknown",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}
