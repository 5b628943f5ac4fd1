package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	catalogrepository "github.com/cursolabs/cursopay/internal/catalog/repository"
	catalogservice "github.com/cursolabs/cursopay/internal/catalog/service"
	"github.com/cursolabs/cursopay/internal/clock"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	subscriptionrepository "github.com/cursolabs/cursopay/internal/subscription/repository"
	"github.com/cursolabs/cursopay/internal/subscription/service"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	userrepository "github.com/cursolabs/cursopay/internal/user/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db  *gorm.DB
	svc subscriptiondomain.Service

	user  userdomain.User
	plan  catalogdomain.Plan
	cycle catalogdomain.BillingCycle
	price catalogdomain.Price
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
		DB:   db,
		Log:  log,
		Repo: catalogrepository.Provide(),
	})

	f := &fixture{db: db}
	f.svc = service.NewService(service.ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clock.SystemClock{},
		Repo:       subscriptionrepository.Provide(),
		CatalogSvc: catalogSvc,
		UserRepo:   userrepository.Provide(),
	})

	now := time.Now().UTC()
	f.user = userdomain.User{
		ID: node.Generate(), Email: "maria@example.com",
		FirstName: "Maria", LastName: "Gonzalez",
		PreferredCurrency: "CLP", CreatedAt: now, UpdatedAt: now,
	}
	f.plan = catalogdomain.Plan{
		ID: node.Generate(), Code: "premium", Name: "Premium",
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	f.cycle = catalogdomain.BillingCycle{
		ID: node.Generate(), Code: "monthly",
		IntervalType: catalogdomain.IntervalMonth, IntervalCount: 1,
		CreatedAt: now,
	}
	f.price = catalogdomain.Price{
		ID: node.Generate(), PlanID: f.plan.ID, BillingCycleID: f.cycle.ID,
		Currency: "CLP", AmountCents: 19990, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.Create(&f.user).Error)
	require.NoError(t, db.Create(&f.plan).Error)
	require.NoError(t, db.Create(&f.cycle).Error)
	require.NoError(t, db.Create(&f.price).Error)

	return f
}

func (f *fixture) checkout(t *testing.T, provider subscriptiondomain.Provider) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID:         f.user.ID,
		PlanID:         f.plan.ID,
		BillingCycleID: f.cycle.ID,
		Provider:       provider,
	})
	require.NoError(t, err)
	return sub
}

func TestCreatePendingCheckout(t *testing.T) {
	f := setup(t)

	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)

	assert.Equal(t, subscriptiondomain.StatusPendingPayment, sub.Status)
	assert.Equal(t, int64(19990), sub.AmountCents)
	assert.Equal(t, "CLP", sub.Currency) // defaulted from the user
	assert.True(t, sub.AutoRenew)
	assert.Nil(t, sub.CurrentPeriodStart)
}

func TestCreatePendingCheckoutUnknownProvider(t *testing.T) {
	f := setup(t)

	_, err := f.svc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID:         f.user.ID,
		PlanID:         f.plan.ID,
		BillingCycleID: f.cycle.ID,
		Provider:       "stripe",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidProvider)
}

func TestCreatePendingCheckoutMissingPrice(t *testing.T) {
	f := setup(t)

	_, err := f.svc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID:         f.user.ID,
		PlanID:         f.plan.ID,
		BillingCycleID: f.cycle.ID,
		Currency:       "USD",
		Provider:       subscriptiondomain.ProviderPayPal,
	})
	assert.ErrorIs(t, err, catalogdomain.ErrPriceNotFound)
}

func TestCreatePendingCheckoutRejectsSecondActive(t *testing.T) {
	f := setup(t)

	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)
	require.NoError(t, f.svc.Transition(context.Background(), sub.ID, subscriptiondomain.StatusActive, ""))

	_, err := f.svc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID:         f.user.ID,
		PlanID:         f.plan.ID,
		BillingCycleID: f.cycle.ID,
		Provider:       subscriptiondomain.ProviderMercadoPago,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrActiveSubscriptionExists)
}

func TestRecordPaymentActivatesAndRollsPeriod(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)

	paidAt := time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)
	res, err := f.svc.RecordPayment(context.Background(), subscriptiondomain.RecordPaymentInput{
		SubscriptionID: sub.ID,
		Provider:       subscriptiondomain.ProviderWebpay,
		TransactionID:  "order-1001",
		AmountCents:    19990,
		Currency:       "CLP",
		PaymentMethod:  "webpay_plus",
		PaidAt:         paidAt,
		RollPeriod:     true,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, subscriptiondomain.PaymentStatusCompleted, res.Payment.Status)

	got, err := f.svc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	require.NotNil(t, got.CurrentPeriodStart)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.Equal(t, paidAt, got.CurrentPeriodStart.UTC())
	// Month rollover clamps Jan 31 to Feb 29.
	assert.Equal(t, time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC), got.CurrentPeriodEnd.UTC())
	require.NotNil(t, got.StartedAt)
}

func TestRecordPaymentIsIdempotent(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)

	input := subscriptiondomain.RecordPaymentInput{
		SubscriptionID: sub.ID,
		Provider:       subscriptiondomain.ProviderWebpay,
		TransactionID:  "order-2002",
		AmountCents:    19990,
		Currency:       "CLP",
		PaidAt:         time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		RollPeriod:     true,
	}

	first, err := f.svc.RecordPayment(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, first.Created)

	for i := 0; i < 3; i++ {
		again, err := f.svc.RecordPayment(context.Background(), input)
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.Payment.ID, again.Payment.ID)
	}

	payments, err := f.svc.ListPayments(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestRecordPaymentUnknownSubscription(t *testing.T) {
	f := setup(t)

	_, err := f.svc.RecordPayment(context.Background(), subscriptiondomain.RecordPaymentInput{
		SubscriptionID: snowflake.ID(424242),
		Provider:       subscriptiondomain.ProviderPayPal,
		TransactionID:  "capture-1",
		AmountCents:    999,
		Currency:       "USD",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestTransitionRejectsInvalidTarget(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)

	err := f.svc.Transition(context.Background(), sub.ID, subscriptiondomain.StatusPaused, "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	err = f.svc.Transition(context.Background(), sub.ID, "SOMETHING_ELSE", "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestCancelStampsAndStopsRenewal(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderMercadoPago)
	require.NoError(t, f.svc.Transition(context.Background(), sub.ID, subscriptiondomain.StatusActive, ""))

	require.NoError(t, f.svc.Cancel(context.Background(), sub.ID, "user request"))

	got, err := f.svc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, got.Status)
	assert.False(t, got.AutoRenew)
	require.NotNil(t, got.CancelledAt)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "user request", *got.CancellationReason)

	// Cancelling again is a no-op, not an error.
	require.NoError(t, f.svc.Cancel(context.Background(), sub.ID, "again"))

	// Terminal: no way back.
	err = f.svc.Transition(context.Background(), sub.ID, subscriptiondomain.StatusActive, "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestAttachLinkAndFindByLink(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderWebpay)

	require.NoError(t, f.svc.AttachLink(context.Background(), sub.ID,
		subscriptiondomain.WebpayLink{BuyOrder: "cp-1-555"}))

	got, err := f.svc.FindByLink(context.Background(), subscriptiondomain.WebpayLink{BuyOrder: "cp-1-555"})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.svc.FindByLink(context.Background(), subscriptiondomain.WebpayLink{BuyOrder: "cp-unknown"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestFindByLinkPrefersPreapproval(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderMercadoPago)

	require.NoError(t, f.svc.AttachLink(context.Background(), sub.ID,
		subscriptiondomain.MercadoPagoLink{PreferenceID: "pref-1", PreapprovalID: "pa-1"}))

	byPreapproval, err := f.svc.FindByLink(context.Background(),
		subscriptiondomain.MercadoPagoLink{PreapprovalID: "pa-1"})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byPreapproval.ID)

	byPreference, err := f.svc.FindByLink(context.Background(),
		subscriptiondomain.MercadoPagoLink{PreferenceID: "pref-1"})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byPreference.ID)
}

func TestRollPeriodRecoversPaymentFailed(t *testing.T) {
	f := setup(t)
	sub := f.checkout(t, subscriptiondomain.ProviderMercadoPago)
	ctx := context.Background()
	require.NoError(t, f.svc.Transition(ctx, sub.ID, subscriptiondomain.StatusActive, ""))
	require.NoError(t, f.svc.Transition(ctx, sub.ID, subscriptiondomain.StatusPaymentFailed, "charge declined"))

	from := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.svc.RollPeriod(ctx, sub.ID, from))

	got, err := f.svc.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC), got.CurrentPeriodEnd.UTC())
}

// racingLookupRepo misses its first completed-payment lookups, standing in
// for the window where a concurrent delivery has committed its row but the
// pre-check ran before that commit. Past the pre-check, only the partial
// unique index separates two deliveries from a double payment record.
type racingLookupRepo struct {
	subscriptiondomain.Repository
	misses int
}

func (r *racingLookupRepo) FindCompletedPayment(ctx context.Context, db *gorm.DB, provider subscriptiondomain.Provider, transactionID string) (*subscriptiondomain.Payment, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.Repository.FindCompletedPayment(ctx, db, provider, transactionID)
}

func TestRecordPaymentDuplicateKeyRecovery(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"),
		&gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&catalogdomain.Plan{},
		&catalogdomain.BillingCycle{},
		&catalogdomain.Price{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Payment{},
	))
	// The same index the migrations create; AutoMigrate does not know it.
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX subscription_payments_completed_txn
		ON subscription_payments (payment_provider, transaction_id)
		WHERE status = 'COMPLETED'`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	catalogSvc := catalogservice.NewService(catalogservice.ServiceParam{
		DB: db, Log: log, Repo: catalogrepository.Provide(),
	})
	repo := &racingLookupRepo{Repository: subscriptionrepository.Provide(), misses: 2}
	svc := service.NewService(service.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{},
		Repo: repo, CatalogSvc: catalogSvc, UserRepo: userrepository.Provide(),
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

	sub, err := svc.CreatePendingCheckout(context.Background(), subscriptiondomain.CreateCheckoutRequest{
		UserID: user.ID, PlanID: plan.ID, BillingCycleID: cycle.ID,
		Provider: subscriptiondomain.ProviderWebpay,
	})
	require.NoError(t, err)

	input := subscriptiondomain.RecordPaymentInput{
		SubscriptionID: sub.ID,
		Provider:       subscriptiondomain.ProviderWebpay,
		TransactionID:  "order-3003",
		AmountCents:    19990,
		Currency:       "CLP",
		PaidAt:         time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		RollPeriod:     true,
	}

	first, err := svc.RecordPayment(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, first.Created)

	// Both lookups missed, so this call reaches the insert and trips the
	// index; the recovery turns it into the already-recorded result.
	second, err := svc.RecordPayment(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	var count int64
	require.NoError(t, db.Model(&subscriptiondomain.Payment{}).
		Where("transaction_id = ?", "order-3003").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
