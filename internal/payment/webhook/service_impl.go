package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cursolabs/cursopay/internal/clock"
	"github.com/cursolabs/cursopay/internal/observability"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is the notification body Mercado Pago posts: a type and the id of
// the resource that changed. Everything else must be fetched back from the
// API, never trusted from the body.
type Event struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// EventRecord is the durable audit row for every delivery we accepted.
type EventRecord struct {
	ID          snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	Provider    string         `gorm:"type:varchar(20);not null"`
	EventType   string         `gorm:"type:text;not null"`
	ResourceID  string         `gorm:"type:text;not null"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time
}

func (EventRecord) TableName() string { return "webhook_events" }

const seenTTL = 24 * time.Hour

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Redis *redis.Client
	GenID *snowflake.Node
	Clock clock.Clock

	Recurring       paymentdomain.RecurringAdapter
	SubscriptionSvc subscriptiondomain.Service
	Metrics         *observability.PaymentMetrics
}

// Service handles Mercado Pago recurring webhooks. Providers retry
// aggressively, so unmatched events are logged and dropped rather than
// errored, and a Redis seen-gate short-circuits redeliveries before any
// provider round trip.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	redis *redis.Client
	genID *snowflake.Node
	clock clock.Clock

	recurring       paymentdomain.RecurringAdapter
	subscriptionSvc subscriptiondomain.Service
	metrics         *observability.PaymentMetrics
}

func NewService(p Params) *Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.webhook"),
		redis:           p.Redis,
		genID:           p.GenID,
		clock:           p.Clock,
		recurring:       p.Recurring,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
	}
}

// Handle processes one delivery. The caller acknowledges with 200 regardless
// of the returned error once the event has been durably recorded; the error
// is for logging only.
func (s *Service) Handle(ctx context.Context, payload []byte) error {
	if s.recurring == nil {
		return paymentdomain.ErrProviderConfig
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.metrics.WebhooksHandled.WithLabelValues("invalid", "rejected").Inc()
		return err
	}
	if event.Data.ID == "" {
		s.metrics.WebhooksHandled.WithLabelValues(event.Type, "rejected").Inc()
		return errors.New("webhook event missing data.id")
	}

	if s.alreadySeen(ctx, event) {
		s.metrics.WebhooksHandled.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	record := s.record(ctx, event, payload)

	var err error
	switch event.Type {
	case "subscription_preapproval":
		err = s.handlePreapproval(ctx, event.Data.ID)
	case "subscription_authorized_payment", "payment", "subscription_payment":
		err = s.handlePayment(ctx, event.Data.ID)
	default:
		// Unknown type: remap from the freshest preapproval state.
		s.log.Info("unknown webhook type, falling back to preapproval remap",
			zap.String("type", event.Type), zap.String("resource_id", event.Data.ID))
		err = s.handlePreapproval(ctx, event.Data.ID)
	}

	if err != nil {
		// Drop the gate so the provider's redelivery retries the work
		// instead of short-circuiting as a duplicate.
		s.releaseSeen(ctx, event)
		outcome := "error"
		if paymentdomain.IsProviderRequestError(err) {
			outcome = "provider_error"
		}
		s.metrics.WebhooksHandled.WithLabelValues(event.Type, outcome).Inc()
		return err
	}

	s.markProcessed(ctx, record)
	s.metrics.WebhooksHandled.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

// alreadySeen gates on Redis SETNX. A Redis outage degrades to processing
// every delivery; the ledger's transaction-id constraint still guarantees a
// single Payment row.
func (s *Service) alreadySeen(ctx context.Context, event Event) bool {
	set, err := s.redis.SetNX(ctx, seenKey(event), "1", seenTTL).Result()
	if err != nil {
		s.log.Warn("webhook seen-gate unavailable", zap.Error(err))
		return false
	}
	return !set
}

func (s *Service) releaseSeen(ctx context.Context, event Event) {
	if err := s.redis.Del(ctx, seenKey(event)).Err(); err != nil {
		s.log.Warn("webhook seen-gate release failed", zap.Error(err))
	}
}

func seenKey(event Event) string {
	return "webhook:mercadopago:" + event.Type + ":" + event.Data.ID
}

func (s *Service) record(ctx context.Context, event Event, payload []byte) *EventRecord {
	record := &EventRecord{
		ID:         s.genID.Generate(),
		Provider:   paymentdomain.ProviderMercadoPago,
		EventType:  event.Type,
		ResourceID: event.Data.ID,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: s.clock.Now(ctx),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.log.Warn("webhook audit insert failed", zap.Error(err))
		return nil
	}
	return record
}

func (s *Service) markProcessed(ctx context.Context, record *EventRecord) {
	if record == nil {
		return
	}
	now := s.clock.Now(ctx)
	if err := s.db.WithContext(ctx).Model(record).Update("processed_at", now).Error; err != nil {
		s.log.Warn("webhook audit update failed", zap.Error(err))
	}
}

func (s *Service) handlePreapproval(ctx context.Context, preapprovalID string) error {
	pa, err := s.recurring.GetPreapproval(ctx, preapprovalID)
	if err != nil {
		return err
	}

	sub, found, err := s.resolveByPreapproval(ctx, pa)
	if err != nil {
		return err
	}
	if !found {
		s.log.Info("webhook preapproval matches no subscription",
			zap.String("preapproval_id", pa.ID))
		return nil
	}

	return s.remapStatus(ctx, sub, pa.Status)
}

// handlePayment is the recurring renewal path: fetch the individual payment,
// and when it belongs to one of our subscriptions and was approved, record
// it through the same idempotency gate as a synchronous validate.
func (s *Service) handlePayment(ctx context.Context, paymentID string) error {
	payment, err := s.recurring.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	conf := payment.Confirmation

	sub, found, err := s.resolveByReference(ctx, conf.ExternalReference)
	if err != nil {
		return err
	}
	if !found && payment.PreapprovalID != "" {
		// The provider sometimes omits the reference on recurring charges;
		// the preapproval link is the fallback correlation key.
		sub, found, err = s.resolveByPreapprovalID(ctx, payment.PreapprovalID)
		if err != nil {
			return err
		}
	}
	if !found {
		s.log.Info("webhook payment matches no subscription",
			zap.String("payment_id", paymentID),
			zap.String("external_reference", conf.ExternalReference))
		return nil
	}

	switch conf.Status {
	case paymentdomain.ConfirmationApproved:
		result, err := s.subscriptionSvc.RecordPayment(ctx, subscriptiondomain.RecordPaymentInput{
			SubscriptionID: sub.ID,
			Provider:       subscriptiondomain.ProviderMercadoPago,
			TransactionID:  conf.TransactionID,
			AmountCents:    conf.AmountCents,
			Currency:       conf.Currency,
			PaymentMethod:  conf.PaymentMethod,
			PaidAt:         conf.PaidAt,
			RawPayload:     conf.RawPayload,
			RollPeriod:     true,
		})
		if err != nil {
			return err
		}
		if !result.Created {
			s.log.Info("renewal payment already recorded",
				zap.String("transaction_id", conf.TransactionID))
		}
		return nil
	case paymentdomain.ConfirmationRejected:
		if sub.Status == subscriptiondomain.StatusActive {
			return s.subscriptionSvc.Transition(ctx, sub.ID,
				subscriptiondomain.StatusPaymentFailed, "recurring charge rejected")
		}
		return nil
	default:
		return nil
	}
}

// remapStatus derives the subscription state purely from the provider's
// reported preapproval status. "pending" only ever downgrades an ACTIVE
// subscription; it never activates one on its own.
func (s *Service) remapStatus(ctx context.Context, sub subscriptiondomain.Subscription, providerStatus string) error {
	switch providerStatus {
	case "authorized":
		return s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.StatusActive, "preapproval authorized")
	case "paused":
		return s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.StatusPaused, "preapproval paused")
	case "cancelled":
		return s.subscriptionSvc.Cancel(ctx, sub.ID, "preapproval cancelled")
	case "pending":
		if sub.Status == subscriptiondomain.StatusActive {
			return s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.StatusPaymentFailed, "preapproval pending")
		}
		return nil
	default:
		s.log.Warn("unmapped preapproval status", zap.String("status", providerStatus))
		return nil
	}
}

func (s *Service) resolveByPreapproval(ctx context.Context, pa *paymentdomain.Preapproval) (subscriptiondomain.Subscription, bool, error) {
	sub, found, err := s.resolveByPreapprovalID(ctx, pa.ID)
	if err != nil || found {
		return sub, found, err
	}
	return s.resolveByReference(ctx, pa.ExternalReference)
}

func (s *Service) resolveByPreapprovalID(ctx context.Context, preapprovalID string) (subscriptiondomain.Subscription, bool, error) {
	sub, err := s.subscriptionSvc.FindByLink(ctx, subscriptiondomain.MercadoPagoLink{PreapprovalID: preapprovalID})
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return subscriptiondomain.Subscription{}, false, err
	}
	return subscriptiondomain.Subscription{}, false, nil
}

func (s *Service) resolveByReference(ctx context.Context, reference string) (subscriptiondomain.Subscription, bool, error) {
	if reference == "" {
		return subscriptiondomain.Subscription{}, false, nil
	}
	id, err := snowflake.ParseString(reference)
	if err != nil {
		return subscriptiondomain.Subscription{}, false, nil
	}
	sub, err := s.subscriptionSvc.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return subscriptiondomain.Subscription{}, false, nil
		}
		return subscriptiondomain.Subscription{}, false, err
	}
	return sub, true, nil
}
