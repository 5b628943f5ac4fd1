package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cursolabs/cursopay/internal/clock"
	"github.com/cursolabs/cursopay/internal/config"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	"github.com/cursolabs/cursopay/internal/payment/webhook"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler runs the periodic maintenance sweeps: reaping subscriptions whose
// paid period ended without a renewal, and pruning old webhook audit rows.
type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.SchedulerConfig

	subscriptionSvc subscriptiondomain.Service
	registry        *paymentdomain.Registry
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config

	SubscriptionSvc subscriptiondomain.Service
	Registry        *paymentdomain.Registry
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler"),
		clock:           p.Clock,
		cfg:             p.Cfg.Scheduler,
		subscriptionSvc: p.SubscriptionSvc,
		registry:        p.Registry,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		s.log.Info("scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.ExpireSubscriptionsJob(ctx); err != nil {
		s.log.Error("expire sweep failed", zap.Error(err))
	}
	if err := s.VerifyCapturesJob(ctx); err != nil {
		s.log.Error("capture verification sweep failed", zap.Error(err))
	}
	if err := s.CleanupWebhookEventsJob(ctx); err != nil {
		s.log.Error("webhook retention cleanup failed", zap.Error(err))
	}
}

// ExpireSubscriptionsJob reaps ACTIVE subscriptions whose period ended and
// that will not renew. Auto-renewing subscriptions are left alone: their fate
// is decided by the provider's renewal outcome, not by the clock.
func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context) error {
	now := s.clock.Now(ctx)

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status = ? AND auto_renew = ? AND current_period_end < ?",
			subscriptiondomain.StatusActive, false, now).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	expired := 0
	for _, id := range ids {
		if err := s.subscriptionSvc.Transition(ctx, id, subscriptiondomain.StatusExpired, "period ended"); err != nil {
			s.log.Warn("could not expire subscription",
				zap.String("subscription_id", id.String()), zap.Error(err))
			continue
		}
		expired++
	}

	s.log.Info("expire sweep completed", zap.Int("candidates", len(ids)), zap.Int("expired", expired))
	return nil
}

// VerifyCapturesJob rechecks payments whose capture was approved but held
// for review by the provider, and clears the flag once the capture settles.
func (s *Scheduler) VerifyCapturesJob(ctx context.Context) error {
	adapter, err := s.registry.Get(paymentdomain.ProviderPayPal)
	if err != nil {
		return nil
	}
	verifier, ok := adapter.(paymentdomain.CaptureVerifier)
	if !ok {
		return nil
	}

	var payments []subscriptiondomain.Payment
	err = s.db.WithContext(ctx).
		Where("needs_verification = ? AND payment_provider = ?", true, paymentdomain.ProviderPayPal).
		Limit(100).
		Find(&payments).Error
	if err != nil {
		return err
	}

	for _, p := range payments {
		settled, err := verifier.VerifyCapture(ctx, p.TransactionID)
		if err != nil {
			s.log.Warn("capture verification failed",
				zap.String("payment_id", p.ID.String()),
				zap.String("transaction_id", p.TransactionID),
				zap.Error(err))
			continue
		}
		if !settled {
			continue
		}

		err = s.db.WithContext(ctx).
			Model(&subscriptiondomain.Payment{}).
			Where("id = ?", p.ID).
			Update("needs_verification", false).Error
		if err != nil {
			s.log.Error("could not clear verification flag",
				zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}

		s.log.Info("held capture settled",
			zap.String("payment_id", p.ID.String()),
			zap.String("transaction_id", p.TransactionID))
	}

	return nil
}

// CleanupWebhookEventsJob deletes processed webhook audit rows older than the
// configured retention window.
func (s *Scheduler) CleanupWebhookEventsJob(ctx context.Context) error {
	if s.cfg.WebhookRetentionDays <= 0 {
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -s.cfg.WebhookRetentionDays)
	result := s.db.WithContext(ctx).
		Where("received_at < ? AND processed_at IS NOT NULL", cutoff).
		Delete(&webhook.EventRecord{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		s.log.Info("webhook retention cleanup completed",
			zap.Time("cutoff", cutoff), zap.Int64("deleted", result.RowsAffected))
	}
	return nil
}

var Module = fx.Module("scheduler",
	fx.Provide(New),
)
