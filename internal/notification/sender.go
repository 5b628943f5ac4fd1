package notification

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Attachment struct {
	Filename string
	Data     []byte
}

// Sender delivers the welcome message after a first successful payment.
// Delivery is fire-and-forget: the reconcile flow logs a failure and moves
// on, since the payment itself already succeeded.
type Sender interface {
	SendWelcomeEmail(ctx context.Context, email, name, planName string, attachments ...Attachment) error
}

// LogSender records the send instead of delivering it. Stands in until a
// real mail transport is wired.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) Sender {
	return &LogSender{log: log.Named("notification.sender")}
}

func (s *LogSender) SendWelcomeEmail(ctx context.Context, email, name, planName string, attachments ...Attachment) error {
	s.log.Info("welcome email",
		zap.String("email", email),
		zap.String("name", name),
		zap.String("plan", planName),
		zap.Int("attachments", len(attachments)))
	return nil
}

var Module = fx.Module("notification",
	fx.Provide(NewLogSender),
)
