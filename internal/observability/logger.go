package observability

import (
	"github.com/cursolabs/cursopay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

var Module = fx.Module("observability",
	fx.Provide(NewLogger),
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewPaymentMetrics),
	fx.Provide(NewTracerProvider),
)
