package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/cursolabs/cursopay/internal/config"
	"github.com/cursolabs/cursopay/internal/payment/reconcile"
	paymentservice "github.com/cursolabs/cursopay/internal/payment/service"
	"github.com/cursolabs/cursopay/internal/payment/webhook"
	subscriptiondomain "github.com/cursolabs/cursopay/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB

	checkoutSvc     *paymentservice.CheckoutService
	reconcileSvc    *reconcile.Service
	webhookSvc      *webhook.Service
	subscriptionSvc subscriptiondomain.Service
	registry        *prometheus.Registry
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB

	CheckoutSvc     *paymentservice.CheckoutService
	ReconcileSvc    *reconcile.Service
	WebhookSvc      *webhook.Service
	SubscriptionSvc subscriptiondomain.Service
	Registry        *prometheus.Registry
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		db:              p.DB,
		checkoutSvc:     p.CheckoutSvc,
		reconcileSvc:    p.ReconcileSvc,
		webhookSvc:      p.WebhookSvc,
		subscriptionSvc: p.SubscriptionSvc,
		registry:        p.Registry,
	}
}

func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// Each path position holds a single wildcard: checkout and the webhook
	// get their own prefixes so /subscriptions/:id stays unambiguous.
	api := router.Group("/api")
	{
		api.POST("/checkout/:provider", s.CreateCheckout)
		api.GET("/subscriptions/:id", s.GetSubscription)
		api.GET("/subscriptions/:id/payments", s.ListSubscriptionPayments)
		api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
		api.POST("/webhooks/mercadopago", s.HandleWebhook)

		api.POST("/payments/:provider/validate", s.ValidatePayment)
		api.GET("/payments/:provider/return", s.PaymentReturn)
		api.POST("/payments/:provider/return", s.PaymentReturn)
		api.GET("/payments/:provider/cancel", s.PaymentCancelled)
	}
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
