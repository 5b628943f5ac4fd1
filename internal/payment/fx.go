package payment

import (
	"errors"

	"github.com/cursolabs/cursopay/internal/config"
	"github.com/cursolabs/cursopay/internal/payment/adapters/mercadopago"
	"github.com/cursolabs/cursopay/internal/payment/adapters/paypal"
	"github.com/cursolabs/cursopay/internal/payment/adapters/webpay"
	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	"github.com/cursolabs/cursopay/internal/payment/oauth"
	"github.com/cursolabs/cursopay/internal/payment/reconcile"
	"github.com/cursolabs/cursopay/internal/payment/service"
	"github.com/cursolabs/cursopay/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the configured provider adapters into the registry and the
// services that consume them. A provider with missing credentials is left
// out of the registry and surfaces ErrProviderNotFound at request time, so
// a deployment can run with any subset of providers configured.
var Module = fx.Module("payment",
	fx.Provide(
		oauth.NewCache,
		newWebpayAdapter,
		newMercadoPagoAdapter,
		newPayPalAdapter,
		newRegistry,
		func(a *mercadopago.Adapter) paymentdomain.RecurringAdapter {
			if a == nil {
				return nil
			}
			return a
		},
		service.NewCheckoutService,
		reconcile.NewService,
		webhook.NewService,
	),
)

func newWebpayAdapter(cfg config.Config) (*webpay.Adapter, error) {
	adapter, err := webpay.New(webpay.Config{
		DefaultCommerceCode: cfg.Providers.Webpay.CommerceCode,
		DefaultAPIKey:       cfg.Providers.Webpay.APIKey,
		BaseURL:             cfg.Providers.Webpay.BaseURL,
		Timeout:             cfg.Providers.RequestTimeout,
	})
	if errors.Is(err, paymentdomain.ErrProviderConfig) {
		return nil, nil
	}
	return adapter, err
}

func newMercadoPagoAdapter(cfg config.Config, tokens *oauth.Cache) (*mercadopago.Adapter, error) {
	adapter, err := mercadopago.New(mercadopago.Config{
		DefaultCredentials: paymentdomain.Credentials{
			ID:     cfg.Providers.MercadoPago.ClientID,
			Secret: cfg.Providers.MercadoPago.ClientSecret,
		},
		BaseURL: cfg.Providers.MercadoPago.BaseURL,
		Timeout: cfg.Providers.RequestTimeout,
	}, tokens)
	if errors.Is(err, paymentdomain.ErrProviderConfig) {
		return nil, nil
	}
	return adapter, err
}

func newPayPalAdapter(cfg config.Config, tokens *oauth.Cache) (*paypal.Adapter, error) {
	adapter, err := paypal.New(paypal.Config{
		DefaultCredentials: paymentdomain.Credentials{
			ID:     cfg.Providers.PayPal.ClientID,
			Secret: cfg.Providers.PayPal.ClientSecret,
		},
		BaseURL: cfg.Providers.PayPal.BaseURL,
		Timeout: cfg.Providers.RequestTimeout,
	}, tokens)
	if errors.Is(err, paymentdomain.ErrProviderConfig) {
		return nil, nil
	}
	return adapter, err
}

func newRegistry(log *zap.Logger, wp *webpay.Adapter, mp *mercadopago.Adapter, pp *paypal.Adapter) *paymentdomain.Registry {
	var adapters []paymentdomain.ProviderAdapter
	if wp != nil {
		adapters = append(adapters, wp)
	}
	if mp != nil {
		adapters = append(adapters, mp)
	}
	if pp != nil {
		adapters = append(adapters, pp)
	}
	if len(adapters) == 0 {
		log.Warn("no payment providers configured")
	}
	return paymentdomain.NewRegistry(adapters...)
}
