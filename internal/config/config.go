package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	HTTPAddr        string
	BaseURL         string
	Environment     string
	ShutdownTimeout time.Duration

	Database     DatabaseConfig
	Redis        RedisConfig
	Providers    ProvidersConfig
	Scheduler    SchedulerConfig
	OTLPEndpoint string
}

type SchedulerConfig struct {
	// SweepInterval is how often expired subscriptions are reaped. Zero
	// disables the sweeper.
	SweepInterval time.Duration
	// WebhookRetentionDays bounds how long processed webhook audit rows are
	// kept. Zero or negative disables retention cleanup.
	WebhookRetentionDays int
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProvidersConfig carries the environment-level default credentials for each
// payment provider. Per-creator credentials, when present, are resolved against
// these defaults before an adapter is built; adapters never read the environment.
type ProvidersConfig struct {
	Webpay      WebpayCredentials
	MercadoPago MercadoPagoCredentials
	PayPal      PayPalCredentials

	// RequestTimeout bounds every provider HTTP call.
	RequestTimeout time.Duration
}

type WebpayCredentials struct {
	CommerceCode string
	APIKey       string
	BaseURL      string
}

type MercadoPagoCredentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

type PayPalCredentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("environment", "development")
	v.SetDefault("shutdown_timeout", "15s")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("provider_timeout", "30s")
	v.SetDefault("sweep_interval", "1h")
	v.SetDefault("webhook_retention_days", 90)
	v.SetDefault("webpay_base_url", "https://webpay3gint.transbank.cl")
	v.SetDefault("mercadopago_base_url", "https://api.mercadopago.com")
	v.SetDefault("paypal_base_url", "https://api-m.sandbox.paypal.com")

	cfg := Config{
		HTTPAddr:        v.GetString("http_addr"),
		BaseURL:         strings.TrimRight(v.GetString("base_url"), "/"),
		Environment:     v.GetString("environment"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		Database: DatabaseConfig{
			Driver: v.GetString("db_driver"),
			DSN:    v.GetString("db_dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Providers: ProvidersConfig{
			RequestTimeout: v.GetDuration("provider_timeout"),
			Webpay: WebpayCredentials{
				CommerceCode: v.GetString("webpay_commerce_code"),
				APIKey:       v.GetString("webpay_api_key"),
				BaseURL:      v.GetString("webpay_base_url"),
			},
			MercadoPago: MercadoPagoCredentials{
				ClientID:     v.GetString("mercadopago_client_id"),
				ClientSecret: v.GetString("mercadopago_client_secret"),
				BaseURL:      v.GetString("mercadopago_base_url"),
			},
			PayPal: PayPalCredentials{
				ClientID:     v.GetString("paypal_client_id"),
				ClientSecret: v.GetString("paypal_client_secret"),
				BaseURL:      v.GetString("paypal_base_url"),
			},
		},
		Scheduler: SchedulerConfig{
			SweepInterval:        v.GetDuration("sweep_interval"),
			WebhookRetentionDays: v.GetInt("webhook_retention_days"),
		},
		OTLPEndpoint: v.GetString("otlp_endpoint"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects only structurally broken configuration. Missing provider
// credentials are allowed at startup; the affected adapter fails with a config
// error when it is actually used.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return errors.New("config: unsupported db driver " + c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: DB_DSN is required")
	}
	if c.Providers.RequestTimeout <= 0 {
		return errors.New("config: provider timeout must be positive")
	}
	return nil
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
