package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete storefront configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Commerce     CommerceConfig
	Payment      PaymentConfig
	Checkout     CheckoutConfig
	Session      SessionConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig controls cart persistence. An empty Addr keeps carts in memory.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for cart sessions"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	CartTTL  time.Duration `default:"720h" usage:"Saved cart lifetime" flag:"cart-ttl"`
}

// KafkaConfig controls checkout event publishing. No brokers means events are
// only logged.
type KafkaConfig struct {
	Brokers              string `default:"" usage:"Comma-separated Kafka brokers"`
	OutcomesTopic        string `default:"checkout.outcomes" usage:"Topic for terminal checkout results" flag:"outcomes-topic"`
	InconsistenciesTopic string `default:"checkout.inconsistencies" usage:"Topic for reconciliation inconsistencies" flag:"inconsistencies-topic"`
}

// CommerceConfig points at the commerce backend REST API.
type CommerceConfig struct {
	BaseURL        string        `default:"" usage:"Commerce REST base URL, e.g. https://shop.example/wp-json/wc/v3" flag:"commerce-url"`
	ConsumerKey    string        `default:"" usage:"Commerce consumer key" flag:"commerce-key"`
	ConsumerSecret string        `default:"" usage:"Commerce consumer secret" flag:"commerce-secret"`
	Timeout        time.Duration `default:"10s" usage:"Commerce request timeout" flag:"commerce-timeout"`
}

// PaymentConfig points at the hosted payment gateway.
type PaymentConfig struct {
	BaseURL        string        `default:"" usage:"Payment gateway API base URL" flag:"payment-url"`
	KeyID          string        `default:"" usage:"Payment gateway key id" flag:"payment-key-id"`
	KeySecret      string        `default:"" usage:"Payment gateway key secret" flag:"payment-key-secret"`
	Currency       string        `default:"INR" usage:"ISO currency code"`
	Timeout        time.Duration `default:"10s" usage:"Payment gateway request timeout" flag:"payment-timeout"`
	SessionTimeout time.Duration `default:"0s" usage:"Fail payment sessions still open after this long; 0 disables" flag:"payment-session-timeout"`
}

// CheckoutConfig tunes the checkout orchestrator.
type CheckoutConfig struct {
	FinalizeTimeout time.Duration `default:"30s" usage:"Bound on the reconciliation phase" flag:"finalize-timeout"`
	CancelTimeout   time.Duration `default:"5s" usage:"Bound on the best-effort cancel update" flag:"cancel-timeout"`
	StatusAttempts  uint          `default:"3" usage:"Tries to mark a paid order completed" flag:"status-attempts"`
	RetryInterval   time.Duration `default:"200ms" usage:"Initial backoff between status tries" flag:"retry-interval"`
	Retention       time.Duration `default:"1h" usage:"How long finished attempts stay queryable" flag:"attempt-retention"`
	MaxWait         time.Duration `default:"25s" usage:"Long-poll bound for attempt status" flag:"max-wait"`
	PublishTimeout  time.Duration `default:"5s" usage:"Bound on each journal write and outcome notification" flag:"publish-timeout"`
	RateLimit       RateLimitConfig
}

// RateLimitConfig controls the per-session token bucket on checkout
// submission.
type RateLimitConfig struct {
	Rate  float64 `default:"0.2" usage:"Sustained checkout submissions per second per session"`
	Burst int     `default:"3" usage:"Checkout submission burst per session"`
}

// SessionConfig controls the cart session cookie.
type SessionConfig struct {
	CookieName  string        `default:"cart_session" usage:"Cart session cookie name" flag:"session-cookie"`
	MaxAge      time.Duration `default:"720h" usage:"Cart session cookie lifetime" flag:"session-max-age"`
	Secure      bool          `default:"false" usage:"Mark the session cookie Secure" flag:"session-secure"`
	IdleTimeout time.Duration `default:"30m" usage:"Drop carts unused this long from memory; Redis-backed carts are restored on next use" flag:"cart-idle-timeout"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Commerce.BaseURL == "" {
		return errors.New("commerce base URL is required: set SHOP_COMMERCE_BASE_URL")
	}
	return nil
}

// applyPlatformDefaults maps the platform-provided DATABASE_URL, REDIS_ADDR
// and PORT variables onto the SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
