package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database    Database    `envPrefix:"DB_"`
	Redis       Redis       `envPrefix:"REDIS_"`
	Paypal      Paypal      `envPrefix:"PAYPAL_"`
	Storage     Storage     `envPrefix:"STORAGE_"`
	Auth        Auth        `envPrefix:"AUTH_"`
	Downloads   Downloads   `envPrefix:"DOWNLOAD_"`
	Entitlement Entitlement `envPrefix:"ENTITLEMENT_"`
	Webhook     Webhook     `envPrefix:"WEBHOOK_"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
	Currency     string `env:"CURRENCY" envDefault:"USD"`
	BrandName    string `env:"BRAND_NAME" envDefault:"Beatstore"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"` // sqlite | mysql
	URL    string `env:"URL" envDefault:"beatstore.db"`
}

type Redis struct {
	Addr     string `env:"ADDR"` // empty disables the shared token cache
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Storage struct {
	Root           string        `env:"ROOT" envDefault:"./data/blobs"`
	SigningSecret  string        `env:"SIGNING_SECRET"`
	SignedURLTTL   time.Duration `env:"SIGNED_URL_TTL" envDefault:"15m"`
	AssetBucket    string        `env:"ASSET_BUCKET" envDefault:"assets"`
	LicenseBucket  string        `env:"LICENSE_BUCKET" envDefault:"licenses"`
	TemplateBucket string        `env:"TEMPLATE_BUCKET" envDefault:"license-templates"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Downloads struct {
	Window time.Duration `env:"WINDOW" envDefault:"168h"`
}

type Entitlement struct {
	Workers    int           `env:"WORKERS" envDefault:"4"`
	RightsFile string        `env:"RIGHTS_FILE"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"2m"`
}

type Webhook struct {
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"1m"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"10"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"50"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// Load parses the process environment into a Config. The result is a
// snapshot: nothing re-reads the environment after startup.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Storage.SigningSecret == "" {
		if cfg.Environment.Name == "production" {
			return Config{}, fmt.Errorf("STORAGE_SIGNING_SECRET is required in production")
		}
		cfg.Storage.SigningSecret = "dev-signing-secret"
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}

// WithOverrides returns a copy of p with database-stored settings applied.
// Keys mirror the env names without the PAYPAL_ prefix.
func (p Paypal) WithOverrides(settings map[string]string) Paypal {
	out := p
	if v := settings["CLIENT_ID"]; v != "" {
		out.ClientID = v
	}
	if v := settings["CLIENT_SECRET"]; v != "" {
		out.ClientSecret = v
	}
	if v := settings["WEBHOOK_ID"]; v != "" {
		out.WebhookID = v
	}
	if v := settings["BASE_API_URL"]; v != "" {
		out.BaseApiURL = v
	}
	if v := settings["CURRENCY"]; v != "" {
		out.Currency = v
	}
	return out
}
