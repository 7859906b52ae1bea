package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
}

type AppConfig struct {
	Port string `envconfig:"APP_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            string        `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" required:"true"`
	Password        string        `envconfig:"DB_PASSWORD" required:"true"`
	DBName          string        `envconfig:"DB_NAME" required:"true"`
	SSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MigrationsPath  string        `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

// GatewayConfig holds the online payment gateway credentials. The merchant
// code and secret key are issued by the gateway; the secret never leaves the
// process.
type GatewayConfig struct {
	MerchantCode string `envconfig:"GATEWAY_MERCHANT_CODE"`
	SecretKey    string `envconfig:"GATEWAY_SECRET_KEY"`
	PayURL       string `envconfig:"GATEWAY_PAY_URL"`
	ReturnURL    string `envconfig:"GATEWAY_RETURN_URL"`
	// Where the user agent lands after the callback settles. Optional; the
	// callback answers with JSON when unset.
	SuccessURL string `envconfig:"GATEWAY_SUCCESS_URL"`
	FailureURL string `envconfig:"GATEWAY_FAILURE_URL"`
}

// Load reads configuration from the environment, optionally seeded from a
// .env file at path. Missing required keys fail loading rather than
// surfacing later at request time.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (g GatewayConfig) validate() error {
	// The gateway block is all-or-nothing: a deployment without online
	// payments may leave it empty, but a partially filled block means a
	// misconfigured one.
	if g.MerchantCode == "" && g.SecretKey == "" && g.PayURL == "" {
		return nil
	}
	if g.MerchantCode == "" || g.SecretKey == "" || g.PayURL == "" || g.ReturnURL == "" {
		return fmt.Errorf("gateway config incomplete: merchant code, secret key, pay url and return url are all required")
	}
	return nil
}

// Enabled reports whether online payments are configured.
func (g GatewayConfig) Enabled() bool {
	return g.MerchantCode != "" && g.SecretKey != ""
}
