package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"carvault"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"carvault"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`
	}

	Custody struct {
		// CommissionRateBP is the default platform commission in basis
		// points when a sale does not specify one.
		CommissionRateBP  int64         `envconfig:"COMMISSION_RATE_BP" default:"500"`
		NegotiationWindow time.Duration `envconfig:"NEGOTIATION_WINDOW" default:"48h"`
		SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	}

	Compliance struct {
		// DeniedParties is a comma-separated screening list. A real
		// deployment would sync this from a sanctions feed.
		DeniedParties []string `envconfig:"COMPLIANCE_DENIED_PARTIES" default:""`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
