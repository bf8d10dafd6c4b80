package auditfetch

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds environment defaults for clients built with NewFromConfig.
type Config struct {
	APIURL          string `env:"AUDITFETCH_API_URL"`
	APIBaseURL      string `env:"AUDITFETCH_API_BASE_URL"`
	Origin          string `env:"AUDITFETCH_ORIGIN"`
	TokenTemplate   string `env:"AUDITFETCH_TOKEN_TEMPLATE"`
	MaxResponseSize int64  `env:"AUDITFETCH_MAX_RESPONSE_SIZE" envDefault:"0"`
}

func LoadConfig() (Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse auditfetch config: %w", err)
	}

	return cfg, nil
}

// DefaultBaseURL prefers AUDITFETCH_API_URL over AUDITFETCH_API_BASE_URL.
func (c Config) DefaultBaseURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}

	return c.APIBaseURL
}
