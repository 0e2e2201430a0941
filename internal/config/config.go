package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	AuthProjectID string `env:"AUTH_PROJECT_ID,required"`
	AuthIssuer    string `env:"AUTH_ISSUER"`
	AuthCertsURL  string `env:"AUTH_CERTS_URL" envDefault:"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.AuthIssuer == "" {
		cfg.AuthIssuer = fmt.Sprintf("https://securetoken.google.com/%s", cfg.AuthProjectID)
	}
	return &cfg, nil
}
