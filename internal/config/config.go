package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the API server.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"70s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"70s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	DSN       string `envconfig:"DSN" default:"mathsnap:mathsnap@tcp(localhost:3306)/mathsnap?parseTime=true"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	RememberTTL   time.Duration `envconfig:"REMEMBER_TTL" default:"720h"`
	SecureCookies bool          `envconfig:"SECURE_COOKIES" default:"false"`

	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`

	MaxQuestionsDaily int           `envconfig:"MAX_QUESTIONS_DAILY" default:"5"`
	QuotaCacheTTL     time.Duration `envconfig:"QUOTA_CACHE_TTL" default:"60s"`
	BurstLimit        int           `envconfig:"BURST_LIMIT" default:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("gemini api key must be provided")
	}
	if cfg.MaxQuestionsDaily <= 0 {
		return nil, errors.New("MAX_QUESTIONS_DAILY must be positive")
	}
	return &cfg, nil
}
