// Package config loads service settings from kambafy.yaml, KAMBAFY_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "KAMBAFY"

type Settings struct {
	HTTP          HTTPSettings          `mapstructure:"http"`
	Database      DatabaseSettings      `mapstructure:"database"`
	Redis         RedisSettings         `mapstructure:"redis"`
	AMQP          AMQPSettings          `mapstructure:"amqp"`
	Auth          AuthSettings          `mapstructure:"auth"`
	Rate          RateSettings          `mapstructure:"rate"`
	Webhooks      WebhookSettings       `mapstructure:"webhooks"`
	Partner       PartnerSettings       `mapstructure:"partner"`
	Observability ObservabilitySettings `mapstructure:"observability"`
	Log           LogSettings           `mapstructure:"log"`
}

type HTTPSettings struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type DatabaseSettings struct {
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisSettings struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

type AMQPSettings struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Queue string `mapstructure:"queue" validate:"required_with=URL"`
}

type AuthSettings struct {
	Mode       string `mapstructure:"mode" validate:"oneof=dev hmac"`
	HMACSecret string `mapstructure:"hmac_secret" validate:"required_if=Mode hmac"`
}

type RateSettings struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

type WebhookSettings struct {
	UserAgent      string        `mapstructure:"user_agent" validate:"required"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
}

type PartnerSettings struct {
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BaseDelay      time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
}

type ObservabilitySettings struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	// TracingURL is an OTLP/HTTP host:port; empty disables export.
	TracingURL string `mapstructure:"tracing_url"`
}

type LogSettings struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

func (s *Settings) Validate() error {
	return validator.New().Struct(s)
}

// SlogLevel maps Log.Level onto a slog level.
func (s *Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.migrate", true)
	v.SetDefault("amqp.queue", "kambafy.webhook-events")
	v.SetDefault("auth.mode", "dev")
	v.SetDefault("rate.rps", 20)
	v.SetDefault("rate.burst", 40)
	v.SetDefault("webhooks.user_agent", "Kambafy-Webhooks/1.0")
	v.SetDefault("webhooks.default_timeout", 30*time.Second)
	v.SetDefault("partner.max_attempts", 3)
	v.SetDefault("partner.base_delay", 2*time.Second)
	v.SetDefault("partner.attempt_timeout", 10*time.Second)
	v.SetDefault("observability.service_name", "kambafy-webhooks")
	v.SetDefault("log.level", "info")
}

var keys = []string{
	"http.addr",
	"database.url", "database.migrate",
	"redis.url",
	"amqp.url", "amqp.queue",
	"auth.mode", "auth.hmac_secret",
	"rate.rps", "rate.burst",
	"webhooks.user_agent", "webhooks.default_timeout",
	"partner.max_attempts", "partner.base_delay", "partner.attempt_timeout",
	"observability.service_name", "observability.tracing_url",
	"log.level",
}

// Load reads .env (if present) into the process environment, then kambafy.yaml
// from dir or the working directory, then KAMBAFY_* overrides.
func Load(dir string) (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetConfigName("kambafy")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
