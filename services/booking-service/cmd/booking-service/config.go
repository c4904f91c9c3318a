package main

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/config"
)

type serviceConfig struct {
	Service      string
	Port         string
	GRPCPort     string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string

	JWTSecret string
	JWKSURL   string

	DefaultBufferMinutes int
	WeeklyCancelCap      int
	BlocklistTTL         time.Duration
	OTPMaxAttempts       int
	OTPTTL               time.Duration
	SessionTTL           time.Duration
	SweepInterval        time.Duration
	RateLimitPerMinute   int
	CORSOrigins          []string

	SMSProvider     string
	SMSWebhookURL   string
	SMSWebhookToken string
}

// loadConfig reads the environment and reports every malformed value at once.
func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:         config.String("SERVICE_NAME", "booking-service"),
		RedisURL:        config.String("REDIS_URL", ""),
		KafkaBrokers:    config.String("KAFKA_BROKERS", ""),
		JWTSecret:       config.String("JWT_SECRET", ""),
		JWKSURL:         config.String("JWKS_URL", ""),
		CORSOrigins:     config.List("CORS_ALLOWED_ORIGINS"),
		SMSProvider:     config.String("SMS_PROVIDER", "noop"),
		SMSWebhookURL:   config.String("SMS_WEBHOOK_URL", ""),
		SMSWebhookToken: config.String("SMS_WEBHOOK_TOKEN", ""),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	cfg.Port, err = config.Port("PORT", "8083")
	collect(err)
	cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093")
	collect(err)
	cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL")
	collect(err)
	cfg.DefaultBufferMinutes, err = config.Int("DEFAULT_BUFFER_MINUTES", 10)
	collect(err)
	cfg.WeeklyCancelCap, err = config.Int("CANCEL_WEEKLY_CAP", 2)
	collect(err)
	cfg.BlocklistTTL, err = config.Duration("BLOCKLIST_CACHE_TTL", 30*time.Second)
	collect(err)
	cfg.OTPMaxAttempts, err = config.Int("OTP_MAX_ATTEMPTS", 3)
	collect(err)
	cfg.OTPTTL, err = config.Duration("OTP_TTL", 10*time.Minute)
	collect(err)
	cfg.SessionTTL, err = config.Duration("FLOW_SESSION_TTL", 30*time.Minute)
	collect(err)
	cfg.SweepInterval, err = config.Duration("COMPLETION_SWEEP_INTERVAL", time.Minute)
	collect(err)
	cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120)
	collect(err)

	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWKS_URL is required for the admin endpoints"))
	}
	return cfg, errors.Join(errs...)
}
