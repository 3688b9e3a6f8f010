package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Webhook ingestion
	CostTrackingEnabled bool
	WebhookRateLimit    int           // max requests per window, per client
	RateLimitWindow     time.Duration // window length, default 60s
	AllowedSources      []string      // empty means all known sources
	SignatureValidation bool
	SourceSecrets       map[string]string // source name -> HMAC secret

	// Query-surface cache
	RedisCacheEnabled bool
	RedisCacheTTL     time.Duration

	// Media cost tracker collaborator
	MediaRefreshURL string

	// Observability
	OTELExporterType     string  // "stdout" or "otlp"
	OTELExporterEndpoint string  // default: "localhost:4317"
	OTELSampleRatio      float64 // 0..1, default: 1.0

	// Rate Limiting (query API)
	DefaultRateLimitRPM int64 // requests per minute, default: 600
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		MediaRefreshURL:      os.Getenv("MEDIA_REFRESH_URL"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	cfg.CostTrackingEnabled, err = getBool("COST_TRACKING_ENABLED", true)
	if err != nil {
		return nil, err
	}
	cfg.SignatureValidation, err = getBool("WEBHOOK_SIGNATURE_VALIDATION", false)
	if err != nil {
		return nil, err
	}
	cfg.RedisCacheEnabled, err = getBool("COST_REDIS_CACHE_ENABLED", false)
	if err != nil {
		return nil, err
	}

	limit, err := getInt("WEBHOOK_RATE_LIMIT", 60)
	if err != nil {
		return nil, err
	}
	cfg.WebhookRateLimit = limit

	windowSec, err := getInt("RATE_LIMIT_WINDOW", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow = time.Duration(windowSec) * time.Second

	ttlSec, err := getInt("COST_REDIS_CACHE_TTL", 300)
	if err != nil {
		return nil, err
	}
	cfg.RedisCacheTTL = time.Duration(ttlSec) * time.Second

	rpm, err := getInt("DEFAULT_RATE_LIMIT_RPM", 600)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRateLimitRPM = int64(rpm)

	cfg.OTELSampleRatio, err = getFloat("OTEL_SAMPLE_RATIO", 1.0)
	if err != nil {
		return nil, err
	}
	if cfg.OTELSampleRatio < 0 || cfg.OTELSampleRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}

	if raw := os.Getenv("WEBHOOK_ALLOWED_SOURCES"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.AllowedSources = append(cfg.AllowedSources, strings.ToLower(s))
			}
		}
	}

	cfg.SourceSecrets = map[string]string{}
	for source, envKey := range map[string]string{
		"ai":      "AI_WEBHOOK_SECRET",
		"payment": "STRIPE_WEBHOOK_SECRET",
		"media":   "CLOUDINARY_WEBHOOK_SECRET",
	} {
		if secret := os.Getenv(envKey); secret != "" {
			cfg.SourceSecrets[source] = secret
		}
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
