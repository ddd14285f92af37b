package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	RedisAddr                string
	DefaultAvgConsultSeconds int
	DefaultMaxTokens         int
	RetryBackoff             time.Duration
	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		DefaultAvgConsultSeconds: readInt("DEFAULT_AVG_CONSULT_SECONDS", 600),
		DefaultMaxTokens:         readInt("DEFAULT_MAX_TOKENS", 20),
		RetryBackoff:             readDurationMillis("RETRY_BACKOFF_MS", 50),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
