package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by STRATUM_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("STRATUM_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// RedisAddr returns the redis host:port for the shared edge limiter. Empty
// means no redis: the edge limiter falls back to per-instance token buckets.
func RedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

func RedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}

func RedisDB() int {
	db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		return 0
	}
	return db
}

// JWTSecret returns the HMAC secret for verifying user bearer tokens.
func JWTSecret() string {
	return os.Getenv("JWT_SECRET")
}

// LimitsFile returns the path of the rate limit policy file.
func LimitsFile() string {
	p := os.Getenv("LIMITS_FILE")
	if p == "" {
		return "config/limits.yaml"
	}
	return p
}

// CleanupInterval returns how often the rate limit sweeper runs.
// Defaults to 1h if not set.
func CleanupInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("CLEANUP_INTERVAL"))
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// CleanupRetention returns how long closed rate limit windows are kept.
// Defaults to 24h if not set.
func CleanupRetention() time.Duration {
	d, err := time.ParseDuration(os.Getenv("CLEANUP_RETENTION"))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RateLimitRPS returns requests per second for the edge limiter.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for the edge limiter.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
