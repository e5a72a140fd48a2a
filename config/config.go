/*
Package config loads runtime configuration from the environment.

Business constants that were hard-coded upstream (commission rate,
expiry windows) live here as configuration, not structural logic.
A .env file is honored in development; real environments set variables
directly.
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server
	Port    string
	BaseURL string

	// Database
	DBPath string

	// Points policy
	PointsExpiryDays     int
	ExpiringReminderDays int

	// Referral policy
	CommissionRate        decimal.Decimal
	ReferralCodeValidDays int

	// Concurrency
	LockTimeout time.Duration

	// Scheduler
	SweepInterval time.Duration

	// Logging
	LogLevel string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	return &Config{
		Port:    getEnv("PORT", "8080"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		DBPath: getEnv("DB_PATH", "loyalty.db"),

		PointsExpiryDays:     getEnvInt("POINTS_EXPIRY_DAYS", 365),
		ExpiringReminderDays: getEnvInt("EXPIRING_REMINDER_DAYS", 30),

		CommissionRate:        getEnvDecimal("COMMISSION_RATE", "0.08"),
		ReferralCodeValidDays: getEnvInt("REFERRAL_CODE_EXPIRY_DAYS", 365),

		LockTimeout: getEnvDuration("LOCK_TIMEOUT", 2*time.Second),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid decimal, using default")
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}
