package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// config holds the daemon settings, read from the environment with an
// optional .env file on top.
type config struct {
	DatabaseURL    string
	AdmissionLimit int
	Concurrency    int
	QueueDepth     int
	LeaseDuration  time.Duration
	MaxClaims      int
	SweepCron      string
	SweepInterval  time.Duration
}

func loadConfig(envFile string) (*config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := &config{
		DatabaseURL:   getenv("MARKET_DATABASE_URL", "market.db"),
		SweepCron:     os.Getenv("MARKET_SWEEP_CRON"),
		SweepInterval: time.Minute,
	}

	var err error
	if cfg.AdmissionLimit, err = getenvInt("MARKET_ADMISSION_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = getenvInt("MARKET_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.QueueDepth, err = getenvInt("MARKET_QUEUE_DEPTH", 64); err != nil {
		return nil, err
	}
	if cfg.MaxClaims, err = getenvInt("MARKET_MAX_CLAIMS", 0); err != nil {
		return nil, err
	}
	if v := os.Getenv("MARKET_LEASE_DURATION"); v != "" {
		if cfg.LeaseDuration, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("MARKET_LEASE_DURATION: %w", err)
		}
	}
	if v := os.Getenv("MARKET_SWEEP_INTERVAL"); v != "" {
		if cfg.SweepInterval, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("MARKET_SWEEP_INTERVAL: %w", err)
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// openDatabase dials postgres for postgres:// URLs and treats anything else
// as a sqlite file path.
func openDatabase(url string) (*gorm.DB, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return gorm.Open(postgres.Open(url), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(url), &gorm.Config{})
}
