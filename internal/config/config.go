// Package config loads process configuration from the environment and the access policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process level configuration.
type Config struct {
	Env          string
	HTTPAddr     string
	GRPCAddr     string
	DBDriver     string
	DBDSN        string
	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool
	PolicyFile   string
	LogLevel     string
	RateBurst    int
	RatePerSec   int
	CORSOrigins  []string
}

const devSecret = "dev-secret-only"

// Load reads an optional .env file and then the GATEKEEPR_* environment.
// Variables already present in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		Env:        getenv("GATEKEEPR_ENV", "prod"),
		HTTPAddr:   getenv("GATEKEEPR_HTTP_ADDR", ":8080"),
		GRPCAddr:   os.Getenv("GATEKEEPR_GRPC_ADDR"),
		DBDriver:   getenv("GATEKEEPR_DB_DRIVER", "sqlite"),
		DBDSN:      getenv("GATEKEEPR_DB_DSN", "file:gatekeepr.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"),
		JWTSecret:  os.Getenv("GATEKEEPR_JWT_SECRET"),
		PolicyFile: os.Getenv("GATEKEEPR_POLICY_FILE"),
		LogLevel:   getenv("GATEKEEPR_LOG_LEVEL", "info"),
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("GATEKEEPR_DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("GATEKEEPR_SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = boolEnv("GATEKEEPR_COOKIE_SECURE", cfg.Env != "dev"); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = intEnv("GATEKEEPR_RATE_BURST", 40); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = intEnv("GATEKEEPR_RATE_PER_SEC", 20); err != nil {
		return Config{}, err
	}
	if raw := os.Getenv("GATEKEEPR_CORS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		if cfg.Env != "dev" {
			return Config{}, errors.New("GATEKEEPR_JWT_SECRET is required outside dev")
		}
		cfg.JWTSecret = devSecret
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: must be a positive integer", key)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}
