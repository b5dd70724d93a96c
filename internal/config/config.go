// internal/config/config.go
//
// Runtime configuration read from the environment.
// A .env file in the working directory is loaded first when present
// (development); real environment variables always win.
//
// Environment variables:
//   PORT              HTTP listen port (default 5175)
//   LOG_LEVEL         zerolog level name (default info)
//   DB_PATH           SQLite file for results and accounts (default ./data/app.db)
//   JWT_SECRET        HMAC secret for auth tokens
//   JWT_EXPIRES_DAYS  token lifetime in days (default 14)
//   COOKIE_NAME       auth cookie name (default gridmemory_token)
//   CLIENT_ORIGIN     allowed CORS origin (default http://localhost:5173)
//   NODE_ENV          "production" enables secure cookies and JSON logs
//   SESSION_TTL       idle time before a game session is dropped (default 30m)

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const devSecret = "dev_secret_change_me"

type Config struct {
	Port           string
	LogLevel       string
	DBPath         string
	JWTSecret      string
	JWTExpiresDays int
	CookieName     string
	ClientOrigin   string
	Production     bool
	SessionTTL     time.Duration
}

// Load reads .env (if any) and the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		Port:           envStr("PORT", "5175"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DBPath:         envStr("DB_PATH", "./data/app.db"),
		JWTSecret:      envStr("JWT_SECRET", devSecret),
		JWTExpiresDays: envInt("JWT_EXPIRES_DAYS", 14),
		CookieName:     envStr("COOKIE_NAME", "gridmemory_token"),
		ClientOrigin:   envStr("CLIENT_ORIGIN", "http://localhost:5173"),
		Production:     os.Getenv("NODE_ENV") == "production",
		SessionTTL:     envDuration("SESSION_TTL", 30*time.Minute),
	}
}

// InsecureSecret reports whether the built-in development secret is in use.
func (c Config) InsecureSecret() bool { return c.JWTSecret == devSecret }

func envStr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
