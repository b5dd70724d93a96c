package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "DB_PATH", "JWT_SECRET", "JWT_EXPIRES_DAYS",
		"COOKIE_NAME", "CLIENT_ORIGIN", "NODE_ENV", "SESSION_TTL"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Port != "5175" || c.LogLevel != "info" || c.JWTExpiresDays != 14 {
		t.Fatalf("defaults = %+v", c)
	}
	if c.SessionTTL != 30*time.Minute || c.Production || !c.InsecureSecret() {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_DAYS", "3")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("SESSION_TTL", "90s")

	c := FromEnv()
	if c.Port != "9000" || c.JWTExpiresDays != 3 || !c.Production || c.InsecureSecret() {
		t.Fatalf("overrides = %+v", c)
	}
	if c.SessionTTL != 90*time.Second {
		t.Fatalf("SessionTTL = %v", c.SessionTTL)
	}
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("JWT_EXPIRES_DAYS", "soon")
	t.Setenv("SESSION_TTL", "-5m")
	c := FromEnv()
	if c.JWTExpiresDays != 14 || c.SessionTTL != 30*time.Minute {
		t.Fatalf("garbage not ignored: %+v", c)
	}
}
