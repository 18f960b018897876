package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "")
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.GatewayMaxAttempts)
	assert.True(t, cfg.CookieSecure)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "4")
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "5")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("CORS_ORIGINS", "https://shop.example, ,https://www.shop.example")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 4*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 5, cfg.GatewayMaxAttempts)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"https://shop.example", "https://www.shop.example"}, cfg.CORSOrigins)
}

func TestFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "soon")
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "-1")

	cfg := FromEnv()

	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 3, cfg.GatewayMaxAttempts)
}
