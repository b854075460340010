package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "parking-sessions", cfg.TaskQueue)
	assert.Equal(t, "simulated", cfg.PaymentProvider)
	assert.Equal(t, "7", cfg.PlatformFeePercent.String())
	assert.Equal(t, "0.10", cfg.DefaultRate.StringFixed(2))
	assert.Equal(t, 15*time.Minute, cfg.Policy.HeartbeatGrace)
	assert.Equal(t, 3, cfg.Policy.MaxPaymentAttempts)
	assert.Equal(t, int64(-1), cfg.NodeID, "unset means derived per process")
	assert.Equal(t, 15*time.Minute, cfg.PaymentResolveAfter)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.Capacity)
	assert.Equal(t, 9*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "parking:rl", cfg.RateLimit.Prefix)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("HEARTBEAT_GRACE", "5m")
	t.Setenv("PLATFORM_FEE_PERCENT", "2.5")
	t.Setenv("LEDGER_BACKEND", "bolt")
	t.Setenv("NODE_ID", "7")
	t.Setenv("MAX_PAYMENT_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_CAPACITY", "20")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 5*time.Minute, cfg.Policy.HeartbeatGrace)
	assert.Equal(t, "2.5", cfg.PlatformFeePercent.String())
	assert.Equal(t, "bolt", cfg.LedgerBackend)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.Equal(t, 5, cfg.Policy.MaxPaymentAttempts)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 20, cfg.RateLimit.Capacity)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RESERVATION_HOLD", "soon")
	t.Setenv("NODE_ID", "one")
	t.Setenv("DEFAULT_RATE_PER_MINUTE", "cheap")
	t.Setenv("SIM_DECLINE_RATE", "x")
	t.Setenv("RATE_LIMIT_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.Policy.ReservationHold)
	assert.Equal(t, int64(-1), cfg.NodeID)
	assert.Equal(t, "0.10", cfg.DefaultRate.StringFixed(2))
	assert.Zero(t, cfg.SimDeclineRate)
	assert.True(t, cfg.RateLimit.Enabled)
}
