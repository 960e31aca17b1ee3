package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"match-state-service/engine"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("ABANDON_POLICY", "")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "3002", cfg.Port)
	assert.Equal(t, ":3002", cfg.ListenAddr())
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 24*time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "matches", cfg.SettlementNamespace)
	assert.False(t, cfg.R2.Enabled())

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyPermissive, policy.Mode)
}

func TestProductionDefaultsToStrict(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ABANDON_POLICY", "")
	t.Setenv("ABANDON_MIN_AGE", "30m")
	t.Setenv("ABANDON_REASONS", "timeout, opponent_left")

	cfg, err := Parse()
	require.NoError(t, err)
	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyStrict, policy.Mode)
	assert.Equal(t, 30*time.Minute, policy.MinAge)
	assert.Equal(t, []string{"timeout", "opponent_left"}, policy.Reasons)
}

func TestExplicitPolicyOverridesEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ABANDON_POLICY", "permissive")

	cfg, err := Parse()
	require.NoError(t, err)
	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyPermissive, policy.Mode)
}

func TestParseRejectsBadValues(t *testing.T) {
	t.Setenv("ABANDON_POLICY", "sometimes")
	_, err := Parse()
	assert.Error(t, err)

	t.Setenv("ABANDON_POLICY", "")
	t.Setenv("CLEANUP_INTERVAL", "soon")
	_, err = Parse()
	assert.Error(t, err)
}

func TestOriginsAreTrimmed(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://a.example , https://b.example,,"}
	assert.Equal(t, "https://a.example,https://b.example", cfg.Origins())
}

func TestR2Enabled(t *testing.T) {
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_ACCESS_KEY_SECRET", "secret")
	t.Setenv("R2_BUCKET_NAME", "bucket")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.True(t, cfg.R2.Enabled())
}
