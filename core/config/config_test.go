package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AION_RPC_URL", "AION_ADMIN_USER", "AION_ADMIN_PASSWORD", "AION_DATABASE_URL",
		"AION_DEFAULT_CHAIN_ID", "AION_HTTP_ADDR", "AION_MAX_CONCURRENT",
		"AION_DOMAIN_NAME", "AION_DOMAIN_VERSION", "AION_GAS_PAYER_KEY",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("", logger.TestLogger())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 3, cfg.MaxConcurrent)
	require.Equal(t, int64(1337), cfg.DefaultChainID)
	require.Equal(t, "AION", cfg.DomainName)
	require.NotNil(t, cfg.GasPayerPrivateKey, "a missing key should fall back to a generated development key")
}

func TestLoad_ReadsEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("AION_HTTP_ADDR", ":9090")
	os.Setenv("AION_MAX_CONCURRENT", "5")
	os.Setenv("AION_ADMIN_USER", "admin")
	os.Setenv("AION_ADMIN_PASSWORD", "secret")
	t.Cleanup(func() { clearEnv(t) })

	cfg, err := config.Load("", logger.TestLogger())
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 5, cfg.MaxConcurrent)
	require.True(t, cfg.AdminCredentialConfigured())
}

func TestLoad_RejectsMaxConcurrentOutOfRange(t *testing.T) {
	clearEnv(t)
	os.Setenv("AION_MAX_CONCURRENT", "20")
	t.Cleanup(func() { clearEnv(t) })

	_, err := config.Load("", logger.TestLogger())
	require.Error(t, err)
}

func TestAdminCredentialConfigured_FalseWhenEitherFieldMissing(t *testing.T) {
	cfg := &config.Config{AdminUser: "admin"}
	require.False(t, cfg.AdminCredentialConfigured())

	cfg = &config.Config{AdminUser: "admin", AdminPassword: "secret"}
	require.True(t, cfg.AdminCredentialConfigured())
}

func TestChainID_ReflectsDefaultChainID(t *testing.T) {
	cfg := &config.Config{DefaultChainID: 42}
	require.Equal(t, int64(42), cfg.ChainID().Int64())
}
