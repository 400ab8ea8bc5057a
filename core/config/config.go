// Package config loads relayer configuration from the environment (and
// an optional TOML file) using spf13/viper, following the same
// env-binding convention chainlink's own config layer uses.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/aionpay/relayer/core/logger"
)

// EnvPrefix is prepended to every environment variable the relayer reads.
const EnvPrefix = "AION"

// Config is the fully-resolved, validated configuration for one relayer
// process.
type Config struct {
	RPCURL             string
	GasPayerPrivateKey *ecdsa.PrivateKey
	AdminUser          string
	AdminPassword      string
	DatabaseURL        string
	DefaultChainID     int64
	HTTPAddr           string
	MaxConcurrent      int
	DomainName         string
	DomainVersion      string
}

// Load reads configuration from the environment (prefixed AION_) and an
// optional TOML file at path (ignored if empty or missing).
func Load(path string, lggr logger.Logger) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("max_concurrent", 3)
	v.SetDefault("default_chain_id", 1337)
	v.SetDefault("domain_name", "AION")
	v.SetDefault("domain_version", "1")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			lggr.Warnw("could not read config file, continuing with environment only", "path", path, "err", err)
		}
	}

	cfg := &Config{
		RPCURL:         v.GetString("rpc_url"),
		AdminUser:      v.GetString("admin_user"),
		AdminPassword:  v.GetString("admin_password"),
		DatabaseURL:    v.GetString("database_url"),
		DefaultChainID: v.GetInt64("default_chain_id"),
		HTTPAddr:       v.GetString("http_addr"),
		MaxConcurrent:  v.GetInt("max_concurrent"),
		DomainName:     v.GetString("domain_name"),
		DomainVersion:  v.GetString("domain_version"),
	}

	if cfg.MaxConcurrent < 1 || cfg.MaxConcurrent > 10 {
		return nil, errors.Errorf("max_concurrent must be in [1,10], got %d", cfg.MaxConcurrent)
	}

	key, err := resolveGasPayerKey(v.GetString("gas_payer_key"), lggr)
	if err != nil {
		return nil, err
	}
	cfg.GasPayerPrivateKey = key

	return cfg, nil
}

// resolveGasPayerKey validates the configured private key is 32 bytes of
// hex and non-zero. A malformed key is not fatal: it logs a warning and
// substitutes a freshly generated development-only key, per spec.
func resolveGasPayerKey(hexKey string, lggr logger.Logger) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	if len(hexKey) == 64 {
		key, err := crypto.HexToECDSA(hexKey)
		if err == nil && !isAllZero(key) {
			return key, nil
		}
	}

	lggr.Warnw("gas payer private key missing or malformed; generating a development-only key. " +
		"DO NOT use this in production.")
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate development gas payer key")
	}
	return key, nil
}

func isAllZero(key *ecdsa.PrivateKey) bool {
	return key.D.Sign() == 0
}

// ChainID returns the configured default chain id as a *big.Int.
func (c *Config) ChainID() *big.Int {
	return big.NewInt(c.DefaultChainID)
}

// AdminCredentialConfigured reports whether HTTP Basic auth can be
// enforced on the admin endpoint.
func (c *Config) AdminCredentialConfigured() bool {
	return c.AdminUser != "" && c.AdminPassword != ""
}

// String renders a redacted summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("rpc=%s chainID=%d httpAddr=%s maxConcurrent=%d dbConfigured=%v",
		c.RPCURL, c.DefaultChainID, c.HTTPAddr, c.MaxConcurrent, c.DatabaseURL != "")
}

// RetryPollInterval is how often the scheduler tick fires (spec §4.5).
const RetryPollInterval = 5 * time.Second

// HeartbeatInterval is how often the event bus pings subscribers (spec §4.3/§6).
const HeartbeatInterval = 30 * time.Second

// MaxRetries is the maximum number of retryable attempts before a
// transfer is terminally failed (spec §4.5).
const MaxRetries = 3

// GracePeriod is the withdrawal lockout grace window (spec §4.1 check 6).
const GracePeriod = 300 * time.Second
