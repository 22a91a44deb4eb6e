// Package config loads the engine's runtime configuration from the
// environment, with an optional .env file for development. Every bounded
// parameter is validated at load so a bad deployment fails at startup
// rather than at the first wager.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	Vault   VaultConfig
	Engine  EngineConfig
	Rewards RewardsConfig
}

// VaultConfig bounds the liquidity pool.
type VaultConfig struct {
	UtilizationCapBps int64
	PerTicketCapBps   int64
	BufferBps         int64
	MinDeposit        int64 // micro-units
	LockerShareBps    int64
	SafetyShareBps    int64
	Account           string
	SafetyAccount     string
}

// EngineConfig prices and gates wagers.
type EngineConfig struct {
	BaseEdgeBps       int64
	PerLegEdgeBps     int64
	MinStake          int64 // micro-units
	CashoutPenaltyBps int64
	BootstrapWindow   time.Duration
	DisputeWindow     time.Duration
}

// RewardsConfig parameterizes the lock ledger.
type RewardsConfig struct {
	BasePenaltyBps int64
	Account        string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        envString("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	v := &cfg.Vault
	v.Account = envString("VAULT_ACCOUNT", "vault")
	v.SafetyAccount = envString("SAFETY_ACCOUNT", "safety")
	if v.UtilizationCapBps, err = envInt64("VAULT_UTILIZATION_CAP_BPS", 8_000); err != nil {
		return nil, err
	}
	if v.PerTicketCapBps, err = envInt64("VAULT_PER_TICKET_CAP_BPS", 500); err != nil {
		return nil, err
	}
	if v.BufferBps, err = envInt64("VAULT_BUFFER_BPS", 2_000); err != nil {
		return nil, err
	}
	if v.MinDeposit, err = envInt64("VAULT_MIN_DEPOSIT_MICRO", 1_000_000); err != nil {
		return nil, err
	}
	if v.LockerShareBps, err = envInt64("FEE_LOCKER_SHARE_BPS", 5_000); err != nil {
		return nil, err
	}
	if v.SafetyShareBps, err = envInt64("FEE_SAFETY_SHARE_BPS", 2_000); err != nil {
		return nil, err
	}

	e := &cfg.Engine
	if e.BaseEdgeBps, err = envInt64("EDGE_BASE_BPS", 100); err != nil {
		return nil, err
	}
	if e.PerLegEdgeBps, err = envInt64("EDGE_PER_LEG_BPS", 50); err != nil {
		return nil, err
	}
	if e.MinStake, err = envInt64("MIN_STAKE_MICRO", 1_000_000); err != nil {
		return nil, err
	}
	if e.CashoutPenaltyBps, err = envInt64("CASHOUT_PENALTY_BPS", 2_000); err != nil {
		return nil, err
	}
	if e.BootstrapWindow, err = envDuration("BOOTSTRAP_WINDOW", 0); err != nil {
		return nil, err
	}
	if e.DisputeWindow, err = envDuration("DISPUTE_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}

	r := &cfg.Rewards
	r.Account = envString("REWARDS_ACCOUNT", "rewards-pool")
	if r.BasePenaltyBps, err = envInt64("LOCK_PENALTY_BPS", 2_000); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	bps := map[string]int64{
		"VAULT_UTILIZATION_CAP_BPS": c.Vault.UtilizationCapBps,
		"VAULT_PER_TICKET_CAP_BPS":  c.Vault.PerTicketCapBps,
		"VAULT_BUFFER_BPS":          c.Vault.BufferBps,
		"FEE_LOCKER_SHARE_BPS":      c.Vault.LockerShareBps,
		"FEE_SAFETY_SHARE_BPS":      c.Vault.SafetyShareBps,
		"CASHOUT_PENALTY_BPS":       c.Engine.CashoutPenaltyBps,
		"LOCK_PENALTY_BPS":          c.Rewards.BasePenaltyBps,
	}
	for name, v := range bps {
		if v < 0 || v > 10_000 {
			return fmt.Errorf("config: %s = %d out of range [0, 10000]", name, v)
		}
	}
	if c.Vault.LockerShareBps+c.Vault.SafetyShareBps > 10_000 {
		return fmt.Errorf("config: fee split exceeds 100%%: locker %d + safety %d",
			c.Vault.LockerShareBps, c.Vault.SafetyShareBps)
	}
	if c.Engine.BaseEdgeBps < 0 || c.Engine.PerLegEdgeBps < 0 ||
		c.Engine.BaseEdgeBps+5*c.Engine.PerLegEdgeBps > 10_000 {
		return fmt.Errorf("config: edge bounds exceeded: base %d, per-leg %d",
			c.Engine.BaseEdgeBps, c.Engine.PerLegEdgeBps)
	}
	if c.Engine.MinStake < 0 || c.Vault.MinDeposit < 0 {
		return fmt.Errorf("config: negative minimum amounts")
	}
	if c.Engine.DisputeWindow < 0 || c.Engine.BootstrapWindow < 0 {
		return fmt.Errorf("config: negative windows")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s = %q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s = %q is not a duration", key, v)
	}
	return d, nil
}
