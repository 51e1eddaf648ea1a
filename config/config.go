// Package config loads the service configuration from a TOML file with
// environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration for the reconciliation service.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`

	Database DatabaseConfig `toml:"Database"`
	Ledger   LedgerConfig   `toml:"Ledger"`
	Auth     AuthConfig     `toml:"Auth"`
	Recon    ReconConfig    `toml:"Recon"`
	Reward   RewardConfig   `toml:"Reward"`
	Log      LogConfig      `toml:"Log"`
}

// DatabaseConfig selects the projection store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// LedgerConfig points at the EVM node and the deployed contracts.
type LedgerConfig struct {
	RPCURL               string `toml:"RPCURL"`
	ChainID              uint64 `toml:"ChainID"`
	DeedContract         string `toml:"DeedContract"`
	LeaseContract        string `toml:"LeaseContract"`
	WomContract          string `toml:"WomContract"`
	OperatorKeyEnv       string `toml:"OperatorKeyEnv"`
	CallTimeoutSeconds   int    `toml:"CallTimeoutSeconds"`
	ConfirmationInterval string `toml:"ConfirmationInterval"`
}

// AuthConfig controls the API bearer tokens and the handshake token pool.
type AuthConfig struct {
	JWTEnable       bool     `toml:"JWTEnable"`
	JWTSecretEnv    string   `toml:"JWTSecretEnv"`
	JWTIssuer       string   `toml:"JWTIssuer"`
	JWTAudience     []string `toml:"JWTAudience"`
	TokenTTLSeconds int      `toml:"TokenTTLSeconds"`
	TokenCapacity   int      `toml:"TokenCapacity"`
}

// ReconConfig tunes the background sweep loop.
type ReconConfig struct {
	HubSweepSeconds       int    `toml:"HubSweepSeconds"`
	TransferScanSeconds   int    `toml:"TransferScanSeconds"`
	MaxTransferScanWindow uint64 `toml:"MaxTransferScanWindow"`
}

// RewardToken is a statically whitelisted reward token contract.
type RewardToken struct {
	Address   string `toml:"Address"`
	NetworkID uint64 `toml:"NetworkID"`
}

// RewardConfig tunes reward report validation.
type RewardConfig struct {
	ExtraTokens       []RewardToken `toml:"ExtraTokens"`
	AllowEarlyReports bool          `toml:"AllowEarlyReports"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Level      string `toml:"Level"`
}

// Load reads the TOML file at path, applies defaults and environment
// overrides, and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Auth.JWTSecretEnv == "" {
		c.Auth.JWTSecretEnv = "WOMNET_JWT_SECRET"
	}
	if c.Ledger.OperatorKeyEnv == "" {
		c.Ledger.OperatorKeyEnv = "WOMNET_OPERATOR_KEY"
	}
	if c.Ledger.CallTimeoutSeconds <= 0 {
		c.Ledger.CallTimeoutSeconds = 15
	}
	if c.Recon.HubSweepSeconds <= 0 {
		c.Recon.HubSweepSeconds = 600
	}
	if c.Recon.TransferScanSeconds <= 0 {
		c.Recon.TransferScanSeconds = 60
	}
	if c.Recon.MaxTransferScanWindow == 0 {
		c.Recon.MaxTransferScanWindow = 5_000
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("WOMNET_LISTEN")); v != "" {
		c.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("WOMNET_DB_DRIVER")); v != "" {
		c.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("WOMNET_DB_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("WOMNET_RPC_URL")); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WOMNET_CHAIN_ID")); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Ledger.ChainID = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("WOMNET_ENV")); v != "" {
		c.Environment = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("Database.DSN is required for the postgres driver")
	}
	if strings.TrimSpace(c.Ledger.RPCURL) == "" {
		return fmt.Errorf("Ledger.RPCURL is required")
	}
	if c.Auth.JWTEnable && strings.TrimSpace(os.Getenv(c.Auth.JWTSecretEnv)) == "" {
		return fmt.Errorf("JWT enabled but %s is not set", c.Auth.JWTSecretEnv)
	}
	return nil
}

// JWTSecret resolves the bearer-token secret from the configured environment
// variable.
func (c *Config) JWTSecret() string {
	return strings.TrimSpace(os.Getenv(c.Auth.JWTSecretEnv))
}

// OperatorKey resolves the transaction-signing key from the configured
// environment variable; empty means read-only ledger access.
func (c *Config) OperatorKey() string {
	return strings.TrimSpace(os.Getenv(c.Ledger.OperatorKeyEnv))
}

// TokenTTL returns the handshake token live-time.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// HubSweepInterval returns the passive hub refresh cadence.
func (c *Config) HubSweepInterval() time.Duration {
	return time.Duration(c.Recon.HubSweepSeconds) * time.Second
}

// TransferScanInterval returns the mined-transfer scan cadence.
func (c *Config) TransferScanInterval() time.Duration {
	return time.Duration(c.Recon.TransferScanSeconds) * time.Second
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
