// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement ledger (on-chain custody adapter; memory bank is used when unset)
	RPCURL        string
	ChainID       int64
	CustodyKey    string // Hex-encoded platform custody key, no 0x prefix required
	VaultAddress  string // Custody vault account holding locked funds
	PlatformAddr  string // Fee collection account

	// Escrow parameters (admin-settable at runtime; these are boot defaults)
	PlatformFeeBps      int64  // 0-1000 (max 10%)
	HighValueThreshold  string // decimal amount at/above which multi-sig is mandatory
	MultiSigThreshold   int    // signatures required for high-value release
	TimeLockDuration    time.Duration
	EmergencyWindow     time.Duration
	BondBps             int64
	BondRequired        bool
	DecisiveMajorityBps int64 // vote weight fraction that auto-resolves a dispute

	// Roles
	AdminAddress      string // emergency override + params administration
	ArbitratorAddress string // optional third multi-sig signer

	// Security
	AdminSecret   string
	WebhookSecret string
	RateLimitRPS  int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultChainID             = 84532 // Base Sepolia
	DefaultPlatformFeeBps      = 100   // 1%
	DefaultHighValueThreshold  = "10000"
	DefaultMultiSigThreshold   = 2
	DefaultTimeLockDuration    = 24 * time.Hour
	DefaultEmergencyWindow     = 48 * time.Hour
	DefaultBondBps             = 500 // 5%
	DefaultDecisiveMajorityBps = 1000
	DefaultRateLimit           = 100
)

// Bounds enforced at write time (load and admin updates alike).
const (
	MaxPlatformFeeBps  = 1000
	MinTimeLockDur     = time.Hour
	MaxTimeLockDur     = 7 * 24 * time.Hour
	MinEmergencyWindow = 24 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RPCURL:              os.Getenv("RPC_URL"),
		ChainID:             getEnvInt64("CHAIN_ID", DefaultChainID),
		CustodyKey:          os.Getenv("CUSTODY_KEY"),
		VaultAddress:        os.Getenv("VAULT_ADDRESS"),
		PlatformAddr:        os.Getenv("PLATFORM_ADDRESS"),
		PlatformFeeBps:      getEnvInt64("PLATFORM_FEE_BPS", DefaultPlatformFeeBps),
		HighValueThreshold:  getEnv("HIGH_VALUE_THRESHOLD", DefaultHighValueThreshold),
		MultiSigThreshold:   int(getEnvInt64("MULTISIG_THRESHOLD", DefaultMultiSigThreshold)),
		TimeLockDuration:    getEnvDuration("TIMELOCK_DURATION", DefaultTimeLockDuration),
		EmergencyWindow:     getEnvDuration("EMERGENCY_WINDOW", DefaultEmergencyWindow),
		BondBps:             getEnvInt64("BOND_BPS", DefaultBondBps),
		BondRequired:        getEnvBool("BOND_REQUIRED", true),
		DecisiveMajorityBps: getEnvInt64("DECISIVE_MAJORITY_BPS", DefaultDecisiveMajorityBps),
		AdminAddress:        os.Getenv("ADMIN_ADDRESS"),
		ArbitratorAddress:   os.Getenv("ARBITRATOR_ADDRESS"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration bounds. The same bounds apply when an
// administrator updates escrow parameters at runtime.
func (c *Config) Validate() error {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > MaxPlatformFeeBps {
		return fmt.Errorf("PLATFORM_FEE_BPS must be 0-%d, got %d", MaxPlatformFeeBps, c.PlatformFeeBps)
	}
	if c.TimeLockDuration < MinTimeLockDur || c.TimeLockDuration > MaxTimeLockDur {
		return fmt.Errorf("TIMELOCK_DURATION must be between %s and %s", MinTimeLockDur, MaxTimeLockDur)
	}
	if c.EmergencyWindow < MinEmergencyWindow {
		return fmt.Errorf("EMERGENCY_WINDOW must be at least %s", MinEmergencyWindow)
	}
	if c.MultiSigThreshold < 2 {
		return fmt.Errorf("MULTISIG_THRESHOLD must be at least 2, got %d", c.MultiSigThreshold)
	}
	// Eligible signers: payer, payee, plus the arbitrator if configured.
	eligible := 2
	if c.ArbitratorAddress != "" {
		eligible = 3
	}
	if c.MultiSigThreshold > eligible {
		return fmt.Errorf("MULTISIG_THRESHOLD %d exceeds eligible signers %d", c.MultiSigThreshold, eligible)
	}
	if c.BondBps < 0 || c.BondBps > MaxPlatformFeeBps*10 {
		return fmt.Errorf("BOND_BPS out of range: %d", c.BondBps)
	}
	if c.DecisiveMajorityBps <= 0 || c.DecisiveMajorityBps > 10000 {
		return fmt.Errorf("DECISIVE_MAJORITY_BPS must be 1-10000, got %d", c.DecisiveMajorityBps)
	}
	if c.RPCURL != "" && c.CustodyKey == "" {
		return fmt.Errorf("CUSTODY_KEY is required when RPC_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
