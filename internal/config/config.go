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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Escrow platform identities. Principals are opaque identifiers; in
	// on-chain deployments they are wallet addresses.
	Owner          string // Governance principal allowed to change platform settings
	Arbitrator     string // Principal authorized to resolve disputes
	FeeCollector   string // Principal receiving platform fees
	DefaultFeeBips int    // Fee rate in basis points applied to new escrows

	// Asset ledger. When RPCURL is set the platform settles against an
	// on-chain ERC-20 token; otherwise it uses the in-memory bank.
	RPCURL        string
	ChainID       int64
	PrivateKey    string // Hex-encoded operator key, with or without 0x prefix
	TokenContract string
	TokenSymbol   string // Asset identity escrows are denominated in

	// Auto-release sweeper
	SweepInterval time.Duration

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret  string
	RateLimitRPS int
}

const (
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultFeeBips     = 250 // 2.5%
	DefaultTokenSymbol = "USDC"
	DefaultRateLimit   = 100
	DefaultSweep       = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Owner:          os.Getenv("ESCROW_OWNER"),
		Arbitrator:     os.Getenv("ESCROW_ARBITRATOR"),
		FeeCollector:   os.Getenv("ESCROW_FEE_COLLECTOR"),
		DefaultFeeBips: int(getEnvInt64("ESCROW_FEE_BIPS", DefaultFeeBips)),
		RPCURL:         os.Getenv("RPC_URL"),
		ChainID:        getEnvInt64("CHAIN_ID", 0),
		PrivateKey:     os.Getenv("PRIVATE_KEY"),
		TokenContract:  os.Getenv("TOKEN_CONTRACT"),
		TokenSymbol:    getEnv("TOKEN_SYMBOL", DefaultTokenSymbol),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweep),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:   int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("ESCROW_OWNER is required")
	}
	if c.Arbitrator == "" {
		return fmt.Errorf("ESCROW_ARBITRATOR is required")
	}
	if c.FeeCollector == "" {
		return fmt.Errorf("ESCROW_FEE_COLLECTOR is required")
	}
	if c.DefaultFeeBips < 0 || c.DefaultFeeBips >= 10000 {
		return fmt.Errorf("ESCROW_FEE_BIPS must be in [0, 10000)")
	}

	// On-chain settlement requires the full chain configuration.
	if c.RPCURL != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.ChainID == 0 {
			return fmt.Errorf("CHAIN_ID is required when RPC_URL is set")
		}
		if c.TokenContract == "" {
			return fmt.Errorf("TOKEN_CONTRACT is required when RPC_URL is set")
		}
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

// OnChain reports whether the platform settles against an on-chain token.
func (c *Config) OnChain() bool {
	return c.RPCURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
