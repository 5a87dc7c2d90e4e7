package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the clearstake service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CLEARSTAKE_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Clearing network configuration
	Clearing ClearingConfig

	// On-chain anchor configuration
	Anchor AnchorConfig

	// Liquidity pool configuration
	Liquidity LiquidityConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Session records expire after this TTL
	SessionTTL time.Duration `env:"REDIS_SESSION_TTL" envDefault:"168h"`
}

// ClearingConfig holds the clearing network connection configuration
type ClearingConfig struct {
	URL     string `env:"CLEARING_URL" envDefault:"wss://clearnet.clearstake.io/ws"`
	AppName string `env:"CLEARING_APP_NAME" envDefault:"clearstake"`
	Scope   string `env:"CLEARING_SCOPE" envDefault:"app.create app.close ledger.read"`
	Asset   string `env:"CLEARING_ASSET" envDefault:"usdc"`

	// Hex-encoded secp256k1 identity key. It signs only the auth
	// challenge; a fresh ephemeral key signs everything else.
	IdentityKey string `env:"CLEARING_IDENTITY_KEY"`

	SessionTTL          time.Duration `env:"CLEARING_SESSION_TTL" envDefault:"1h"`
	AuthTimeout         time.Duration `env:"CLEARING_AUTH_TIMEOUT" envDefault:"30s"`
	OpenTimeout         time.Duration `env:"CLEARING_OPEN_TIMEOUT" envDefault:"15s"`
	CoSignOpenTimeout   time.Duration `env:"CLEARING_COSIGN_OPEN_TIMEOUT" envDefault:"90s"`
	BalancePollInterval time.Duration `env:"CLEARING_BALANCE_POLL_INTERVAL" envDefault:"2s"`
	BalancePollAttempts int           `env:"CLEARING_BALANCE_POLL_ATTEMPTS" envDefault:"20"`
}

// AnchorConfig holds the on-chain anchor configuration. An empty endpoint
// disables anchoring.
type AnchorConfig struct {
	RPCEndpoint string        `env:"ANCHOR_RPC_ENDPOINT"`
	Timeout     time.Duration `env:"ANCHOR_TIMEOUT" envDefault:"30s"`
}

// LiquidityConfig holds the pool's roles and caps
type LiquidityConfig struct {
	Owner                string `env:"POOL_OWNER"`
	Operator             string `env:"POOL_OPERATOR"`
	MaxAllocationPercent int64  `env:"POOL_MAX_ALLOCATION_PERCENT" envDefault:"80"`
	MaxPerChannel        int64  `env:"POOL_MAX_PER_CHANNEL" envDefault:"0"`
}

// WorkerConfig holds anchor worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Clearing.URL == "" {
		return fmt.Errorf("clearing network URL is required")
	}
	if c.Clearing.IdentityKey == "" {
		return fmt.Errorf("clearing identity key is required")
	}
	if c.Clearing.BalancePollAttempts < 1 {
		return fmt.Errorf("balance poll attempts must be at least 1")
	}

	if c.Liquidity.Owner == "" {
		return fmt.Errorf("pool owner address is required")
	}
	if c.Liquidity.Operator == "" {
		return fmt.Errorf("pool operator address is required")
	}
	if c.Liquidity.MaxAllocationPercent < 0 || c.Liquidity.MaxAllocationPercent > 100 {
		return fmt.Errorf("pool allocation percent %d out of range [0,100]", c.Liquidity.MaxAllocationPercent)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
