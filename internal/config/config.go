// Package config defines the top-level configuration for the sniper bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/policy"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXSNIPER_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Policy    PolicyConfig    `toml:"policy"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key of the bot's hot wallet.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig selects the network and RPC endpoint.
type ChainConfig struct {
	Network        string   `toml:"network"`
	RPCURL         string   `toml:"rpc_url"`
	OracleTimeout  duration `toml:"oracle_timeout"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	// RPCRateLimit caps view calls per RPCRateWindow when Redis is enabled.
	RPCRateLimit  int                      `toml:"rpc_rate_limit"`
	RPCRateWindow duration                 `toml:"rpc_rate_window"`
	Networks      map[string]NetworkConfig `toml:"networks"`
}

// PolicyConfig is the bootstrap policy. Once the engine runs, the persisted
// latest version wins over these values.
type PolicyConfig struct {
	Operator             string          `toml:"operator"`
	MinLiquidityLockDays int             `toml:"min_liquidity_lock_days"`
	MinLiquidityLockPct  decimal.Decimal `toml:"min_liquidity_lock_pct"`
	MaxTotalSupply       decimal.Decimal `toml:"max_total_supply"`
	MinPrice             decimal.Decimal `toml:"min_price"`
	TakeProfitPct        decimal.Decimal `toml:"take_profit_pct"`
	StopLossPct          decimal.Decimal `toml:"stop_loss_pct"`
	MaxHoldingDuration   duration        `toml:"max_holding_duration"`
	MaxTaxPct            decimal.Decimal `toml:"max_tax_pct"`
	SlippageTolerancePct decimal.Decimal `toml:"slippage_tolerance_pct"`
	ExitFeeBps           int64           `toml:"exit_fee_bps"`
	MinNativeLiquidity   decimal.Decimal `toml:"min_native_liquidity"`
	SwapDeadline         duration        `toml:"swap_deadline"`
	GasMultiplierPct     int64           `toml:"gas_multiplier_pct"`
	Blacklist            []string        `toml:"blacklist"`
}

// Domain converts the section into the engine's config type.
func (p PolicyConfig) Domain() domain.PolicyConfig {
	return domain.PolicyConfig{
		Version:              1,
		MinLiquidityLockDays: p.MinLiquidityLockDays,
		MinLiquidityLockPct:  p.MinLiquidityLockPct,
		MaxTotalSupply:       p.MaxTotalSupply,
		MinPrice:             p.MinPrice,
		TakeProfitPct:        p.TakeProfitPct,
		StopLossPct:          p.StopLossPct,
		MaxHoldingDuration:   p.MaxHoldingDuration.Duration,
		MaxTaxPct:            p.MaxTaxPct,
		SlippageTolerancePct: p.SlippageTolerancePct,
		ExitFeeBps:           p.ExitFeeBps,
		MinNativeLiquidity:   p.MinNativeLiquidity,
		SwapDeadline:         p.SwapDeadline.Duration,
		GasMultiplierPct:     p.GasMultiplierPct,
		UpdatedBy:            p.Operator,
	}
}

func policySection(operator string, c domain.PolicyConfig) PolicyConfig {
	return PolicyConfig{
		Operator:             operator,
		MinLiquidityLockDays: c.MinLiquidityLockDays,
		MinLiquidityLockPct:  c.MinLiquidityLockPct,
		MaxTotalSupply:       c.MaxTotalSupply,
		MinPrice:             c.MinPrice,
		TakeProfitPct:        c.TakeProfitPct,
		StopLossPct:          c.StopLossPct,
		MaxHoldingDuration:   duration{c.MaxHoldingDuration},
		MaxTaxPct:            c.MaxTaxPct,
		SlippageTolerancePct: c.SlippageTolerancePct,
		ExitFeeBps:           c.ExitFeeBps,
		MinNativeLiquidity:   c.MinNativeLiquidity,
		SwapDeadline:         duration{c.SwapDeadline},
		GasMultiplierPct:     c.GasMultiplierPct,
	}
}

// MonitorConfig controls the open-position poll loop.
type MonitorConfig struct {
	Interval    duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
}

// DiscoveryConfig controls the new-pair scanner.
type DiscoveryConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	ScanCount int      `toml:"scan_count"`
	DedupTTL  duration `toml:"dedup_ttl"`
	AutoSnipe bool     `toml:"auto_snipe"`
	// DefaultAmount is the native amount (wei) spent per automatic snipe.
	DefaultAmount decimal.Decimal `toml:"default_amount"`
	Account       string          `toml:"account"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	// Enabled selects Postgres persistence. When false the engine keeps
	// state in process memory and loses it on restart.
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// Enabled selects Redis for the price cache, locks, rate limiting and
	// the signal bus. When false in-process equivalents are used.
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every /api route except health when set.
	APIKey string `toml:"api_key"`
	// AdminKey is required for operator routes (policy writes, blacklist,
	// emergency exits).
	AdminKey        string   `toml:"admin_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Network:        "polygon",
			RPCURL:         "https://polygon-rpc.com",
			OracleTimeout:  duration{5 * time.Second},
			ReceiptTimeout: duration{2 * time.Minute},
			RPCRateLimit:   25,
			RPCRateWindow:  duration{time.Second},
		},
		Policy: policySection("admin", policy.Default()),
		Monitor: MonitorConfig{
			Interval:    duration{15 * time.Second},
			Concurrency: 8,
		},
		Discovery: DiscoveryConfig{
			Enabled:       true,
			Interval:      duration{30 * time.Second},
			ScanCount:     20,
			DedupTTL:      duration{30 * time.Minute},
			AutoSnipe:     false,
			DefaultAmount: decimal.New(1, 17),
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "dexsniper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexsniper-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"snipe":   true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "snipe" || m == "monitor" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: snipe, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a credential source is required whenever we sign swaps.
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.OracleTimeout.Duration <= 0 {
		errs = append(errs, "chain: oracle_timeout must be > 0")
	}
	if _, err := c.Chain.Resolve(); err != nil {
		errs = append(errs, "chain: "+err.Error())
	}

	// Policy
	if c.Policy.Operator == "" {
		errs = append(errs, "policy: operator must not be empty")
	}
	if err := policy.Validate(c.Policy.Domain()); err != nil {
		errs = append(errs, err.Error())
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
	}

	// Discovery
	if c.Discovery.Enabled {
		if c.Discovery.Interval.Duration <= 0 {
			errs = append(errs, "discovery: interval must be > 0 when enabled")
		}
		if c.Discovery.ScanCount < 1 {
			errs = append(errs, "discovery: scan_count must be >= 1 when enabled")
		}
	}
	if c.Discovery.AutoSnipe {
		if c.Discovery.Account == "" {
			errs = append(errs, "discovery: account is required when auto_snipe is set")
		}
		if !c.Discovery.DefaultAmount.IsPositive() {
			errs = append(errs, "discovery: default_amount must be > 0 when auto_snipe is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is only needed when archiving.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
