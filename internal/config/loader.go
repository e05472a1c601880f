package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXSNIPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXSNIPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DEXSNIPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DEXSNIPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DEXSNIPER_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.Network, "DEXSNIPER_CHAIN_NETWORK")
	setStr(&cfg.Chain.RPCURL, "DEXSNIPER_CHAIN_RPC_URL")
	setDuration(&cfg.Chain.OracleTimeout, "DEXSNIPER_CHAIN_ORACLE_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptTimeout, "DEXSNIPER_CHAIN_RECEIPT_TIMEOUT")
	setInt(&cfg.Chain.RPCRateLimit, "DEXSNIPER_CHAIN_RPC_RATE_LIMIT")
	setDuration(&cfg.Chain.RPCRateWindow, "DEXSNIPER_CHAIN_RPC_RATE_WINDOW")

	// ── Policy ──
	setStr(&cfg.Policy.Operator, "DEXSNIPER_POLICY_OPERATOR")
	setInt(&cfg.Policy.MinLiquidityLockDays, "DEXSNIPER_POLICY_MIN_LIQUIDITY_LOCK_DAYS")
	setDecimal(&cfg.Policy.MinLiquidityLockPct, "DEXSNIPER_POLICY_MIN_LIQUIDITY_LOCK_PCT")
	setDecimal(&cfg.Policy.MaxTotalSupply, "DEXSNIPER_POLICY_MAX_TOTAL_SUPPLY")
	setDecimal(&cfg.Policy.MinPrice, "DEXSNIPER_POLICY_MIN_PRICE")
	setDecimal(&cfg.Policy.TakeProfitPct, "DEXSNIPER_POLICY_TAKE_PROFIT_PCT")
	setDecimal(&cfg.Policy.StopLossPct, "DEXSNIPER_POLICY_STOP_LOSS_PCT")
	setDuration(&cfg.Policy.MaxHoldingDuration, "DEXSNIPER_POLICY_MAX_HOLDING_DURATION")
	setDecimal(&cfg.Policy.MaxTaxPct, "DEXSNIPER_POLICY_MAX_TAX_PCT")
	setDecimal(&cfg.Policy.SlippageTolerancePct, "DEXSNIPER_POLICY_SLIPPAGE_TOLERANCE_PCT")
	setInt64(&cfg.Policy.ExitFeeBps, "DEXSNIPER_POLICY_EXIT_FEE_BPS")
	setDuration(&cfg.Policy.SwapDeadline, "DEXSNIPER_POLICY_SWAP_DEADLINE")
	setInt64(&cfg.Policy.GasMultiplierPct, "DEXSNIPER_POLICY_GAS_MULTIPLIER_PCT")

	// ── Monitor / discovery ──
	setDuration(&cfg.Monitor.Interval, "DEXSNIPER_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.Concurrency, "DEXSNIPER_MONITOR_CONCURRENCY")
	setBool(&cfg.Discovery.Enabled, "DEXSNIPER_DISCOVERY_ENABLED")
	setDuration(&cfg.Discovery.Interval, "DEXSNIPER_DISCOVERY_INTERVAL")
	setInt(&cfg.Discovery.ScanCount, "DEXSNIPER_DISCOVERY_SCAN_COUNT")
	setBool(&cfg.Discovery.AutoSnipe, "DEXSNIPER_DISCOVERY_AUTO_SNIPE")
	setDecimal(&cfg.Discovery.DefaultAmount, "DEXSNIPER_DISCOVERY_DEFAULT_AMOUNT")
	setStr(&cfg.Discovery.Account, "DEXSNIPER_DISCOVERY_ACCOUNT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEXSNIPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEXSNIPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEXSNIPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXSNIPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXSNIPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXSNIPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXSNIPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXSNIPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXSNIPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXSNIPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXSNIPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXSNIPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXSNIPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXSNIPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXSNIPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXSNIPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXSNIPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXSNIPER_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "DEXSNIPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXSNIPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXSNIPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXSNIPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXSNIPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXSNIPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXSNIPER_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "DEXSNIPER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEXSNIPER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEXSNIPER_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXSNIPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXSNIPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXSNIPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEXSNIPER_SERVER_API_KEY")
	setStr(&cfg.Server.AdminKey, "DEXSNIPER_SERVER_ADMIN_KEY")
	setInt(&cfg.Server.RateLimit, "DEXSNIPER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "DEXSNIPER_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXSNIPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXSNIPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXSNIPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXSNIPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXSNIPER_MODE")
	setStr(&cfg.LogLevel, "DEXSNIPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
