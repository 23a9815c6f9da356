package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "UPDOWN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "UPDOWN_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "UPDOWN_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "UPDOWN_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "UPDOWN_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWN_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "UPDOWN_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "UPDOWN_POLYMARKET_SIGNATURE_TYPE")
	setInt(&cfg.Polymarket.OrdersPerMinute, "UPDOWN_POLYMARKET_ORDERS_PER_MINUTE")

	// ── Market ──
	setStr(&cfg.Market.Search, "UPDOWN_MARKET_SEARCH")
	setInt(&cfg.Market.WindowMinutes, "UPDOWN_MARKET_WINDOW_MINUTES")
	setStr(&cfg.Market.UpTokenID, "UPDOWN_MARKET_UP_TOKEN_ID")
	setStr(&cfg.Market.DownTokenID, "UPDOWN_MARKET_DOWN_TOKEN_ID")

	// ── Binance ──
	setStr(&cfg.Binance.WsURL, "UPDOWN_BINANCE_WS_URL")

	// ── Builder ──
	setStr(&cfg.Builder.ApiKey, "UPDOWN_BUILDER_API_KEY")
	setStr(&cfg.Builder.ApiSecret, "UPDOWN_BUILDER_API_SECRET")
	setStr(&cfg.Builder.ApiPassphrase, "UPDOWN_BUILDER_API_PASSPHRASE")

	// ── Trading ──
	setFloat64(&cfg.Trading.EdgeMin, "UPDOWN_TRADING_EDGE_MIN")
	setFloat64(&cfg.Trading.MaxSpread, "UPDOWN_TRADING_MAX_SPREAD")
	setFloat64(&cfg.Trading.OrderSizeUSD, "UPDOWN_TRADING_ORDER_SIZE_USD")
	setFloat64(&cfg.Trading.MaxPositionUSD, "UPDOWN_TRADING_MAX_POSITION_USD")
	setFloat64(&cfg.Trading.DailyLossLimitUSD, "UPDOWN_TRADING_DAILY_LOSS_LIMIT_USD")
	setDuration(&cfg.Trading.Cooldown, "UPDOWN_TRADING_COOLDOWN")
	setFloat64(&cfg.Trading.ProfitTakeBps, "UPDOWN_TRADING_PROFIT_TAKE_BPS")
	setDuration(&cfg.Trading.TimeStop, "UPDOWN_TRADING_TIME_STOP")
	setDuration(&cfg.Trading.LoopInterval, "UPDOWN_TRADING_LOOP_INTERVAL")
	setDuration(&cfg.Trading.RotateInterval, "UPDOWN_TRADING_ROTATE_INTERVAL")
	setDuration(&cfg.Trading.QuotePrintInterval, "UPDOWN_TRADING_QUOTE_PRINT_INTERVAL")
	setDuration(&cfg.Trading.QuoteMaxAge, "UPDOWN_TRADING_QUOTE_MAX_AGE")
	setDuration(&cfg.Trading.DiscoveryFallback, "UPDOWN_TRADING_DISCOVERY_FALLBACK")
	setDuration(&cfg.Trading.ExitGrace, "UPDOWN_TRADING_EXIT_GRACE")
	setFloat64(&cfg.Trading.PaperFillEpsilon, "UPDOWN_TRADING_PAPER_FILL_EPSILON")
	setFloat64(&cfg.Trading.PaperMaxFillFraction, "UPDOWN_TRADING_PAPER_MAX_FILL_FRACTION")
	setBool(&cfg.Trading.AllowCrossWindowPositions, "UPDOWN_TRADING_ALLOW_CROSS_WINDOW_POSITIONS")
	setStr(&cfg.Trading.EntryPriceRule, "UPDOWN_TRADING_ENTRY_PRICE_RULE")
	setFloat64(&cfg.Trading.EntryPriceOffset, "UPDOWN_TRADING_ENTRY_PRICE_OFFSET")

	// ── Model ──
	setInt(&cfg.Model.MomentumWindow, "UPDOWN_MODEL_MOMENTUM_WINDOW")
	setInt(&cfg.Model.VolWindow, "UPDOWN_MODEL_VOL_WINDOW")
	setStr(&cfg.Model.Squash, "UPDOWN_MODEL_SQUASH")
	setFloat64(&cfg.Model.Gain, "UPDOWN_MODEL_GAIN")
	setInt(&cfg.Model.History, "UPDOWN_MODEL_HISTORY")

	// ── Reconnect ──
	setDuration(&cfg.Reconnect.Initial, "UPDOWN_RECONNECT_INITIAL")
	setDuration(&cfg.Reconnect.Max, "UPDOWN_RECONNECT_MAX")
	setFloat64(&cfg.Reconnect.Multiplier, "UPDOWN_RECONNECT_MULTIPLIER")
	setFloat64(&cfg.Reconnect.Jitter, "UPDOWN_RECONNECT_JITTER")
	setInt(&cfg.Reconnect.MaxFatalRetries, "UPDOWN_RECONNECT_MAX_FATAL_RETRIES")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "UPDOWN_STORAGE_BACKEND")
	setStr(&cfg.Storage.SQLitePath, "UPDOWN_STORAGE_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "UPDOWN_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "UPDOWN_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "UPDOWN_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "UPDOWN_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "UPDOWN_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "UPDOWN_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "UPDOWN_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "UPDOWN_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "UPDOWN_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "UPDOWN_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
	setDuration(&cfg.RunDuration, "UPDOWN_RUN_DURATION")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
