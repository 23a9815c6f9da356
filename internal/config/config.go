// Package config defines the top-level configuration for the up/down bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Wallet      WalletConfig     `toml:"wallet"`
	Polymarket  PolymarketConfig `toml:"polymarket"`
	Market      MarketConfig     `toml:"market"`
	Binance     BinanceConfig    `toml:"binance"`
	Builder     BuilderConfig    `toml:"builder"`
	Trading     TradingConfig    `toml:"trading"`
	Model       ModelConfig      `toml:"model"`
	Reconnect   ReconnectConfig  `toml:"reconnect"`
	Storage     StorageConfig    `toml:"storage"`
	Supabase    SupabaseConfig   `toml:"supabase"`
	Redis       RedisConfig      `toml:"redis"`
	S3          S3Config         `toml:"s3"`
	Server      ServerConfig     `toml:"server"`
	Notify      NotifyConfig     `toml:"notify"`
	Mode        string           `toml:"mode"`
	LogLevel    string           `toml:"log_level"`
	RunDuration duration         `toml:"run_duration"`
}

// WalletConfig holds Ethereum wallet credentials. Only live mode signs orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	// OrdersPerMinute throttles live order submission.
	OrdersPerMinute int `toml:"orders_per_minute"`
}

// MarketConfig controls which recurring market is discovered.
type MarketConfig struct {
	Search        string `toml:"search"`
	WindowMinutes int    `toml:"window_minutes"`
	// UpTokenID and DownTokenID, when both set, pin a static window used
	// as the discovery fallback.
	UpTokenID   string `toml:"up_token_id"`
	DownTokenID string `toml:"down_token_id"`
}

// BinanceConfig holds the BTC trade stream endpoint.
type BinanceConfig struct {
	WsURL string `toml:"ws_url"`
}

// BuilderConfig holds Polymarket CLOB API credentials.
type BuilderConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// TradingConfig holds the decision, risk and execution parameters.
type TradingConfig struct {
	EdgeMin                   float64  `toml:"edge_min"`
	MaxSpread                 float64  `toml:"max_spread"`
	OrderSizeUSD              float64  `toml:"order_size_usd"`
	MaxPositionUSD            float64  `toml:"max_position_usd"`
	DailyLossLimitUSD         float64  `toml:"daily_loss_limit_usd"`
	Cooldown                  duration `toml:"cooldown"`
	ProfitTakeBps             float64  `toml:"profit_take_bps"`
	TimeStop                  duration `toml:"time_stop"`
	LoopInterval              duration `toml:"loop_interval"`
	RotateInterval            duration `toml:"rotate_interval"`
	QuotePrintInterval        duration `toml:"quote_print_interval"`
	QuoteMaxAge               duration `toml:"quote_max_age"`
	DiscoveryFallback         duration `toml:"discovery_fallback"`
	ExitGrace                 duration `toml:"exit_grace"`
	PaperFillEpsilon          float64  `toml:"paper_fill_epsilon"`
	PaperMaxFillFraction      float64  `toml:"paper_max_fill_fraction"`
	AllowCrossWindowPositions bool     `toml:"allow_cross_window_positions"`
	// EntryPriceRule selects the entry limit price: "touch" joins the
	// opposing best price, "offset" shifts it by EntryPriceOffset.
	EntryPriceRule   string  `toml:"entry_price_rule"`
	EntryPriceOffset float64 `toml:"entry_price_offset"`
}

// ModelConfig holds the probability model parameters.
type ModelConfig struct {
	MomentumWindow int     `toml:"momentum_window"`
	VolWindow      int     `toml:"vol_window"`
	Squash         string  `toml:"squash"`
	Gain           float64 `toml:"gain"`
	History        int     `toml:"history"`
}

// ReconnectConfig is the stream reconnect backoff policy.
type ReconnectConfig struct {
	Initial         duration `toml:"initial"`
	Max             duration `toml:"max"`
	Multiplier      float64  `toml:"multiplier"`
	Jitter          float64  `toml:"jitter"`
	MaxFatalRetries int      `toml:"max_fatal_retries"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client IP; 0 disables it. Needs
	// redis.
	RateLimit int `toml:"rate_limit"`
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
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com/ws/",
			ChainID:         137,
			SignatureType:   2,
			OrdersPerMinute: 60,
		},
		Market: MarketConfig{
			Search:        "Bitcoin Up or Down",
			WindowMinutes: 5,
		},
		Binance: BinanceConfig{
			WsURL: "wss://stream.binance.com:9443/ws/btcusdt@trade",
		},
		Trading: TradingConfig{
			EdgeMin:              0.04,
			MaxSpread:            0.03,
			OrderSizeUSD:         10,
			MaxPositionUSD:       30,
			DailyLossLimitUSD:    20,
			Cooldown:             duration{45 * time.Second},
			ProfitTakeBps:        300,
			TimeStop:             duration{180 * time.Second},
			LoopInterval:         duration{time.Second},
			RotateInterval:       duration{300 * time.Second},
			QuotePrintInterval:   duration{60 * time.Second},
			QuoteMaxAge:          duration{10 * time.Second},
			DiscoveryFallback:    duration{120 * time.Second},
			ExitGrace:            duration{10 * time.Second},
			PaperFillEpsilon:     0,
			PaperMaxFillFraction: 1,
			EntryPriceRule:       "touch",
		},
		Model: ModelConfig{
			MomentumWindow: 40,
			VolWindow:      60,
			Squash:         "logistic",
			Gain:           1.0,
			History:        5000,
		},
		Reconnect: ReconnectConfig{
			Initial:         duration{time.Second},
			Max:             duration{30 * time.Second},
			Multiplier:      2,
			Jitter:          0.2,
			MaxFatalRetries: 5,
		},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "bot.db",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"rotation", "kill_switch", "flatten", "position_closed", "order_rejected", "run_summary"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSquash = map[string]bool{
	"logistic": true,
	"tanh":     true,
}

var validEntryRules = map[string]bool{
	"touch":  true,
	"offset": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.RunDuration.Duration < 0 {
		errs = append(errs, "run_duration must be >= 0")
	}

	// Wallet is only needed when orders are signed.
	if c.IsLive() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Polymarket.OrdersPerMinute <= 0 {
			errs = append(errs, "polymarket: orders_per_minute must be > 0 for live mode")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 0 && c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}
	if c.Binance.WsURL == "" {
		errs = append(errs, "binance: ws_url must not be empty")
	}

	// Static tokens must come as a pair.
	if (c.Market.UpTokenID == "") != (c.Market.DownTokenID == "") {
		errs = append(errs, "market: up_token_id and down_token_id must be set together")
	}
	if c.Market.UpTokenID != "" && c.Market.UpTokenID == c.Market.DownTokenID {
		errs = append(errs, "market: up_token_id and down_token_id must differ")
	}
	if c.Market.GammaRequired() && c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty when no static tokens are configured")
	}

	bk := c.Builder.ApiKey != ""
	bs := c.Builder.ApiSecret != ""
	bp := c.Builder.ApiPassphrase != ""
	if bk || bs || bp {
		if !(bk && bs && bp) {
			errs = append(errs, "builder: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	t := c.Trading
	if t.EdgeMin < 0 || t.EdgeMin >= 1 {
		errs = append(errs, "trading: edge_min must be in [0, 1)")
	}
	if t.MaxSpread <= 0 || t.MaxSpread >= 1 {
		errs = append(errs, "trading: max_spread must be in (0, 1)")
	}
	if t.OrderSizeUSD <= 0 {
		errs = append(errs, "trading: order_size_usd must be > 0")
	}
	if t.MaxPositionUSD < t.OrderSizeUSD {
		errs = append(errs, "trading: max_position_usd must be >= order_size_usd")
	}
	if t.DailyLossLimitUSD <= 0 {
		errs = append(errs, "trading: daily_loss_limit_usd must be > 0")
	}
	if t.ProfitTakeBps <= 0 {
		errs = append(errs, "trading: profit_take_bps must be > 0")
	}
	if t.LoopInterval.Duration <= 0 {
		errs = append(errs, "trading: loop_interval must be > 0")
	}
	if t.RotateInterval.Duration <= 0 {
		errs = append(errs, "trading: rotate_interval must be > 0")
	}
	if t.TimeStop.Duration <= 0 {
		errs = append(errs, "trading: time_stop must be > 0")
	}
	if t.QuoteMaxAge.Duration <= 0 {
		errs = append(errs, "trading: quote_max_age must be > 0")
	}
	if t.PaperFillEpsilon < 0 {
		errs = append(errs, "trading: paper_fill_epsilon must be >= 0")
	}
	if t.PaperMaxFillFraction <= 0 || t.PaperMaxFillFraction > 1 {
		errs = append(errs, "trading: paper_max_fill_fraction must be in (0, 1]")
	}
	if !validEntryRules[t.EntryPriceRule] {
		errs = append(errs, fmt.Sprintf("trading: unknown entry_price_rule %q (valid: touch, offset)", t.EntryPriceRule))
	}

	if c.Model.MomentumWindow < 2 {
		errs = append(errs, "model: momentum_window must be >= 2")
	}
	if c.Model.VolWindow < 2 {
		errs = append(errs, "model: vol_window must be >= 2")
	}
	if c.Model.History < c.Model.MomentumWindow+1 || c.Model.History < c.Model.VolWindow+1 {
		errs = append(errs, "model: history must exceed both momentum_window and vol_window")
	}
	if c.Model.Gain <= 0 {
		errs = append(errs, "model: gain must be > 0")
	}
	if !validSquash[c.Model.Squash] {
		errs = append(errs, fmt.Sprintf("model: unknown squash %q (valid: logistic, tanh)", c.Model.Squash))
	}

	if c.Reconnect.Initial.Duration <= 0 || c.Reconnect.Max.Duration < c.Reconnect.Initial.Duration {
		errs = append(errs, "reconnect: need 0 < initial <= max")
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, "reconnect: multiplier must be >= 1")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, "reconnect: jitter must be in [0, 1]")
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be in [0, pool_max_conns]")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: sqlite, postgres)", c.Storage.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, fmt.Sprintf("server: rate_limit must be >= 0, got %d", c.Server.RateLimit))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsLive reports whether orders go to the real exchange.
func (c *Config) IsLive() bool {
	return strings.EqualFold(c.Mode, "live")
}

// HasStaticTokens reports whether a static fallback window is configured.
func (m MarketConfig) HasStaticTokens() bool {
	return m.UpTokenID != "" && m.DownTokenID != ""
}

// GammaRequired reports whether discovery must reach the Gamma API.
func (m MarketConfig) GammaRequired() bool {
	return !m.HasStaticTokens()
}

// SetRunDuration overrides the run bound, e.g. from a command-line flag.
func (c *Config) SetRunDuration(d time.Duration) {
	c.RunDuration = duration{d}
}
