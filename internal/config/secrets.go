package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// secretFields maps the TOML path of every credential to its field in cfg.
// Startup logging and RedactedConfig both go through this table, so a new
// credential only needs adding here.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"wallet.private_key":         &cfg.Wallet.PrivateKey,
		"wallet.key_password":        &cfg.Wallet.KeyPassword,
		"builder.api_key":            &cfg.Builder.ApiKey,
		"builder.api_secret":         &cfg.Builder.ApiSecret,
		"builder.api_passphrase":     &cfg.Builder.ApiPassphrase,
		"server.api_key":             &cfg.Server.APIKey,
		"supabase.dsn":               &cfg.Supabase.DSN,
		"supabase.password":          &cfg.Supabase.Password,
		"redis.password":             &cfg.Redis.Password,
		"s3.access_key":              &cfg.S3.AccessKey,
		"s3.secret_key":              &cfg.S3.SecretKey,
		"notify.telegram_token":      &cfg.Notify.TelegramToken,
		"notify.discord_webhook_url": &cfg.Notify.DiscordWebhookURL,
	}
}

// ConfiguredSecrets returns the sorted TOML paths of the credentials that
// are set, for logging which ones a run picked up without their values.
func ConfiguredSecrets(cfg *Config) []string {
	var out []string
	for name, v := range secretFields(cfg) {
		if *v != "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// RedactedConfig returns a copy of cfg safe to log. Credentials become
// "***" except the Postgres DSN, which keeps its host and database with
// only the password masked. Slices are copied.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	dsn := cfg.Supabase.DSN
	for _, v := range secretFields(&out) {
		if *v != "" {
			*v = redacted
		}
	}
	if dsn != "" {
		out.Supabase.DSN = redactDSN(dsn)
	}

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

// redactDSN masks the password of a URL-style DSN. Key/value DSNs are
// masked whole since their password position is not fixed.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Redacted()
}
