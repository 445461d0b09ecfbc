package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ROUNDBET_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// may configure everything through the environment. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known ROUNDBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) error {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "ROUNDBET_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ROUNDBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ROUNDBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ROUNDBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ROUNDBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ROUNDBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ROUNDBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ROUNDBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ROUNDBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ROUNDBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ROUNDBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ROUNDBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ROUNDBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ROUNDBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROUNDBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ROUNDBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ROUNDBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ROUNDBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ROUNDBET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ROUNDBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ROUNDBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "ROUNDBET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ROUNDBET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ROUNDBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ROUNDBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ROUNDBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ROUNDBET_S3_FORCE_PATH_STYLE")

	// ── Game ──
	if err := setClasses(&cfg.Game.Classes, "ROUNDBET_GAME_CLASSES"); err != nil {
		return err
	}
	setStr(&cfg.Game.MinStake, "ROUNDBET_GAME_MIN_STAKE")
	setStr(&cfg.Game.MaxStake, "ROUNDBET_GAME_MAX_STAKE")
	setInt(&cfg.Game.MaxOpenBetsPerRound, "ROUNDBET_GAME_MAX_OPEN_BETS_PER_ROUND")
	setInt(&cfg.Game.BetRateLimit, "ROUNDBET_GAME_BET_RATE_LIMIT")
	setDuration(&cfg.Game.BetRateWindow, "ROUNDBET_GAME_BET_RATE_WINDOW")
	setDuration(&cfg.Game.SettleRetry, "ROUNDBET_GAME_SETTLE_RETRY")
	setDuration(&cfg.Game.SettleRetryMax, "ROUNDBET_GAME_SETTLE_RETRY_MAX")
	setDuration(&cfg.Game.TickInterval, "ROUNDBET_GAME_TICK_INTERVAL")
	setStr(&cfg.Game.InitialDemoBalance, "ROUNDBET_GAME_INITIAL_DEMO_BALANCE")
	setBool(&cfg.Game.PerClassChannels, "ROUNDBET_GAME_PER_CLASS_CHANNELS")
	setStringSlice(&cfg.Game.PremiumUsers, "ROUNDBET_GAME_PREMIUM_USERS")

	// ── Server ──
	setInt(&cfg.Server.Port, "ROUNDBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ROUNDBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ROUNDBET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ROUNDBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ROUNDBET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ROUNDBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ROUNDBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ROUNDBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ROUNDBET_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "ROUNDBET_NOTIFY_COOLDOWN")
	setStr(&cfg.Notify.Prefix, "ROUNDBET_NOTIFY_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ROUNDBET_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ROUNDBET_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Schedule, "ROUNDBET_ARCHIVE_SCHEDULE")
	setDuration(&cfg.Archive.Retention, "ROUNDBET_ARCHIVE_RETENTION")

	// ── Top-level ──
	setStr(&cfg.Mode, "ROUNDBET_MODE")
	setStr(&cfg.LogLevel, "ROUNDBET_LOG_LEVEL")
	return nil
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

// setClasses parses "name:duration:freeze" triples separated by commas,
// e.g. "1m:1m:10s,5m:5m:30s". Unlike the other setters a malformed value is
// an error, since silently keeping the defaults would run the wrong game.
func setClasses(dst *[]ClassConfig, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []ClassConfig
	for _, item := range strings.Split(v, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			return fmt.Errorf("config: %s: %q is not name:duration:freeze", key, item)
		}
		d, err := time.ParseDuration(parts[1])
		if err != nil {
			return fmt.Errorf("config: %s: class %s duration: %w", key, parts[0], err)
		}
		f, err := time.ParseDuration(parts[2])
		if err != nil {
			return fmt.Errorf("config: %s: class %s freeze: %w", key, parts[0], err)
		}
		out = append(out, ClassConfig{Name: parts[0], Duration: duration{d}, Freeze: duration{f}})
	}
	*dst = out
	return nil
}
