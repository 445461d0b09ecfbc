// Package config defines the top-level configuration for the round engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ROUNDBET_* environment variables.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Game     GameConfig     `toml:"game"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StorageConfig selects the persistence backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. When Enabled is false the
// in-process lock, bus, totals cache and limiter are used instead, which
// only works for a single instance.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ClassConfig declares one duration class.
type ClassConfig struct {
	Name     string   `toml:"name"`
	Duration duration `toml:"duration"`
	Freeze   duration `toml:"freeze"`
}

// GameConfig holds round and admission parameters. Amounts are decimal
// strings such as "1.00"; an empty or zero max_stake disables the cap.
type GameConfig struct {
	Classes             []ClassConfig `toml:"classes"`
	MinStake            string        `toml:"min_stake"`
	MaxStake            string        `toml:"max_stake"`
	MaxOpenBetsPerRound int           `toml:"max_open_bets_per_round"`
	BetRateLimit        int           `toml:"bet_rate_limit"`
	BetRateWindow       duration      `toml:"bet_rate_window"`
	SettleRetry         duration      `toml:"settle_retry"`
	SettleRetryMax      duration      `toml:"settle_retry_max"`
	TickInterval        duration      `toml:"tick_interval"`
	InitialDemoBalance  string        `toml:"initial_demo_balance"`
	PerClassChannels    bool          `toml:"per_class_channels"`
	PremiumUsers        []string      `toml:"premium_users"`
}

// Amounts holds GameConfig's decimal amounts converted to minor units.
type Amounts struct {
	MinStake           int64
	MaxStake           int64
	InitialDemoBalance int64
}

// Amounts parses the configured decimal amounts.
func (g GameConfig) Amounts() (Amounts, error) {
	var a Amounts
	var err error
	if a.MinStake, err = domain.ParseAmount(g.MinStake); err != nil {
		return Amounts{}, fmt.Errorf("min_stake: %w", err)
	}
	if a.MaxStake, err = optionalAmount(g.MaxStake); err != nil {
		return Amounts{}, fmt.Errorf("max_stake: %w", err)
	}
	if a.InitialDemoBalance, err = optionalAmount(g.InitialDemoBalance); err != nil {
		return Amounts{}, fmt.Errorf("initial_demo_balance: %w", err)
	}
	return a, nil
}

func optionalAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return domain.ParseAmount(s)
}

// DurationClasses converts the configured classes.
func (g GameConfig) DurationClasses() []domain.DurationClass {
	out := make([]domain.DurationClass, len(g.Classes))
	for i, c := range g.Classes {
		out[i] = domain.DurationClass{Name: c.Name, Duration: c.Duration.Duration, FreezeWindow: c.Freeze.Duration}
	}
	return out
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

// ServerConfig holds HTTP server parameters. An empty APIKey leaves the API
// open.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
	Prefix            string   `toml:"prefix"`
}

// ArchiveConfig controls the settled-round export. Schedule, when set,
// takes precedence over Interval.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Schedule  string   `toml:"schedule"`
	Retention duration `toml:"retention"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "roundbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "roundbet",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "roundbet-archive",
			ForcePathStyle: true,
		},
		Game: GameConfig{
			Classes: []ClassConfig{
				{Name: "1m", Duration: duration{time.Minute}, Freeze: duration{10 * time.Second}},
				{Name: "5m", Duration: duration{5 * time.Minute}, Freeze: duration{30 * time.Second}},
				{Name: "15m", Duration: duration{15 * time.Minute}, Freeze: duration{time.Minute}},
			},
			MinStake:            "1.00",
			MaxStake:            "500.00",
			MaxOpenBetsPerRound: 20,
			BetRateLimit:        10,
			BetRateWindow:       duration{time.Second},
			SettleRetry:         duration{2 * time.Second},
			SettleRetryMax:      duration{time.Minute},
			TickInterval:        duration{time.Second},
			InitialDemoBalance:  "1000.00",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			DiscordUsername: "roundbet",
			Events:          []string{"settlement_inconsistency", "ledger_corrupted"},
			Cooldown:        duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"server": true,
	"clock":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, clock)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
		if c.Mode != "full" {
			errs = append(errs, fmt.Sprintf("storage: driver memory cannot be shared, mode %s needs postgres", c.Mode))
		}
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Mode != "full" {
		errs = append(errs, fmt.Sprintf("redis: mode %s needs redis for cross-process events and locks", c.Mode))
	}

	// Game
	errs = append(errs, c.Game.validate()...)

	// Server
	if c.Mode != "clock" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Schedule == "" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 (or set archive.schedule)")
		}
		if c.Archive.Schedule != "" {
			if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
				errs = append(errs, fmt.Sprintf("archive: schedule %q: %v", c.Archive.Schedule, err))
			}
		}
		if c.Archive.Retention.Duration < 0 {
			errs = append(errs, "archive: retention must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (g GameConfig) validate() []string {
	var errs []string
	if len(g.Classes) == 0 {
		errs = append(errs, "game: at least one duration class is required")
	}
	seen := make(map[string]bool, len(g.Classes))
	for i, c := range g.Classes {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Sprintf("game: classes[%d]: name must not be empty", i))
		case seen[c.Name]:
			errs = append(errs, fmt.Sprintf("game: duplicate class %q", c.Name))
		}
		seen[c.Name] = true
		if c.Duration.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("game: class %q: duration must be > 0", c.Name))
		}
		if c.Freeze.Duration < 0 || c.Freeze.Duration >= c.Duration.Duration {
			errs = append(errs, fmt.Sprintf("game: class %q: freeze must be in [0, duration)", c.Name))
		}
	}

	a, err := g.Amounts()
	if err != nil {
		errs = append(errs, "game: "+err.Error())
	} else if a.MaxStake > 0 && a.MaxStake < a.MinStake {
		errs = append(errs, "game: max_stake must not be below min_stake")
	}
	if g.MaxOpenBetsPerRound < 0 {
		errs = append(errs, "game: max_open_bets_per_round must be >= 0")
	}
	if g.BetRateLimit > 0 && g.BetRateWindow.Duration <= 0 {
		errs = append(errs, "game: bet_rate_window must be > 0 when bet_rate_limit is set")
	}
	if g.SettleRetry.Duration <= 0 {
		errs = append(errs, "game: settle_retry must be > 0")
	}
	if g.SettleRetryMax.Duration < g.SettleRetry.Duration {
		errs = append(errs, "game: settle_retry_max must be >= settle_retry")
	}
	return errs
}
