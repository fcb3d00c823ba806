// Package config defines the marketsync configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETSYNC_* environment variables.
type Config struct {
	Stream   StreamConfig   `toml:"stream"`
	Sync     SyncConfig     `toml:"sync"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Transport names accepted by stream.transport.
const (
	TransportWS    = "ws"
	TransportRedis = "redis"
)

// Snapshot sources accepted by stream.snapshot_source.
const (
	SnapshotHTTP  = "http"
	SnapshotRedis = "redis"
)

// StreamConfig selects and configures the push channel and snapshot reads.
type StreamConfig struct {
	Transport       string   `toml:"transport"`
	WSURL           string   `toml:"ws_url"`
	SnapshotSource  string   `toml:"snapshot_source"`
	SnapshotURL     string   `toml:"snapshot_url"`
	FullAddressKeys bool     `toml:"full_address_keys"`
	AttachTimeout   duration `toml:"attach_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
}

// SyncConfig tunes the cache, the quality monitor and the polling fallback.
type SyncConfig struct {
	TradeCapacity        int      `toml:"trade_capacity"`
	PollInterval         duration `toml:"poll_interval"`
	PollTimeout          duration `toml:"poll_timeout"`
	PollConcurrency      int      `toml:"poll_concurrency"`
	PollOnlyWhenDegraded bool     `toml:"poll_only_when_degraded"`
	QualityTick          duration `toml:"quality_tick"`
	GoodWithin           duration `toml:"good_within"`
	FairWithin           duration `toml:"fair_within"`
	CheckpointInterval   duration `toml:"checkpoint_interval"`
	WatchMarkets         []int64  `toml:"watch_markets"`
	WatchPositions       []string `toml:"watch_positions"`
}

// DatabaseConfig holds PostgreSQL connection parameters. The database is
// optional; an empty DSN and host disables it.
type DatabaseConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	ConnTimeout   duration `toml:"conn_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != "" || d.Host != ""
}

// RedisConfig holds Redis connection parameters. Redis is optional unless it
// is selected as the transport or snapshot source.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// duration wraps time.Duration so TOML strings like "3s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP/WebSocket API parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with the reference behavior: 3s polling,
// 5s/15s quality thresholds, 100 retained trades and an 8-character address
// prefix in position keys.
func Defaults() Config {
	return Config{
		Stream: StreamConfig{
			Transport:      TransportWS,
			WSURL:          "wss://dream-rpc.somnia.network/ws",
			SnapshotSource: SnapshotHTTP,
			SnapshotURL:    "https://dream-rpc.somnia.network/data",
			AttachTimeout:  duration{10 * time.Second},
			RequestTimeout: duration{10 * time.Second},
		},
		Sync: SyncConfig{
			TradeCapacity:      100,
			PollInterval:       duration{3 * time.Second},
			PollTimeout:        duration{5 * time.Second},
			PollConcurrency:    8,
			QualityTick:        duration{time.Second},
			GoodWithin:         duration{5 * time.Second},
			FairWithin:         duration{15 * time.Second},
			CheckpointInterval: duration{time.Minute},
		},
		Database: DatabaseConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  0,
			ConnTimeout:   duration{10 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "marketsync:",
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:   []string{"quality_degraded", "quality_recovered", "subscribe_failed"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"headless": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, headless)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Stream
	switch c.Stream.Transport {
	case TransportWS:
		if c.Stream.WSURL == "" {
			errs = append(errs, "stream: ws_url must not be empty for transport ws")
		}
	case TransportRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, "stream: transport redis requires redis.addr")
		}
	default:
		errs = append(errs, fmt.Sprintf("stream: unknown transport %q (valid: ws, redis)", c.Stream.Transport))
	}
	switch c.Stream.SnapshotSource {
	case SnapshotHTTP:
		if c.Stream.SnapshotURL == "" {
			errs = append(errs, "stream: snapshot_url must not be empty for snapshot_source http")
		}
	case SnapshotRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, "stream: snapshot_source redis requires redis.addr")
		}
	default:
		errs = append(errs, fmt.Sprintf("stream: unknown snapshot_source %q (valid: http, redis)", c.Stream.SnapshotSource))
	}
	if c.Stream.AttachTimeout.Duration <= 0 {
		errs = append(errs, "stream: attach_timeout must be > 0")
	}

	// Sync
	if c.Sync.TradeCapacity < 1 {
		errs = append(errs, "sync: trade_capacity must be >= 1")
	}
	if c.Sync.PollInterval.Duration <= 0 {
		errs = append(errs, "sync: poll_interval must be > 0")
	}
	if c.Sync.PollConcurrency < 1 {
		errs = append(errs, "sync: poll_concurrency must be >= 1")
	}
	if c.Sync.QualityTick.Duration <= 0 {
		errs = append(errs, "sync: quality_tick must be > 0")
	}
	if c.Sync.GoodWithin.Duration <= 0 || c.Sync.FairWithin.Duration <= c.Sync.GoodWithin.Duration {
		errs = append(errs, "sync: need 0 < good_within < fair_within")
	}
	for _, id := range c.Sync.WatchMarkets {
		if id < 0 {
			errs = append(errs, fmt.Sprintf("sync: watch_markets contains negative id %d", id))
		}
	}
	for _, p := range c.Sync.WatchPositions {
		if _, _, err := ParseWatchPosition(p); err != nil {
			errs = append(errs, "sync: "+err.Error())
		}
	}

	// Database
	if c.Database.Enabled() {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be within 0..pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
