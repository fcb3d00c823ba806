package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETSYNC_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from MARKETSYNC_* variables that
// are set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Stream ──
	setStr(&cfg.Stream.Transport, "MARKETSYNC_STREAM_TRANSPORT")
	setStr(&cfg.Stream.WSURL, "MARKETSYNC_STREAM_WS_URL")
	setStr(&cfg.Stream.SnapshotSource, "MARKETSYNC_STREAM_SNAPSHOT_SOURCE")
	setStr(&cfg.Stream.SnapshotURL, "MARKETSYNC_STREAM_SNAPSHOT_URL")
	setBool(&cfg.Stream.FullAddressKeys, "MARKETSYNC_STREAM_FULL_ADDRESS_KEYS")
	setDuration(&cfg.Stream.AttachTimeout, "MARKETSYNC_STREAM_ATTACH_TIMEOUT")
	setDuration(&cfg.Stream.RequestTimeout, "MARKETSYNC_STREAM_REQUEST_TIMEOUT")

	// ── Sync ──
	setInt(&cfg.Sync.TradeCapacity, "MARKETSYNC_SYNC_TRADE_CAPACITY")
	setDuration(&cfg.Sync.PollInterval, "MARKETSYNC_SYNC_POLL_INTERVAL")
	setDuration(&cfg.Sync.PollTimeout, "MARKETSYNC_SYNC_POLL_TIMEOUT")
	setInt(&cfg.Sync.PollConcurrency, "MARKETSYNC_SYNC_POLL_CONCURRENCY")
	setBool(&cfg.Sync.PollOnlyWhenDegraded, "MARKETSYNC_SYNC_POLL_ONLY_WHEN_DEGRADED")
	setDuration(&cfg.Sync.QualityTick, "MARKETSYNC_SYNC_QUALITY_TICK")
	setDuration(&cfg.Sync.GoodWithin, "MARKETSYNC_SYNC_GOOD_WITHIN")
	setDuration(&cfg.Sync.FairWithin, "MARKETSYNC_SYNC_FAIR_WITHIN")
	setDuration(&cfg.Sync.CheckpointInterval, "MARKETSYNC_SYNC_CHECKPOINT_INTERVAL")
	setInt64Slice(&cfg.Sync.WatchMarkets, "MARKETSYNC_SYNC_WATCH_MARKETS")
	setStringSlice(&cfg.Sync.WatchPositions, "MARKETSYNC_SYNC_WATCH_POSITIONS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.DSN, "MARKETSYNC_DATABASE_DSN")
	setStr(&cfg.Database.Host, "MARKETSYNC_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MARKETSYNC_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MARKETSYNC_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "MARKETSYNC_DATABASE_USER")
	setStr(&cfg.Database.Password, "MARKETSYNC_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MARKETSYNC_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MARKETSYNC_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETSYNC_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETSYNC_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKETSYNC_REDIS_KEY_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETSYNC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETSYNC_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETSYNC_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "MARKETSYNC_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETSYNC_MODE")
	setStr(&cfg.LogLevel, "MARKETSYNC_LOG_LEVEL")
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

func setInt64Slice(dst *[]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int64
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}
