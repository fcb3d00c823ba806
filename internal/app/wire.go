package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketsync/internal/cache/memory"
	"github.com/alanyoungcy/marketsync/internal/cache/redis"
	"github.com/alanyoungcy/marketsync/internal/config"
	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/feed"
	"github.com/alanyoungcy/marketsync/internal/notify"
	"github.com/alanyoungcy/marketsync/internal/platform/somnia"
	"github.com/alanyoungcy/marketsync/internal/store/postgres"
	"github.com/alanyoungcy/marketsync/internal/streamid"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Sync core
	Cache   *memory.Store
	Deriver *streamid.Deriver
	Conn    *feed.ConnectionState
	Applier *feed.Applier
	Manager *feed.Manager
	Monitor *feed.QualityMonitor
	Poller  *feed.Poller

	// Watch holds the configured keys kept subscribed for the process lifetime.
	Watch []domain.SubscriptionKey

	// Optional infrastructure; nil when not configured.
	Markets     *postgres.MarketStore
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	Notifier *notify.Notifier
}

// Wire constructs all concrete implementations from cfg and returns them
// together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// --- Redis (transport, snapshot source, rate limiter, change relay) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c
	}

	// --- Push transport ---
	var sub domain.StreamSubscriber
	switch cfg.Stream.Transport {
	case config.TransportRedis:
		if redisClient == nil {
			return fail(fmt.Errorf("wire: transport %q requires redis.addr", cfg.Stream.Transport))
		}
		sub = redis.NewStreamChannel(redisClient, logger)
	default:
		wsClient := somnia.NewWSClient(cfg.Stream.WSURL, logger)
		wsClient.SetResponseTimeout(cfg.Stream.RequestTimeout.Duration)
		closers = append(closers, func() { _ = wsClient.Close() })
		sub = wsClient
	}

	// --- Snapshot reads ---
	var reader domain.SnapshotReader
	switch cfg.Stream.SnapshotSource {
	case config.SnapshotRedis:
		if redisClient == nil {
			return fail(fmt.Errorf("wire: snapshot source %q requires redis.addr", cfg.Stream.SnapshotSource))
		}
		reader = redis.NewSnapshotStore(redisClient, 0)
	default:
		reader = somnia.NewSnapshotClient(cfg.Stream.SnapshotURL)
	}

	// --- Notifications ---
	notifier := newNotifier(cfg.Notify, logger)

	deps, err := Build(cfg, sub, reader, notifier, logger)
	if err != nil {
		return fail(err)
	}
	// The manager detaches from the transport, so it closes before it.
	closers = append(closers, deps.Manager.Close)

	if redisClient != nil {
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- PostgreSQL (initial load and checkpoints) ---
	if cfg.Database.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Database.DSN,
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Database:       cfg.Database.Database,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			SSLMode:        cfg.Database.SSLMode,
			MaxConns:       cfg.Database.PoolMaxConns,
			MinConns:       cfg.Database.PoolMinConns,
			ConnectTimeout: cfg.Database.ConnTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Markets = postgres.NewMarketStore(pgClient.Pool())
	}

	return deps, cleanup, nil
}

// Build assembles the sync core on top of an already constructed transport
// and snapshot reader. It starts nothing.
func Build(cfg *config.Config, sub domain.StreamSubscriber, reader domain.SnapshotReader, notifier *notify.Notifier, logger *slog.Logger) (*Dependencies, error) {
	watch, err := WatchKeys(cfg.Sync)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	var idOpts []streamid.Option
	if cfg.Stream.FullAddressKeys {
		idOpts = append(idOpts, streamid.WithFullAddressKeys())
	}
	deriver := streamid.New(idOpts...)

	cache := memory.New(cfg.Sync.TradeCapacity)
	conn := feed.NewConnectionState(feed.WithThresholds(domain.QualityThresholds{
		Good: cfg.Sync.GoodWithin.Duration,
		Fair: cfg.Sync.FairWithin.Duration,
	}))
	applier := feed.NewApplier(cache, conn, logger)

	var alerter feed.Alerter
	if notifier != nil {
		alerter = notifier
	}

	manager := feed.NewManager(sub, deriver, applier, conn, alerter,
		feed.ManagerConfig{AttachTimeout: cfg.Stream.AttachTimeout.Duration}, logger)
	monitor := feed.NewQualityMonitor(conn, cfg.Sync.QualityTick.Duration, alerter, logger)
	poller := feed.NewPoller(feed.PollerConfig{
		Interval:         cfg.Sync.PollInterval.Duration,
		Concurrency:      cfg.Sync.PollConcurrency,
		Timeout:          cfg.Sync.PollTimeout.Duration,
		OnlyWhenDegraded: cfg.Sync.PollOnlyWhenDegraded,
		Watch:            watch,
	}, reader, deriver, manager, applier, conn, logger)

	return &Dependencies{
		Cache:    cache,
		Deriver:  deriver,
		Conn:     conn,
		Applier:  applier,
		Manager:  manager,
		Monitor:  monitor,
		Poller:   poller,
		Watch:    watch,
		Notifier: notifier,
	}, nil
}

// WatchKeys turns sync.watch_markets and sync.watch_positions into
// subscription keys.
func WatchKeys(cfg config.SyncConfig) ([]domain.SubscriptionKey, error) {
	keys := make([]domain.SubscriptionKey, 0, len(cfg.WatchMarkets)+len(cfg.WatchPositions))
	for _, id := range cfg.WatchMarkets {
		keys = append(keys, domain.SubscriptionKey{Kind: domain.KindMarket, ID: id})
	}
	for _, entry := range cfg.WatchPositions {
		id, addr, err := config.ParseWatchPosition(entry)
		if err != nil {
			return nil, err
		}
		keys = append(keys, domain.SubscriptionKey{
			Kind:    domain.KindPosition,
			ID:      id,
			Address: streamid.NormalizeAddress(addr),
		})
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("watch key %s: %w", k, err)
		}
	}
	return keys, nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPI, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger, notify.WithCooldown(cfg.Cooldown.Duration))
}
