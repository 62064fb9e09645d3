package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/consult-escrow/internal/bookings"
	"github.com/wolfman30/consult-escrow/internal/cache"
	"github.com/wolfman30/consult-escrow/internal/calls"
	appconfig "github.com/wolfman30/consult-escrow/internal/config"
	"github.com/wolfman30/consult-escrow/internal/events"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/saga"
	"github.com/wolfman30/consult-escrow/internal/wallet"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Stores are the external systems the reservation core talks to.
type Stores struct {
	Backend     bookings.Backend
	Directory   bookings.Directory
	Wallet      wallet.Service
	Sagas       saga.Ledger
	Relay       relay.Relay
	CallRecords calls.RecordStore
	Cache       cache.Cache
	// Outbox and Redis are nil in memory mode.
	Outbox *events.OutboxStore
	Redis  *redis.Client
	// Ready reports whether the backing stores answer.
	Ready func(ctx context.Context) error

	closers []func()
}

// Close releases every connection opened by BuildStores.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildStores wires in-process adapters when cfg.UseMemoryBackend is set, and
// Postgres, Redis and the HTTP wallet otherwise.
func BuildStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Stores, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryBackend {
		logger.Warn("using in-memory stores; state is lost on restart")
		return MemoryStores(cfg), nil
	}

	pool, sqlDB, err := ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("bootstrap: DATABASE_URL is required unless USE_MEMORY_BACKEND=true")
	}
	s := &Stores{closers: []func(){pool.Close, func() { _ = sqlDB.Close() }}}

	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		s.Close()
		return nil, fmt.Errorf("bootstrap: redis unavailable at %q", cfg.RedisAddr)
	}
	s.closers = append(s.closers, func() { _ = redisClient.Close() })

	if cfg.WalletBaseURL == "" {
		s.Close()
		return nil, errors.New("bootstrap: WALLET_BASE_URL is required")
	}

	s.Backend = bookings.NewPostgresBackend(pool)
	s.Directory = bookings.NewSQLDirectory(sqlDB)
	s.Wallet = wallet.NewHTTPService(cfg.WalletBaseURL, cfg.WalletAPIKey, logger)
	s.Sagas = saga.NewPgStore(pool)
	s.Outbox = events.NewOutboxStore(pool)
	s.Redis = redisClient
	s.Relay = relay.NewRedisRelay(redisClient, cfg.SignalTTL, logger)
	s.CallRecords = calls.NewRedisStore(redisClient, 0)
	s.Cache = cache.NewRedisCache(redisClient, cfg.CacheMaxTTL)
	s.Ready = readiness(pool, sqlDB, redisClient)
	return s, nil
}

// MemoryStores returns in-process adapters for local runs and tests.
func MemoryStores(cfg *appconfig.Config) *Stores {
	return &Stores{
		Backend:     bookings.NewMemoryBackend(),
		Directory:   bookings.NewMemoryDirectory(),
		Wallet:      wallet.NewMemoryService(),
		Sagas:       saga.NewMemoryStore(),
		Relay:       relay.NewMemoryRelay(),
		CallRecords: calls.NewMemoryStore(),
		Cache:       cache.NewMemoryCache(cfg.CacheMaxTTL),
		Ready:       func(context.Context) error { return nil },
	}
}

func readiness(pool *pgxpool.Pool, sqlDB *sql.DB, redisClient *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return errors.Join(
			pool.Ping(ctx),
			sqlDB.PingContext(ctx),
			redisClient.Ping(ctx).Err(),
		)
	}
}
