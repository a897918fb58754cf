package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bnbpools/poolctl/internal/cache/redis"
	"github.com/bnbpools/poolctl/internal/chain"
	"github.com/bnbpools/poolctl/internal/config"
	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/notify"
	"github.com/bnbpools/poolctl/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Predictions domain.PredictionStore
	Bets        domain.BetStore
	Actions     domain.AdminActionStore
	Outbox      domain.OutboxStore

	// Caches
	Flags domain.FlagsCache
	Bus   domain.StatusBus
	Locks domain.LockManager

	// Chain
	Contract domain.PoolContract

	// Notifications
	Notifier *notify.Notifier

	// Raw clients kept for health checks.
	PG    *postgres.Client
	Redis *redis.Client
}

// needsWallet returns true for modes that submit transactions.
func needsWallet(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PG = pgClient
	deps.Predictions = postgres.NewPredictionStore(pool)
	deps.Bets = postgres.NewBetStore(pool)
	deps.Actions = postgres.NewAdminActionStore(pool)
	deps.Outbox = postgres.NewOutboxStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Flags = redis.NewFlagsCache(redisClient)
	deps.Bus = redis.NewStatusBus(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Chain ---
	chainClient, err := chain.New(ctx, chain.ClientConfig{
		RPCURL:  cfg.Chain.RPCURL,
		ChainID: cfg.Chain.ChainID,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)

	// The wallet is only loaded for modes that sign transactions; flag
	// reads go through eth_call and need no key.
	var wallet *chain.Wallet
	if needsWallet(cfg.Mode) {
		wallet, err = chain.LoadWallet(chain.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		logger.InfoContext(ctx, "operator wallet loaded",
			slog.String("address", wallet.Address().Hex()),
		)
	}

	escrow, err := chain.NewEscrow(
		chainClient,
		wallet,
		cfg.Chain.FactoryAddress,
		cfg.Chain.ConfirmTimeout.Duration,
		cfg.Chain.ReceiptPollInterval.Duration,
		logger,
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: escrow: %w", err)
	}
	deps.Contract = escrow

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
