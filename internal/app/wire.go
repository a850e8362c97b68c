package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/bank"
	s3blob "github.com/nftbazaar/marketd/internal/blob/s3"
	"github.com/nftbazaar/marketd/internal/cache/redis"
	"github.com/nftbazaar/marketd/internal/config"
	"github.com/nftbazaar/marketd/internal/crypto"
	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/ledger"
	"github.com/nftbazaar/marketd/internal/notify"
	"github.com/nftbazaar/marketd/internal/store/postgres"
	"github.com/nftbazaar/marketd/internal/token"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Ledger *ledger.Ledger
	Bank   *bank.Bank
	Tokens *token.Registry
	Signer *crypto.Signer

	// Stores
	ListingStore domain.ListingStore
	EventStore   domain.ListingEventStore

	// Caches
	ListingCache domain.ListingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	switch cfg.Mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Wallet ---
	// The signer is optional when an explicit platform owner is configured.
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet signer: %w", err)
		}
		deps.Signer = signer
	}

	platformOwner := common.HexToAddress(cfg.Market.PlatformOwner)
	if cfg.Market.PlatformOwner == "" {
		if deps.Signer == nil {
			return nil, nil, fmt.Errorf("wire: no platform owner: set market.platform_owner or a wallet key")
		}
		platformOwner = deps.Signer.Address()
	}

	listingFee, ok := cfg.Market.ListingFee()
	if !ok {
		return nil, nil, fmt.Errorf("wire: invalid listing fee %q", cfg.Market.ListingFeeWei)
	}

	// --- Core ledger ---
	deps.Bank = bank.New()
	deps.Tokens = token.NewRegistry()

	ldg, err := ledger.New(ledger.Config{
		ListingFee:    listingFee,
		Custody:       common.HexToAddress(cfg.Market.Custody),
		PlatformOwner: platformOwner,
	}, deps.Tokens, deps.Bank, crypto.NewRecoverAuthority(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	deps.Ledger = ldg

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)

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

	deps.ListingCache = redis.NewListingCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archival is enabled) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EventStore, logger)
	}

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
