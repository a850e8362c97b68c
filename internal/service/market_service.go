// Package service orchestrates the marketplace ledger with its durable
// mirror, cache, event journal, and notification channels.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/ledger"
)

// ledgerLockKey is the distributed lock taken around every mutating ledger
// operation when multiple marketd instances share one backing store.
const ledgerLockKey = "market:ledger"

// ledgerLockTTL bounds how long a crashed instance can hold the lock.
const ledgerLockTTL = 15 * time.Second

// eventStream is the durable Redis stream mirroring the pub/sub channels.
const eventStream = "stream:listings"

// Notifier delivers operator notifications for listing lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketService is the application-level marketplace API. The ledger is
// authoritative; the store, cache, journal, and bus are downstream mirrors
// that must not affect the outcome of a completed ledger transition.
type MarketService struct {
	ledger   *ledger.Ledger
	store    domain.ListingStore
	journal  domain.ListingEventStore
	cache    domain.ListingCache
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. The cache, lock manager, bus,
// and notifier may be nil; each is skipped when absent.
func NewMarketService(
	ldg *ledger.Ledger,
	store domain.ListingStore,
	journal domain.ListingEventStore,
	cache domain.ListingCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:   ldg,
		store:    store,
		journal:  journal,
		cache:    cache,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Rehydrate loads all persisted listings into the ledger. Called once at
// startup before the service accepts requests.
func (s *MarketService) Rehydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	listings, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("market_service: rehydrate: %w", err)
	}
	if err := s.ledger.Restore(listings); err != nil {
		return fmt.Errorf("market_service: rehydrate: %w", err)
	}
	return nil
}

// withLedgerLock runs fn under the cross-instance ledger lock. Without a
// lock manager configured, fn runs directly; the ledger's own guard still
// serializes in-process mutations.
func (s *MarketService) withLedgerLock(ctx context.Context, fn func() error) error {
	if s.locks == nil {
		return fn()
	}
	unlock, err := s.locks.Acquire(ctx, ledgerLockKey, ledgerLockTTL)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// CreateListing lists a token for sale and returns the new record.
func (s *MarketService) CreateListing(ctx context.Context, p domain.ListingRequest) (domain.Listing, error) {
	var out domain.Listing
	err := s.withLedgerLock(ctx, func() error {
		l, err := s.ledger.CreateListing(ctx, p.TokenContract, p.TokenID, p.Price, p.Caller, p.Signature, p.Paid)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.afterMutation(ctx, domain.EventListingCreated, out)
	return out, nil
}

// CancelListing returns a listed token to its seller.
func (s *MarketService) CancelListing(ctx context.Context, listingID uint64, caller common.Address, sig []byte) (domain.Listing, error) {
	var out domain.Listing
	err := s.withLedgerLock(ctx, func() error {
		l, err := s.ledger.CancelListing(ctx, listingID, caller, sig)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.afterMutation(ctx, domain.EventListingCanceled, out)
	return out, nil
}

// CreateSale settles a purchase of a listing.
func (s *MarketService) CreateSale(ctx context.Context, listingID uint64, caller common.Address, sig []byte, paid *big.Int) (domain.Listing, error) {
	var out domain.Listing
	err := s.withLedgerLock(ctx, func() error {
		l, err := s.ledger.CreateSale(ctx, listingID, caller, sig, paid)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}

	s.afterMutation(ctx, domain.EventListingSold, out)
	return out, nil
}

// afterMutation mirrors a completed ledger transition into the store,
// journal, cache, bus, and notifier. The transition already happened;
// downstream failures are logged, never surfaced to the caller.
func (s *MarketService) afterMutation(ctx context.Context, typ domain.ListingEventType, l domain.Listing) {
	if s.store != nil {
		if err := s.store.Upsert(ctx, l); err != nil {
			s.logger.ErrorContext(ctx, "listing store upsert failed",
				slog.Uint64("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	ev := domain.ListingEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Listing:   l,
		CreatedAt: time.Now().UTC(),
	}
	if s.journal != nil {
		if err := s.journal.Append(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "event journal append failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, l); err != nil {
			// Non-fatal: the cache expires on its own.
			s.logger.WarnContext(ctx, "listing cache set failed",
				slog.Uint64("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(newBusEvent(ev))
		if err == nil {
			if pubErr := s.bus.Publish(ctx, typ.Channel(), payload); pubErr != nil {
				s.logger.WarnContext(ctx, "event publish failed",
					slog.String("channel", typ.Channel()),
					slog.String("error", pubErr.Error()),
				)
			}
			if strErr := s.bus.StreamAppend(ctx, eventStream, payload); strErr != nil {
				s.logger.WarnContext(ctx, "event stream append failed",
					slog.String("error", strErr.Error()),
				)
			}
		}
	}

	if s.notifier != nil {
		title := fmt.Sprintf("Listing #%d %s", l.ID, shortEventName(typ))
		msg := fmt.Sprintf("token %d, price %s wei, seller %s", l.TokenID, l.Price.String(), l.Seller.Hex())
		if err := s.notifier.Notify(ctx, string(typ), title, msg); err != nil {
			s.logger.WarnContext(ctx, "notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// busEvent is the JSON payload published on the signal bus and relayed to
// WebSocket clients. It carries the full listing record so off-process
// indexers can reconstruct state from the event feed alone.
type busEvent struct {
	EventID       string     `json:"eventId"`
	Type          string     `json:"type"`
	ListingID     uint64     `json:"listingId"`
	TokenContract string     `json:"tokenContract"`
	TokenID       uint64     `json:"tokenId"`
	Creator       string     `json:"creator"`
	Seller        string     `json:"seller"`
	Owner         string     `json:"owner"`
	PriceWei      string     `json:"priceWei"`
	Sold          bool       `json:"sold"`
	Canceled      bool       `json:"canceled"`
	ListedAt      time.Time  `json:"listedAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	At            time.Time  `json:"at"`
}

func newBusEvent(ev domain.ListingEvent) busEvent {
	l := ev.Listing
	return busEvent{
		EventID:       ev.ID,
		Type:          string(ev.Type),
		ListingID:     l.ID,
		TokenContract: l.TokenContract.Hex(),
		TokenID:       l.TokenID,
		Creator:       l.Creator.Hex(),
		Seller:        l.Seller.Hex(),
		Owner:         l.Owner.Hex(),
		PriceWei:      l.Price.String(),
		Sold:          l.Sold,
		Canceled:      l.Canceled,
		ListedAt:      l.CreatedAt,
		ResolvedAt:    l.ResolvedAt,
		At:            ev.CreatedAt,
	}
}

func shortEventName(t domain.ListingEventType) string {
	switch t {
	case domain.EventListingSold:
		return "sold"
	case domain.EventListingCanceled:
		return "canceled"
	default:
		return "created"
	}
}

// GetListing retrieves a listing by ID, checking the cache first.
func (s *MarketService) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	if s.cache != nil {
		if l, err := s.cache.Get(ctx, id); err == nil {
			return l, nil
		}
	}

	l, err := s.ledger.Listing(id)
	if err != nil {
		return domain.Listing{}, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, l); cacheErr != nil {
			s.logger.WarnContext(ctx, "listing cache set failed",
				slog.Uint64("listing_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return l, nil
}

// AvailableListings returns all unsold, uncanceled listings.
func (s *MarketService) AvailableListings(ctx context.Context) ([]domain.Listing, error) {
	return s.ledger.AvailableListings(), nil
}

// ListingsByRole returns listings whose role field matches addr.
func (s *MarketService) ListingsByRole(ctx context.Context, role domain.Role, addr common.Address) ([]domain.Listing, error) {
	return s.ledger.ListingsByRole(role, addr), nil
}

// LatestListingByToken returns the most recent listing for a token ID.
func (s *MarketService) LatestListingByToken(ctx context.Context, tokenID uint64) (domain.Listing, error) {
	l, ok := s.ledger.LatestListingByToken(tokenID)
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

// ListingFee returns the flat per-listing fee in wei.
func (s *MarketService) ListingFee() *big.Int {
	return s.ledger.ListingFee()
}

// Stats returns the ledger counters and retained fee balance.
func (s *MarketService) Stats(ctx context.Context) (domain.MarketStats, error) {
	return s.ledger.Stats(), nil
}
