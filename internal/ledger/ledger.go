// Package ledger implements the authoritative marketplace ledger: the record
// of every listing, the two resolution counters, the retained fee pool, and
// the state transitions between them. All mutations run one at a time; a
// failed precondition or settlement leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Config carries the construction-time parameters of the ledger. The listing
// fee is fixed for the lifetime of the instance; there is no update path.
type Config struct {
	// ListingFee is the flat fee in wei collected on every listing.
	ListingFee *big.Int

	// Custody is the marketplace escrow account. Listed tokens and collected
	// fees are held here until the listing resolves.
	Custody common.Address

	// PlatformOwner receives the listing fee when a sale settles.
	PlatformOwner common.Address
}

// Ledger is a single sequential state machine over listing records. Mutating
// operations are serialized by a guard mutex acquired with TryLock, so a
// nested call made from inside a fund or token side effect is detected and
// rejected rather than deadlocking.
type Ledger struct {
	cfg       Config
	tokens    domain.TokenRegistry
	bank      domain.Bank
	authority domain.SignatureAuthority
	logger    *slog.Logger

	// guard serializes mutating operations and doubles as the reentrancy
	// gate. It is never held while serving reads.
	guard sync.Mutex

	// mu protects the record set and counters. Side-effect calls (bank,
	// token registry) are made while holding guard but never mu, so reads
	// stay responsive during settlement.
	mu            sync.RWMutex
	listings      []*domain.Listing // index i holds listing ID i+1
	soldCount     uint64
	canceledCount uint64
	feePool       *big.Int
}

// New constructs an empty ledger.
func New(cfg Config, tokens domain.TokenRegistry, bank domain.Bank, authority domain.SignatureAuthority, logger *slog.Logger) (*Ledger, error) {
	if cfg.ListingFee == nil || cfg.ListingFee.Sign() < 0 {
		return nil, fmt.Errorf("ledger: listing fee must be a non-negative amount")
	}
	if cfg.Custody == (common.Address{}) {
		return nil, fmt.Errorf("ledger: custody address must be set")
	}
	if cfg.PlatformOwner == (common.Address{}) {
		return nil, fmt.Errorf("ledger: platform owner address must be set")
	}
	return &Ledger{
		cfg:       cfg,
		tokens:    tokens,
		bank:      bank,
		authority: authority,
		logger:    logger.With(slog.String("component", "ledger")),
		feePool:   new(big.Int),
	}, nil
}

// Restore seeds the ledger from previously persisted records. Listings must
// arrive in ascending ID order with no gaps; IDs are dense and 1-indexed.
// The fee pool is recomputed as one listing fee per unsold listing, since
// fees are released to the platform owner only when a sale settles.
func (l *Ledger) Restore(listings []domain.Listing) error {
	l.guard.Lock()
	defer l.guard.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.listings) != 0 {
		return fmt.Errorf("ledger: restore on non-empty ledger")
	}

	records := make([]*domain.Listing, 0, len(listings))
	var sold, canceled uint64
	for i, in := range listings {
		if in.ID != uint64(i)+1 {
			return fmt.Errorf("ledger: restore: expected listing id %d, got %d", i+1, in.ID)
		}
		if in.Sold && in.Canceled {
			return fmt.Errorf("ledger: restore: listing %d both sold and canceled", in.ID)
		}
		rec := in.Clone()
		records = append(records, &rec)
		if in.Sold {
			sold++
		}
		if in.Canceled {
			canceled++
		}
	}

	l.listings = records
	l.soldCount = sold
	l.canceledCount = canceled

	unsold := uint64(len(records)) - sold
	l.feePool = new(big.Int).Mul(l.cfg.ListingFee, new(big.Int).SetUint64(unsold))

	l.logger.Info("ledger restored",
		slog.Int("listings", len(records)),
		slog.Uint64("sold", sold),
		slog.Uint64("canceled", canceled),
	)
	return nil
}

// enter acquires the mutation guard. It fails with ErrReentrantCall when a
// mutating operation is already in progress, which covers both a nested call
// from a settlement side effect and a concurrent caller that skipped the
// service-level lock.
func (l *Ledger) enter() error {
	if !l.guard.TryLock() {
		return domain.ErrReentrantCall
	}
	return nil
}

// CreateListing records a new market item and escrows the token. The caller
// pays exactly the listing fee, which is retained in the fee pool until the
// listing sells. Returns the full record for event emission.
func (l *Ledger) CreateListing(
	ctx context.Context,
	contract common.Address,
	tokenID uint64,
	price *big.Int,
	caller common.Address,
	sig []byte,
	paid *big.Int,
) (domain.Listing, error) {
	if err := l.enter(); err != nil {
		return domain.Listing{}, err
	}
	defer l.guard.Unlock()

	if price == nil || price.Sign() <= 0 {
		return domain.Listing{}, domain.ErrInvalidPrice
	}
	if paid == nil || paid.Cmp(l.cfg.ListingFee) != 0 {
		return domain.Listing{}, domain.ErrFeeMismatch
	}
	if !l.authority.Verify(caller, ListMessage(contract, tokenID, price), sig) {
		return domain.Listing{}, domain.ErrUnauthorized
	}

	creator, err := l.tokens.CreatorOf(ctx, contract, tokenID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: creator lookup for token %d: %w", tokenID, err)
	}

	// Collect the fee, then pull the token into custody. If the escrow
	// transfer fails the fee is returned: no mutation survives a failure.
	if err := l.bank.Transfer(ctx, caller, l.cfg.Custody, paid); err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: collect listing fee: %w", err)
	}
	if err := l.tokens.TransferOwnership(ctx, contract, caller, l.cfg.Custody, tokenID); err != nil {
		if rbErr := l.bank.Transfer(ctx, l.cfg.Custody, caller, paid); rbErr != nil {
			l.logger.ErrorContext(ctx, "fee refund after failed escrow",
				slog.Uint64("token_id", tokenID),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.Listing{}, fmt.Errorf("ledger: escrow token %d: %w", tokenID, err)
	}

	l.mu.Lock()
	rec := &domain.Listing{
		ID:            uint64(len(l.listings)) + 1,
		TokenContract: contract,
		TokenID:       tokenID,
		Creator:       creator,
		Seller:        caller,
		Price:         new(big.Int).Set(price),
		CreatedAt:     time.Now().UTC(),
	}
	l.listings = append(l.listings, rec)
	l.feePool.Add(l.feePool, paid)
	out := rec.Clone()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", out.ID),
		slog.Uint64("token_id", tokenID),
		slog.String("seller", caller.Hex()),
		slog.String("price_wei", out.Price.String()),
	)
	return out, nil
}

// CancelListing returns an unsold token to its seller and marks the listing
// canceled. Only the seller may cancel. The fee paid at listing time stays in
// the pool; there is no refund path.
func (l *Ledger) CancelListing(
	ctx context.Context,
	listingID uint64,
	caller common.Address,
	sig []byte,
) (domain.Listing, error) {
	if err := l.enter(); err != nil {
		return domain.Listing{}, err
	}
	defer l.guard.Unlock()

	l.mu.RLock()
	rec, ok := l.lookup(listingID)
	var snapshot domain.Listing
	if ok {
		snapshot = rec.Clone()
	}
	l.mu.RUnlock()

	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	if !snapshot.Active() {
		return domain.Listing{}, domain.ErrListingClosed
	}
	if snapshot.Seller != caller {
		return domain.Listing{}, domain.ErrNotSeller
	}
	if !l.authority.Verify(caller, CancelMessage(snapshot.TokenContract, listingID), sig) {
		return domain.Listing{}, domain.ErrUnauthorized
	}

	if err := l.tokens.TransferOwnership(ctx, snapshot.TokenContract, l.cfg.Custody, caller, snapshot.TokenID); err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: return token %d to seller: %w", snapshot.TokenID, err)
	}

	now := time.Now().UTC()
	l.mu.Lock()
	rec.Owner = caller
	rec.Canceled = true
	rec.ResolvedAt = &now
	l.canceledCount++
	out := rec.Clone()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "listing canceled",
		slog.Uint64("listing_id", listingID),
		slog.String("seller", caller.Hex()),
	)
	return out, nil
}

// CreateSale settles a purchase: the buyer pays exactly the asking price to
// the seller, the token moves from custody to the buyer, and the listing fee
// collected at creation is released to the platform owner. Any leg failing
// unwinds the legs already applied.
func (l *Ledger) CreateSale(
	ctx context.Context,
	listingID uint64,
	caller common.Address,
	sig []byte,
	paid *big.Int,
) (domain.Listing, error) {
	if err := l.enter(); err != nil {
		return domain.Listing{}, err
	}
	defer l.guard.Unlock()

	l.mu.RLock()
	rec, ok := l.lookup(listingID)
	var snapshot domain.Listing
	if ok {
		snapshot = rec.Clone()
	}
	l.mu.RUnlock()

	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	if !snapshot.Active() {
		return domain.Listing{}, domain.ErrListingClosed
	}
	if paid == nil || paid.Cmp(snapshot.Price) != 0 {
		return domain.Listing{}, domain.ErrPriceMismatch
	}
	if !l.authority.Verify(caller, SaleMessage(snapshot.TokenContract, listingID, snapshot.Price), sig) {
		return domain.Listing{}, domain.ErrUnauthorized
	}

	// Settlement legs, unwound in reverse on failure.
	if err := l.bank.Transfer(ctx, caller, snapshot.Seller, paid); err != nil {
		return domain.Listing{}, fmt.Errorf("ledger: pay seller: %w", err)
	}
	if err := l.tokens.TransferOwnership(ctx, snapshot.TokenContract, l.cfg.Custody, caller, snapshot.TokenID); err != nil {
		l.unwind(ctx, listingID, func() error {
			return l.bank.Transfer(ctx, snapshot.Seller, caller, paid)
		})
		return domain.Listing{}, fmt.Errorf("ledger: deliver token %d: %w", snapshot.TokenID, err)
	}
	if err := l.bank.Transfer(ctx, l.cfg.Custody, l.cfg.PlatformOwner, l.cfg.ListingFee); err != nil {
		l.unwind(ctx, listingID, func() error {
			return l.tokens.TransferOwnership(ctx, snapshot.TokenContract, caller, l.cfg.Custody, snapshot.TokenID)
		})
		l.unwind(ctx, listingID, func() error {
			return l.bank.Transfer(ctx, snapshot.Seller, caller, paid)
		})
		return domain.Listing{}, fmt.Errorf("ledger: release listing fee: %w", err)
	}

	now := time.Now().UTC()
	l.mu.Lock()
	rec.Owner = caller
	rec.Sold = true
	rec.ResolvedAt = &now
	l.soldCount++
	l.feePool.Sub(l.feePool, l.cfg.ListingFee)
	out := rec.Clone()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "listing sold",
		slog.Uint64("listing_id", listingID),
		slog.String("buyer", caller.Hex()),
		slog.String("price_wei", paid.String()),
	)
	return out, nil
}

// unwind runs a compensating transfer and logs if the compensation itself
// fails; there is nothing further to do at that point but leave a record.
func (l *Ledger) unwind(ctx context.Context, listingID uint64, fn func() error) {
	if err := fn(); err != nil {
		l.logger.ErrorContext(ctx, "settlement unwind failed",
			slog.Uint64("listing_id", listingID),
			slog.String("error", err.Error()),
		)
	}
}

// lookup returns the record for an ID. Callers must hold mu.
func (l *Ledger) lookup(id uint64) (*domain.Listing, bool) {
	if id == 0 || id > uint64(len(l.listings)) {
		return nil, false
	}
	return l.listings[id-1], true
}
