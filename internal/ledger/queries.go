package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Read-only queries. Each takes the state lock once and returns deep copies,
// so callers always observe a consistent snapshot with no torn records.

// Listing returns a single record by ID.
func (l *Ledger) Listing(id uint64) (domain.Listing, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.lookup(id)
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// AvailableListings returns every unsold, uncanceled listing in ascending ID
// order.
func (l *Ledger) AvailableListings() []domain.Listing {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Listing, 0)
	for _, rec := range l.listings {
		if rec.Owner == (common.Address{}) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ListingsByRole returns all listings whose role field matches addr, in
// ascending ID order.
func (l *Ledger) ListingsByRole(role domain.Role, addr common.Address) []domain.Listing {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Listing, 0)
	for _, rec := range l.listings {
		var field common.Address
		switch role {
		case domain.RoleSeller:
			field = rec.Seller
		case domain.RoleOwner:
			field = rec.Owner
		default:
			return out
		}
		if field == addr {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// SellingListings returns the listings addr created.
func (l *Ledger) SellingListings(addr common.Address) []domain.Listing {
	return l.ListingsByRole(domain.RoleSeller, addr)
}

// OwnedListings returns the listings addr holds after resolution.
func (l *Ledger) OwnedListings(addr common.Address) []domain.Listing {
	return l.ListingsByRole(domain.RoleOwner, addr)
}

// LatestListingByToken scans newest-first and returns the most recent listing
// for a token ID. A token relisted after a cancellation or resale has several
// records; callers want the current one.
func (l *Ledger) LatestListingByToken(tokenID uint64) (domain.Listing, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.listings) - 1; i >= 0; i-- {
		if l.listings[i].TokenID == tokenID {
			return l.listings[i].Clone(), true
		}
	}
	return domain.Listing{}, false
}

// ListingFee returns the flat per-listing fee in wei.
func (l *Ledger) ListingFee() *big.Int {
	return new(big.Int).Set(l.cfg.ListingFee)
}

// Custody returns the marketplace escrow account address.
func (l *Ledger) Custody() common.Address {
	return l.cfg.Custody
}

// Stats returns the ledger counters and the retained fee balance.
func (l *Ledger) Stats() domain.MarketStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.MarketStats{
		TotalListings: uint64(len(l.listings)),
		SoldCount:     l.soldCount,
		CanceledCount: l.canceledCount,
		FeePoolWei:    new(big.Int).Set(l.feePool),
	}
}
