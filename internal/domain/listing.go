// Package domain defines the core entities of the marketplace and the
// interfaces its storage, cache, and external-ledger implementations satisfy.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role selects which address field of a Listing a query matches against.
type Role int

const (
	// RoleSeller matches the address that created the listing.
	RoleSeller Role = iota
	// RoleOwner matches the address holding the token after resolution.
	RoleOwner
)

// String returns the role name for logging and API output.
func (r Role) String() string {
	switch r {
	case RoleSeller:
		return "seller"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Listing is a market item record. Listings are permanent: once created they
// are resolved exactly once (sold or canceled) and never deleted.
type Listing struct {
	ID            uint64
	TokenContract common.Address
	TokenID       uint64
	Creator       common.Address
	Seller        common.Address
	Owner         common.Address // zero address while the listing is active
	Price         *big.Int
	Sold          bool
	Canceled      bool
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Active reports whether the listing is still open for purchase or
// cancellation. Exactly one of Active, Sold, Canceled holds at any time.
func (l Listing) Active() bool {
	return !l.Sold && !l.Canceled
}

// Clone returns a deep copy of the listing. Price is a *big.Int, so a plain
// struct copy would alias the amount with the ledger's own record.
func (l Listing) Clone() Listing {
	c := l
	if l.Price != nil {
		c.Price = new(big.Int).Set(l.Price)
	}
	if l.ResolvedAt != nil {
		t := *l.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// ListingRequest carries one create-listing request from the API surface to
// the service layer.
type ListingRequest struct {
	TokenContract common.Address
	TokenID       uint64
	Price         *big.Int
	Caller        common.Address
	Signature     []byte
	// Paid is the amount the caller attached, which must equal the listing
	// fee.
	Paid *big.Int
}

// MarketStats is a point-in-time snapshot of the ledger counters.
type MarketStats struct {
	TotalListings uint64
	SoldCount     uint64
	CanceledCount uint64
	FeePoolWei    *big.Int
}
