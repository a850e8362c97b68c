package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/nftbazaar/marketd/internal/domain"
)

const listingTTL = 5 * time.Minute

// ListingCache implements domain.ListingCache using JSON-serialized listing
// records plus a token-to-latest-listing index.
//
// Key schema:
//
//	listing:{id}          - JSON record
//	listing:token:{token} - string value of the latest listing ID
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingKey(id uint64) string       { return "listing:" + strconv.FormatUint(id, 10) }
func listingTokenKey(tok uint64) string { return "listing:token:" + strconv.FormatUint(tok, 10) }

// cachedListing is the wire form of a listing record. Addresses are hex,
// the price is a decimal string.
type cachedListing struct {
	ID            uint64     `json:"id"`
	TokenContract string     `json:"tokenContract"`
	TokenID       uint64     `json:"tokenId"`
	Creator       string     `json:"creator"`
	Seller        string     `json:"seller"`
	Owner         string     `json:"owner"`
	PriceWei      string     `json:"priceWei"`
	Sold          bool       `json:"sold"`
	Canceled      bool       `json:"canceled"`
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

func encodeListing(l domain.Listing) cachedListing {
	return cachedListing{
		ID:            l.ID,
		TokenContract: l.TokenContract.Hex(),
		TokenID:       l.TokenID,
		Creator:       l.Creator.Hex(),
		Seller:        l.Seller.Hex(),
		Owner:         l.Owner.Hex(),
		PriceWei:      l.Price.String(),
		Sold:          l.Sold,
		Canceled:      l.Canceled,
		CreatedAt:     l.CreatedAt,
		ResolvedAt:    l.ResolvedAt,
	}
}

func decodeListing(c cachedListing) (domain.Listing, error) {
	price, ok := new(big.Int).SetString(c.PriceWei, 10)
	if !ok {
		return domain.Listing{}, fmt.Errorf("invalid cached price %q", c.PriceWei)
	}
	return domain.Listing{
		ID:            c.ID,
		TokenContract: common.HexToAddress(c.TokenContract),
		TokenID:       c.TokenID,
		Creator:       common.HexToAddress(c.Creator),
		Seller:        common.HexToAddress(c.Seller),
		Owner:         common.HexToAddress(c.Owner),
		Price:         price,
		Sold:          c.Sold,
		Canceled:      c.Canceled,
		CreatedAt:     c.CreatedAt,
		ResolvedAt:    c.ResolvedAt,
	}, nil
}

// Set stores a listing with a 5-minute TTL and points the token index at it
// when this is the newest listing for that token.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing) error {
	data, err := json.Marshal(encodeListing(l))
	if err != nil {
		return fmt.Errorf("redis: marshal listing %d: %w", l.ID, err)
	}

	pipe := lc.rdb.TxPipeline()
	pipe.Set(ctx, listingKey(l.ID), data, listingTTL)
	pipe.Set(ctx, listingTokenKey(l.TokenID), strconv.FormatUint(l.ID, 10), listingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set listing %d: %w", l.ID, err)
	}
	return nil
}

// Get retrieves a listing by ID, returning domain.ErrNotFound on a miss.
func (lc *ListingCache) Get(ctx context.Context, id uint64) (domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, listingKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %d: %w", id, err)
	}

	var c cachedListing
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %d: %w", id, err)
	}
	return decodeListing(c)
}

// GetByToken resolves the token index and returns the most recently cached
// listing for a token ID.
func (lc *ListingCache) GetByToken(ctx context.Context, tokenID uint64) (domain.Listing, error) {
	idStr, err := lc.rdb.Get(ctx, listingTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get token index %d: %w", tokenID, err)
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("redis: bad token index %d: %w", tokenID, err)
	}
	return lc.Get(ctx, id)
}

// Invalidate removes a listing from the cache. The token index is left to
// expire on its own; a stale index resolves to a missing record, which reads
// treat as a miss.
func (lc *ListingCache) Invalidate(ctx context.Context, id uint64) error {
	if err := lc.rdb.Del(ctx, listingKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
