package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbazaar/marketd/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `listing_id, token_contract, token_id, creator, seller, owner,
	price_wei::text, sold, canceled, created_at, resolved_at`

// Upsert inserts or updates a single listing record.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			listing_id, token_contract, token_id, creator, seller, owner,
			price_wei, sold, canceled, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8, $9, $10, $11
		)
		ON CONFLICT (listing_id) DO UPDATE SET
			owner       = EXCLUDED.owner,
			sold        = EXCLUDED.sold,
			canceled    = EXCLUDED.canceled,
			resolved_at = EXCLUDED.resolved_at`

	owner := ""
	if l.Owner != (common.Address{}) {
		owner = l.Owner.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		int64(l.ID), l.TokenContract.Hex(), int64(l.TokenID),
		l.Creator.Hex(), l.Seller.Hex(), owner,
		l.Price.String(), l.Sold, l.Canceled,
		l.CreatedAt, l.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

// scanListing scans a single listing row.
func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l        domain.Listing
		id       int64
		tokenID  int64
		contract string
		creator  string
		seller   string
		owner    string
		price    string
	)
	err := row.Scan(
		&id, &contract, &tokenID, &creator, &seller, &owner,
		&price, &l.Sold, &l.Canceled, &l.CreatedAt, &l.ResolvedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	l.ID = uint64(id)
	l.TokenID = uint64(tokenID)
	l.TokenContract = common.HexToAddress(contract)
	l.Creator = common.HexToAddress(creator)
	l.Seller = common.HexToAddress(seller)
	if owner != "" {
		l.Owner = common.HexToAddress(owner)
	}

	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return domain.Listing{}, fmt.Errorf("invalid price %q for listing %d", price, id)
	}
	l.Price = p
	return l, nil
}

// GetByID retrieves a listing by its primary key.
func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE listing_id = $1`, int64(id))
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// ListAll returns every listing in ascending ID order.
func (s *ListingStore) ListAll(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingCols+` FROM listings ORDER BY listing_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

// Count returns the total number of listings.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
