package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbazaar/marketd/internal/domain"
)

// EventStore implements domain.ListingEventStore using PostgreSQL. The
// journal is append-only; rows are removed only by the archiver after a
// verified upload.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// eventPayload is the JSONB representation of the listing snapshot.
type eventPayload struct {
	ListingID     uint64     `json:"listingId"`
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

func toPayload(l domain.Listing) eventPayload {
	p := eventPayload{
		ListingID:     l.ID,
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
	return p
}

// Append inserts one journal entry.
func (s *EventStore) Append(ctx context.Context, ev domain.ListingEvent) error {
	payload, err := json.Marshal(toPayload(ev.Listing))
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO listing_events (id, event_type, listing_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, string(ev.Type), int64(ev.Listing.ID), payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// fromPayload rebuilds the listing snapshot stored in a journal entry.
func fromPayload(p eventPayload) (domain.Listing, error) {
	price, ok := new(big.Int).SetString(p.PriceWei, 10)
	if !ok {
		return domain.Listing{}, fmt.Errorf("invalid price %q for listing %d", p.PriceWei, p.ListingID)
	}
	return domain.Listing{
		ID:            p.ListingID,
		TokenContract: common.HexToAddress(p.TokenContract),
		TokenID:       p.TokenID,
		Creator:       common.HexToAddress(p.Creator),
		Seller:        common.HexToAddress(p.Seller),
		Owner:         common.HexToAddress(p.Owner),
		Price:         price,
		Sold:          p.Sold,
		Canceled:      p.Canceled,
		CreatedAt:     p.CreatedAt,
		ResolvedAt:    p.ResolvedAt,
	}, nil
}

// ListBefore returns events recorded strictly before the cutoff in
// chronological order.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ListingEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, payload, created_at
		FROM listing_events
		WHERE created_at < $1
		ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before, err)
	}
	defer rows.Close()

	var events []domain.ListingEvent
	for rows.Next() {
		var (
			ev    domain.ListingEvent
			etype string
			raw   []byte
		)
		if err := rows.Scan(&ev.ID, &etype, &raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}

		var p eventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event %s: %w", ev.ID, err)
		}
		listing, err := fromPayload(p)
		if err != nil {
			return nil, fmt.Errorf("postgres: event %s: %w", ev.ID, err)
		}

		ev.Type = domain.ListingEventType(etype)
		ev.Listing = listing
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events recorded strictly before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listing_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ListingEventStore = (*EventStore)(nil)
