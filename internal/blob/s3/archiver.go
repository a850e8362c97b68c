package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nftbazaar/marketd/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the listing-event
// journal for old entries, serializing them to JSONL, and uploading the
// result to blob storage. The archived rows are removed from the primary
// journal only after the upload succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events domain.ListingEventStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, events domain.ListingEventStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		events: events,
		logger: logger.With("component", "archiver"),
	}
}

// archivedEvent is the wire form of a journal entry in the archive file.
// Addresses are hex strings and the price is a decimal string so the format
// stays stable regardless of how the in-memory types evolve.
type archivedEvent struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	ListingID     uint64 `json:"listing_id"`
	TokenContract string `json:"token_contract"`
	TokenID       uint64 `json:"token_id"`
	Creator       string `json:"creator"`
	Seller        string `json:"seller"`
	Owner         string `json:"owner"`
	PriceWei      string `json:"price_wei"`
	Sold          bool   `json:"sold"`
	Canceled      bool   `json:"canceled"`
	CreatedAt     string `json:"created_at"`
}

// ArchiveEvents queries all journal events before the cutoff, serializes
// them to JSONL, uploads the file under a key derived from the cutoff
// timestamp, then purges the archived rows from the journal. Returns the
// number archived.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(toArchived(events))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("listings", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		// The archive file exists; failing the purge only means the next
		// sweep re-archives the surviving rows under its own key.
		return count, fmt.Errorf("s3blob: archive events purge: %w", err)
	}

	a.logger.InfoContext(ctx, "archived listing events",
		"path", path,
		"archived", count,
		"purged", deleted,
		"before", before.Format(time.RFC3339),
	)
	return count, nil
}

func toArchived(events []domain.ListingEvent) []archivedEvent {
	out := make([]archivedEvent, 0, len(events))
	for _, ev := range events {
		l := ev.Listing
		out = append(out, archivedEvent{
			EventID:       ev.ID,
			EventType:     string(ev.Type),
			ListingID:     l.ID,
			TokenContract: l.TokenContract.Hex(),
			TokenID:       l.TokenID,
			Creator:       l.Creator.Hex(),
			Seller:        l.Seller.Hex(),
			Owner:         l.Owner.Hex(),
			PriceWei:      l.Price.String(),
			Sold:          l.Sold,
			Canceled:      l.Canceled,
			CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}

// archivePath builds the blob key for an archive file. The key embeds the
// full cutoff timestamp so every sweep writes its own object; the purge
// below removes archived rows from the journal, so a reused key would
// overwrite the only remaining copy of an earlier sweep.
//
//	archive/listings/2026-08-02T030000Z.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
