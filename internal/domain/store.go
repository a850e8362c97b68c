package domain

import (
	"context"
	"io"
	"time"
)

// ListingStore persists listing records. The ledger in memory is
// authoritative; the store is a durable mirror used for rehydration on
// startup and for off-process consumers.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	// ListAll returns every listing in ascending ID order.
	ListAll(ctx context.Context) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}

// ListingEventStore persists the append-only event journal.
type ListingEventStore interface {
	Append(ctx context.Context, ev ListingEvent) error
	// ListBefore returns events recorded strictly before the cutoff, in
	// chronological order.
	ListBefore(ctx context.Context, before time.Time) ([]ListingEvent, error)
	// DeleteBefore removes events recorded strictly before the cutoff and
	// returns the number deleted. Called only after a verified archive.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ListingCache caches listing records for read paths.
type ListingCache interface {
	Set(ctx context.Context, l Listing) error
	Get(ctx context.Context, id uint64) (Listing, error)
	// GetByToken returns the most recently cached listing for a token ID.
	GetByToken(ctx context.Context, tokenID uint64) (Listing, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting for the HTTP surface.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window. Allowed requests are counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion for mutating operations
// when multiple marketd instances share one backing store.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is a lightweight pub/sub transport for listing lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader downloads and enumerates objects in blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver sweeps resolved listing events into blob storage.
type Archiver interface {
	// ArchiveEvents uploads all journal events older than the cutoff and
	// returns the number archived.
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
