package domain

import "time"

// ListingEventType identifies a lifecycle transition in the event journal.
type ListingEventType string

const (
	EventListingCreated  ListingEventType = "listing_created"
	EventListingSold     ListingEventType = "listing_sold"
	EventListingCanceled ListingEventType = "listing_canceled"
)

// Pub/sub channels carrying serialized ListingEvent payloads. The WebSocket
// hub relays these to connected frontend clients for off-chain indexing.
const (
	ChannelListingCreated  = "ch:listing:created"
	ChannelListingSold     = "ch:listing:sold"
	ChannelListingCanceled = "ch:listing:canceled"
)

// Channel returns the pub/sub channel for an event type.
func (t ListingEventType) Channel() string {
	switch t {
	case EventListingSold:
		return ChannelListingSold
	case EventListingCanceled:
		return ChannelListingCanceled
	default:
		return ChannelListingCreated
	}
}

// ListingEvent is one journal entry. It carries the full listing record as it
// stood immediately after the transition.
type ListingEvent struct {
	ID        string           // uuid
	Type      ListingEventType
	Listing   Listing
	CreatedAt time.Time
}
