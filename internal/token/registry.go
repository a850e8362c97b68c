// Package token implements domain.TokenRegistry with in-process collections.
// It models the subset of ERC-721 the marketplace depends on: a holder map,
// a creator-of-record set once at mint, and holder-checked transfers.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

type tokenRecord struct {
	owner   common.Address
	creator common.Address
}

type collectionKey struct {
	contract common.Address
	tokenID  uint64
}

// Registry holds token ownership across collections.
type Registry struct {
	mu     sync.RWMutex
	tokens map[collectionKey]*tokenRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[collectionKey]*tokenRecord)}
}

// Mint creates a token owned by its creator. The creator-of-record never
// changes afterwards. Fails with ErrAlreadyExists if the token exists.
func (r *Registry) Mint(ctx context.Context, contract common.Address, tokenID uint64, creator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := collectionKey{contract, tokenID}
	if _, ok := r.tokens[key]; ok {
		return fmt.Errorf("token: mint %d: %w", tokenID, domain.ErrAlreadyExists)
	}
	r.tokens[key] = &tokenRecord{owner: creator, creator: creator}
	return nil
}

// TransferOwnership moves a token between holders, rejecting transfers where
// from is not the current holder.
func (r *Registry) TransferOwnership(ctx context.Context, contract common.Address, from, to common.Address, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tokens[collectionKey{contract, tokenID}]
	if !ok {
		return fmt.Errorf("token: transfer %d: %w", tokenID, domain.ErrNotFound)
	}
	if rec.owner != from {
		return fmt.Errorf("token: transfer %d from %s: %w", tokenID, from.Hex(), domain.ErrNotTokenHolder)
	}
	rec.owner = to
	return nil
}

// CreatorOf returns the creator-of-record for a token.
func (r *Registry) CreatorOf(ctx context.Context, contract common.Address, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tokens[collectionKey{contract, tokenID}]
	if !ok {
		return common.Address{}, fmt.Errorf("token: creator of %d: %w", tokenID, domain.ErrNotFound)
	}
	return rec.creator, nil
}

// OwnerOf returns the current holder of a token.
func (r *Registry) OwnerOf(ctx context.Context, contract common.Address, tokenID uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tokens[collectionKey{contract, tokenID}]
	if !ok {
		return common.Address{}, fmt.Errorf("token: owner of %d: %w", tokenID, domain.ErrNotFound)
	}
	return rec.owner, nil
}

// Compile-time interface check.
var _ domain.TokenRegistry = (*Registry)(nil)
