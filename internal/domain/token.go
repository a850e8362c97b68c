package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TokenRegistry is the boundary to the NFT contract. The ledger only needs
// transfer and creator lookup; mint and approval mechanics stay on the other
// side of this interface.
type TokenRegistry interface {
	// TransferOwnership moves a token between holders. It fails with
	// ErrNotTokenHolder when from is not the current holder.
	TransferOwnership(ctx context.Context, contract common.Address, from, to common.Address, tokenID uint64) error

	// CreatorOf returns the creator-of-record for a token, or ErrNotFound.
	CreatorOf(ctx context.Context, contract common.Address, tokenID uint64) (common.Address, error)

	// OwnerOf returns the current holder of a token, or ErrNotFound.
	OwnerOf(ctx context.Context, contract common.Address, tokenID uint64) (common.Address, error)
}
