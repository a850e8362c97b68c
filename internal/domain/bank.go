package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Bank routes funds between accounts. Each Transfer is atomic: it either
// moves the full amount or fails with no balance change. The ledger composes
// multi-leg settlements out of Transfers and compensates on partial failure.
type Bank interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}
