package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Canonical messages signed by callers of the mutating operations. Clients
// build the same byte string, sign it, and submit the signature alongside the
// request; the signature authority recovers the signer and compares.
//
// Prices must be non-nil. The ledger validates the price before it ever
// verifies a signature, so a request with no price is rejected without a
// message being built.

// ListMessage is the message a seller signs to create a listing.
func ListMessage(contract common.Address, tokenID uint64, price *big.Int) []byte {
	return []byte(fmt.Sprintf("marketd:list:%s:%d:%s", contract.Hex(), tokenID, price.String()))
}

// CancelMessage is the message a seller signs to cancel a listing.
func CancelMessage(contract common.Address, listingID uint64) []byte {
	return []byte(fmt.Sprintf("marketd:cancel:%s:%d", contract.Hex(), listingID))
}

// SaleMessage is the message a buyer signs to purchase a listing.
func SaleMessage(contract common.Address, listingID uint64, price *big.Int) []byte {
	return []byte(fmt.Sprintf("marketd:sale:%s:%d:%s", contract.Hex(), listingID, price.String()))
}
