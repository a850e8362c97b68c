package domain

import "github.com/ethereum/go-ethereum/common"

// SignatureAuthority decides whether a signature authorizes the claimed
// signer for an action. The ledger treats any false result as ErrUnauthorized
// and performs no mutation.
type SignatureAuthority interface {
	// Verify reports whether sig is a valid signature over message by signer.
	Verify(signer common.Address, message []byte, sig []byte) bool
}
