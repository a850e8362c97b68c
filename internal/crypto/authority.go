// Package crypto provides the signature gate for marketplace operations:
// secp256k1 signing over EIP-191 personal-sign digests, recovery-based
// verification, and encrypted operator keyfile handling.
package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nftbazaar/marketd/internal/domain"
)

// personalDigest returns the EIP-191 digest for a message:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalDigest(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}

// RecoverAuthority implements domain.SignatureAuthority by recovering the
// public key from a 65-byte r||s||v signature and comparing the derived
// address against the claimed signer. Anything that fails to parse or
// recover is simply an unauthorized signature.
type RecoverAuthority struct{}

// NewRecoverAuthority returns the recovery-based authority.
func NewRecoverAuthority() RecoverAuthority {
	return RecoverAuthority{}
}

// Verify reports whether sig is a valid personal-sign signature over message
// by signer. Both v in {0,1} and v in {27,28} are accepted.
func (RecoverAuthority) Verify(signer common.Address, message []byte, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}

	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	if s[64] > 1 {
		return false
	}

	pub, err := ethcrypto.SigToPub(personalDigest(message), s)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == signer
}

// Compile-time interface check.
var _ domain.SignatureAuthority = RecoverAuthority{}
