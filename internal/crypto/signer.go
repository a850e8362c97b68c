package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the personal-sign signatures that RecoverAuthority
// verifies. It is used by the operator tooling and by integration tests;
// frontend wallets produce equivalent signatures via eth_sign/personal_sign.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs a message with the EIP-191 personal-sign prefix and
// returns the 65-byte r||s||v signature with v in {27,28}.
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(personalDigest(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignMessageHex is SignMessage with a 0x-prefixed hex result, matching the
// format wallets hand to the HTTP API.
func (s *Signer) SignMessageHex(message []byte) (string, error) {
	sig, err := s.SignMessage(message)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}
