package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignAndVerifyRoundtrip(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	auth := NewRecoverAuthority()
	msg := []byte("marketd:list:0xC0FFEE00000000000000000000000000C0FFEE00:7:500000")

	sig, err := signer.SignMessage(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}

	if !auth.Verify(signer.Address(), msg, sig) {
		t.Error("valid signature rejected")
	}

	// Legacy v in {0,1} is accepted as well.
	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] -= 27
	if !auth.Verify(signer.Address(), msg, legacy) {
		t.Error("legacy recovery id rejected")
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	auth := NewRecoverAuthority()
	msg := []byte("hello")

	sig, err := signer.SignMessage(msg)
	if err != nil {
		t.Fatal(err)
	}

	other := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	if auth.Verify(other, msg, sig) {
		t.Error("signature accepted for the wrong address")
	}
	if auth.Verify(signer.Address(), []byte("tampered"), sig) {
		t.Error("signature accepted for a different message")
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	auth := NewRecoverAuthority()
	msg := []byte("hello")

	sig, _ := signer.SignMessage(msg)

	short := sig[:64]
	if auth.Verify(signer.Address(), msg, short) {
		t.Error("64-byte signature accepted")
	}
	if auth.Verify(signer.Address(), msg, nil) {
		t.Error("nil signature accepted")
	}

	badV := make([]byte, 65)
	copy(badV, sig)
	badV[64] = 5
	if auth.Verify(signer.Address(), msg, badV) {
		t.Error("invalid recovery id accepted")
	}

	flipped := make([]byte, 65)
	copy(flipped, sig)
	flipped[0] ^= 0xff
	if auth.Verify(signer.Address(), msg, flipped) {
		t.Error("corrupted signature accepted")
	}
}

func TestSignMessageHex(t *testing.T) {
	signer, err := NewSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	hexSig, err := signer.SignMessageHex([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hexSig, "0x") {
		t.Errorf("hex signature = %q, want 0x prefix", hexSig)
	}
	if len(hexSig) != 2+130 {
		t.Errorf("hex signature length = %d, want 132", len(hexSig))
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "zz", "0x1234"} {
		if _, err := NewSigner(key); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}
