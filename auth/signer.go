// Package auth verifies that a party controls a claimed EVM address by
// recovering the signer of a personal-sign message, and manages the
// single-use handshake token pool.
package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const personalSignPrefix = "\x19Ethereum Signed Message:\n"

// PersonalSignHash returns the keccak digest of message under the standard
// personal-sign prefixing convention.
func PersonalSignHash(message string) []byte {
	prefixed := fmt.Sprintf("%s%d%s", personalSignPrefix, len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// RecoverSigner recovers the hex address that produced signatureHex over
// message. Malformed signatures return an error, never panic.
func RecoverSigner(message, signatureHex string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(sig))
	}
	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(PersonalSignHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// Verify reports whether signatureHex over message recovers to the claimed
// address. Any malformed input is a verification failure, not an error.
func Verify(claimedAddress, message, signatureHex string) bool {
	if strings.TrimSpace(claimedAddress) == "" || message == "" || strings.TrimSpace(signatureHex) == "" {
		return false
	}
	recovered, err := RecoverSigner(message, signatureHex)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, strings.TrimSpace(claimedAddress))
}

// SignatureHash returns the keccak digest of the raw signature bytes. Reward
// reports bind their content hash to this value so a signature cannot be
// replayed across submissions.
func SignatureHash(signatureHex string) string {
	raw := strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(sig))
}
