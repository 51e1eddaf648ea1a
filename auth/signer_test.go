package auth

import (
	"encoding/hex"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func signMessage(t *testing.T, message string) (addr, sigHex string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(PersonalSignHash(message), key)
	require.NoError(t, err)
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestVerifyRecoversSigner(t *testing.T) {
	addr, sig := signMessage(t, "wom-handshake:12345")
	require.True(t, Verify(addr, "wom-handshake:12345", sig))
}

func TestVerifyIsCaseInsensitive(t *testing.T) {
	addr, sig := signMessage(t, "raw message")
	require.True(t, Verify("0X"+addr[2:], "raw message", sig))
}

func TestVerifyNormalizesLegacyV(t *testing.T) {
	addr, sigHex := signMessage(t, "legacy-v")
	raw, err := hex.DecodeString(sigHex[2:])
	require.NoError(t, err)
	raw[64] += 27
	require.True(t, Verify(addr, "legacy-v", "0x"+hex.EncodeToString(raw)))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	addr, _ := signMessage(t, "message a")
	_, otherSig := signMessage(t, "message a")
	require.False(t, Verify(addr, "message a", otherSig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	addr, sig := signMessage(t, "original")
	require.False(t, Verify(addr, "tampered", sig))
}

func TestVerifyMalformedInputsFailClosed(t *testing.T) {
	addr, sig := signMessage(t, "msg")
	require.False(t, Verify(addr, "msg", "0xzznothex"))
	require.False(t, Verify(addr, "msg", "0xdeadbeef")) // wrong length
	require.False(t, Verify("", "msg", sig))
	require.False(t, Verify(addr, "", sig))
	require.False(t, Verify(addr, "msg", ""))
}

func TestSignatureHashBindsSignatureBytes(t *testing.T) {
	_, sig := signMessage(t, "report-body")
	hash := SignatureHash(sig)
	require.NotEmpty(t, hash)
	require.Equal(t, hash, SignatureHash(sig))

	_, other := signMessage(t, "report-body")
	require.NotEqual(t, hash, SignatureHash(other))
	require.Empty(t, SignatureHash("not-hex"))
}
