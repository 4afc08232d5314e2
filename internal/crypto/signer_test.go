package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// well-known test key, never fund this address
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testPayload() SwapPayload {
	return SwapPayload{
		Pool:         "0x1111111111111111111111111111111111111111",
		TokenIn:      "0x2222222222222222222222222222222222222222",
		TokenOut:     "0x3333333333333333333333333333333333333333",
		Recipient:    "0x4444444444444444444444444444444444444444",
		AmountIn:     "1000000000000000000",
		MinAmountOut: "990000000000000000",
		Deadline:     "1767225600",
		Nonce:        "7",
	}
}

func TestSignSwapRecoversSignerAddress(t *testing.T) {
	signer, err := NewSigner(testKeyHex, 8453)
	require.NoError(t, err)

	sigHex, err := signer.SignSwap(testPayload())
	require.NoError(t, err)

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)

	// Undo the v += 27 adjustment for recovery.
	sig[64] -= 27

	structHash, err := swapStructHash(testPayload())
	require.NoError(t, err)
	digest := eip712Hash(signer.domainSep, structHash)

	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestSignSwapRejectsMalformedAmounts(t *testing.T) {
	signer, err := NewSigner("0x"+testKeyHex, 8453)
	require.NoError(t, err)

	payload := testPayload()
	payload.AmountIn = "not-a-number"
	_, err = signer.SignSwap(payload)
	require.Error(t, err)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("zz", 8453)
	require.Error(t, err)
}

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)
}

func TestLoadKeyWithNothingConfiguredFails(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	require.Error(t, err)
}
