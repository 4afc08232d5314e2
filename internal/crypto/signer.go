package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Swap(address pool,address tokenIn,address tokenOut,address recipient,uint256 amountIn,uint256 minAmountOut,uint256 deadline,uint256 nonce)
	swapTypeHash = ethcrypto.Keccak256(
		[]byte("Swap(address pool,address tokenIn,address tokenOut,address recipient,uint256 amountIn,uint256 minAmountOut,uint256 deadline,uint256 nonce)"),
	)
)

// SwapPayload represents the fields of a swap order that must be signed
// before submission to the swap router. String types are used for the large
// numeric fields to preserve precision across JSON boundaries.
type SwapPayload struct {
	Pool         string `json:"pool"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	Recipient    string `json:"recipient"`
	AmountIn     string `json:"amountIn"`     // base units, decimal string
	MinAmountOut string `json:"minAmountOut"` // base units, decimal string
	Deadline     string `json:"deadline"`     // unix seconds, decimal string
	Nonce        string `json:"nonce"`
}

// Signer provides EIP-712 swap-payload signing for on-chain trade
// submission.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	s := &Signer{
		privateKey: pk,
		address:    addr,
		chainID:    chainID,
	}

	s.domainSep = s.buildDomainSeparator("SwapRouter", "1", chainID)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignSwap signs a Swap EIP-712 struct and returns a hex-encoded 65-byte
// signature (r || s || v).
func (s *Signer) SignSwap(payload SwapPayload) (string, error) {
	structHash, err := swapStructHash(payload)
	if err != nil {
		return "", err
	}

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func (s *Signer) buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// swapStructHash encodes and hashes a SwapPayload according to EIP-712.
func swapStructHash(p SwapPayload) ([]byte, error) {
	amountIn, ok := new(big.Int).SetString(p.AmountIn, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid amountIn %q", p.AmountIn)
	}
	minOut, ok := new(big.Int).SetString(p.MinAmountOut, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid minAmountOut %q", p.MinAmountOut)
	}
	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid deadline %q", p.Deadline)
	}
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid nonce %q", p.Nonce)
	}

	pool := common.HexToAddress(p.Pool)
	tokenIn := common.HexToAddress(p.TokenIn)
	tokenOut := common.HexToAddress(p.TokenOut)
	recipient := common.HexToAddress(p.Recipient)

	return ethcrypto.Keccak256(
		concatBytes(
			swapTypeHash,
			common.LeftPadBytes(pool.Bytes(), 32),
			common.LeftPadBytes(tokenIn.Bytes(), 32),
			common.LeftPadBytes(tokenOut.Bytes(), 32),
			common.LeftPadBytes(recipient.Bytes(), 32),
			bigIntTo32Bytes(amountIn),
			bigIntTo32Bytes(minOut),
			bigIntTo32Bytes(deadline),
			bigIntTo32Bytes(nonce),
		),
	), nil
}

// bigIntTo32Bytes left-pads a big.Int's bytes to 32 bytes.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// concatBytes concatenates byte slices into a single slice.
func concatBytes(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
