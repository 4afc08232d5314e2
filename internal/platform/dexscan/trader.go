package dexscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tradekit/snipebot/internal/crypto"
	"github.com/tradekit/snipebot/internal/domain"
)

// tokenDecimals is the decimal precision used when converting human
// amounts to base units. Pools traded here are 18-decimal ERC-20s.
const tokenDecimals = 18

// swapDeadlineTTL is how long a signed swap stays valid after submission.
const swapDeadlineTTL = 60 * time.Second

// TraderConfig configures swap submission against the Dexscan router API.
type TraderConfig struct {
	// SwapURL is the REST endpoint for signed swap submission, e.g.
	// "https://api.dexscan.io/v1/swap".
	SwapURL string
	// QuoteToken is the address of the quote asset spent on buys and
	// received on sells (e.g. wrapped native or a stablecoin).
	QuoteToken string
}

// Trader submits signed swaps through the Dexscan router API. It satisfies
// the executor's Trader contract.
type Trader struct {
	cfg        TraderConfig
	client     *Client
	signer     *crypto.Signer
	httpClient *http.Client
	nonce      atomic.Uint64
}

// NewTrader creates a Trader that resolves pools through client and signs
// payloads with signer.
func NewTrader(cfg TraderConfig, client *Client, signer *crypto.Signer) *Trader {
	t := &Trader{
		cfg:    cfg,
		client: client,
		signer: signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	// Seed the nonce from the wall clock so restarts do not replay
	// previously used values.
	t.nonce.Store(uint64(time.Now().UnixNano()))
	return t
}

// swapRequest is the wire format for the router's swap endpoint.
type swapRequest struct {
	Payload   crypto.SwapPayload `json:"payload"`
	Signature string             `json:"signature"`
}

// swapResponse is the router's reply to a swap submission.
type swapResponse struct {
	Success     bool    `json:"success"`
	ErrorMsg    string  `json:"errorMsg"`
	TxHash      string  `json:"txHash"`
	FilledPrice string  `json:"filledPrice"`
	GasUSD      float64 `json:"gasUsd"`
	FilledAt    int64   `json:"filledAt"` // unix seconds
}

// Swap resolves the pool for the requested token, builds and signs the swap
// payload, and submits it to the router. For buys the quote asset is spent;
// for sells the position token is sold back into the quote asset.
func (t *Trader) Swap(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	pool, err := t.client.FetchPool(ctx, req.TokenAddress)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: resolve pool: %w", err)
	}
	if pool.PriceUSD <= 0 {
		return domain.TradeResult{}, fmt.Errorf("dexscan: pool %s has no price", pool.Address)
	}

	payload, err := t.buildPayload(pool, req)
	if err != nil {
		return domain.TradeResult{}, err
	}

	signature, err := t.signer.SignSwap(payload)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: sign swap: %w", err)
	}

	return t.submit(ctx, swapRequest{Payload: payload, Signature: signature})
}

// buildPayload converts the trade request into a signed-payload candidate.
func (t *Trader) buildPayload(pool domain.Pool, req domain.TradeRequest) (crypto.SwapPayload, error) {
	if req.Amount <= 0 {
		return crypto.SwapPayload{}, fmt.Errorf("dexscan: amount must be positive, got %g", req.Amount)
	}
	if req.MaxSlippage < 0 || req.MaxSlippage >= 1 {
		return crypto.SwapPayload{}, fmt.Errorf("dexscan: slippage must be in [0,1), got %g", req.MaxSlippage)
	}

	var tokenIn, tokenOut string
	var amountIn, expectedOut float64
	switch req.Side {
	case domain.TradeSideBuy:
		// Amount is quote spent; expect amount/price tokens out.
		tokenIn, tokenOut = t.cfg.QuoteToken, pool.TokenAddress
		amountIn = req.Amount
		expectedOut = req.Amount / pool.PriceUSD
	case domain.TradeSideSell:
		// Amount is tokens sold; expect amount*price quote out.
		tokenIn, tokenOut = pool.TokenAddress, t.cfg.QuoteToken
		amountIn = req.Amount
		expectedOut = req.Amount * pool.PriceUSD
	default:
		return crypto.SwapPayload{}, fmt.Errorf("dexscan: unknown trade side %q", req.Side)
	}

	minOut := expectedOut * (1 - req.MaxSlippage)
	deadline := time.Now().Add(swapDeadlineTTL).Unix()

	return crypto.SwapPayload{
		Pool:         pool.Address,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		Recipient:    t.signer.Address().Hex(),
		AmountIn:     toBaseUnits(amountIn),
		MinAmountOut: toBaseUnits(minOut),
		Deadline:     fmt.Sprintf("%d", deadline),
		Nonce:        fmt.Sprintf("%d", t.nonce.Add(1)),
	}, nil
}

// submit POSTs the signed swap to the router and maps the reply to a
// domain.TradeResult.
func (t *Trader) submit(ctx context.Context, swap swapRequest) (domain.TradeResult, error) {
	body, err := json.Marshal(swap)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: marshal swap: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.SwapURL, bytes.NewReader(body))
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: submit swap: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TradeResult{}, fmt.Errorf("dexscan: swap rejected with status %d: %s",
			resp.StatusCode, truncate(string(respBody), 256))
	}

	var result swapResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.TradeResult{}, fmt.Errorf("dexscan: decode swap response: %w", err)
	}
	if !result.Success {
		return domain.TradeResult{}, fmt.Errorf("dexscan: swap failed: %s", result.ErrorMsg)
	}

	return domain.TradeResult{
		TxHash:      result.TxHash,
		FilledPrice: parseFloat(result.FilledPrice),
		FilledAt:    time.Unix(result.FilledAt, 0).UTC(),
		GasUSD:      result.GasUSD,
	}, nil
}

// toBaseUnits converts a human token amount to an 18-decimal base-unit
// decimal string, truncating any sub-wei remainder.
func toBaseUnits(amount float64) string {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil))
	scaled := new(big.Float).Mul(big.NewFloat(amount), scale)
	out, _ := scaled.Int(nil)
	if out.Sign() < 0 {
		return "0"
	}
	return out.String()
}
