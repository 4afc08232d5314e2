package domain

import "time"

// PriceTick is a single price observation for a pool token, pushed by the
// feed and consumed by the position monitor.
type PriceTick struct {
	TokenAddress string
	PriceUSD     float64
	LiquidityUSD float64
	ObservedAt   time.Time
}

// TradeSide distinguishes pool entries from exits.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeRequest describes a swap to submit against a liquidity pool.
type TradeRequest struct {
	PositionID   string
	TokenAddress string
	Side         TradeSide
	Amount       float64 // token amount for sells, quote amount for buys
	MaxSlippage  float64 // fraction, e.g. 0.02 for 2 %
	Reason       string
}

// TradeResult is the outcome of a submitted swap.
type TradeResult struct {
	TxHash      string
	FilledPrice float64
	FilledAt    time.Time
	GasUSD      float64
}

// Pool holds indexer metadata for one liquidity pool.
type Pool struct {
	Address      string
	TokenAddress string
	TokenSymbol  string
	PriceUSD     float64
	LiquidityUSD float64
	VolumeUSD24h float64
	CreatedAt    time.Time
}
