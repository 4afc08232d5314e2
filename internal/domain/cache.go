package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest pool prices.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenAddress string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenAddress string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenAddresses []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting, used to throttle RPC calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. A position's exit path takes a
// lock so two bot instances never race the same exit.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for position lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
