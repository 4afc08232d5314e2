// Package feed streams live pool prices from the Dexscan websocket into the
// position monitor, with a write-through to the Redis price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradekit/snipebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// tickBuffer is the capacity of the outgoing tick channel. When the
	// consumer falls behind, the oldest unread tick is simply superseded
	// by never being replaced; new ticks are dropped instead of blocking
	// the read loop.
	tickBuffer = 256
)

// wsCommand is the subscribe/unsubscribe envelope sent to the feed server.
type wsCommand struct {
	Type   string   `json:"type"` // "subscribe" or "unsubscribe"
	Tokens []string `json:"tokens"`
}

// wsPriceMessage is a single price update pushed by the feed server.
type wsPriceMessage struct {
	Type         string  `json:"type"` // "price"
	Token        string  `json:"token"`
	PriceUSD     float64 `json:"priceUsd"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	Timestamp    int64   `json:"ts"` // unix milliseconds
}

// PoolFeed maintains a websocket subscription to pool price updates and
// fans them out as domain.PriceTick values. It reconnects with exponential
// backoff and restores subscriptions after a reconnect.
type PoolFeed struct {
	wsURL  string
	cache  domain.PriceCache // optional write-through, may be nil
	logger *slog.Logger

	ticks chan domain.PriceTick

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewPoolFeed creates a feed for the given websocket endpoint. cache may be
// nil to disable the write-through.
func NewPoolFeed(wsURL string, cache domain.PriceCache, logger *slog.Logger) *PoolFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolFeed{
		wsURL:  wsURL,
		cache:  cache,
		logger: logger.With(slog.String("component", "pool_feed")),
		ticks:  make(chan domain.PriceTick, tickBuffer),
		tokens: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Ticks returns the channel price updates are delivered on. The channel is
// closed when the feed shuts down.
func (f *PoolFeed) Ticks() <-chan domain.PriceTick {
	return f.ticks
}

// Subscribe adds tokens to the watched set. If the feed is connected the
// subscription is sent immediately; either way it is restored on reconnect.
func (f *PoolFeed) Subscribe(tokens ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fresh := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := f.tokens[tok]; !ok {
			f.tokens[tok] = struct{}{}
			fresh = append(fresh, tok)
		}
	}
	if len(fresh) == 0 || f.conn == nil {
		return nil
	}
	return f.sendCommand(wsCommand{Type: "subscribe", Tokens: fresh})
}

// Unsubscribe removes tokens from the watched set and, if connected, tells
// the server to stop sending their updates.
func (f *PoolFeed) Unsubscribe(tokens ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := f.tokens[tok]; ok {
			delete(f.tokens, tok)
			removed = append(removed, tok)
		}
	}
	if len(removed) == 0 || f.conn == nil {
		return nil
	}
	return f.sendCommand(wsCommand{Type: "unsubscribe", Tokens: removed})
}

// Run connects and pumps price updates until ctx is cancelled or Close is
// called. Disconnects trigger reconnection with exponential backoff.
func (f *PoolFeed) Run(ctx context.Context) error {
	defer close(f.ticks)

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("pool feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed. Safe to call more than once.
func (f *PoolFeed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// runConnection dials, restores subscriptions, and reads until the
// connection drops or ctx is cancelled.
func (f *PoolFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	f.mu.Lock()
	f.conn = conn
	subscribed := make([]string, 0, len(f.tokens))
	for tok := range f.tokens {
		subscribed = append(subscribed, tok)
	}
	var subErr error
	if len(subscribed) > 0 {
		subErr = f.sendCommand(wsCommand{Type: "subscribe", Tokens: subscribed})
	}
	f.mu.Unlock()

	if subErr != nil {
		conn.Close()
		return fmt.Errorf("feed: restore subscriptions: %w", subErr)
	}

	f.logger.Info("pool feed connected", slog.Int("tokens", len(subscribed)))

	// Unblock a pending ReadMessage when the feed is cancelled or closed.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-connDone:
			return
		}
		conn.Close()
	}()

	go f.pingLoop(conn, connDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.conn = nil
			f.mu.Unlock()
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}

		f.dispatch(ctx, message)
	}
}

// dispatch decodes one message and forwards price updates.
func (f *PoolFeed) dispatch(ctx context.Context, message []byte) {
	var msg wsPriceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.logger.Warn("pool feed dropped malformed message", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "price" || msg.Token == "" {
		return
	}

	tick := domain.PriceTick{
		TokenAddress: msg.Token,
		PriceUSD:     msg.PriceUSD,
		LiquidityUSD: msg.LiquidityUSD,
		ObservedAt:   time.UnixMilli(msg.Timestamp).UTC(),
	}

	if f.cache != nil {
		if err := f.cache.SetPrice(ctx, tick.TokenAddress, tick.PriceUSD, tick.ObservedAt); err != nil {
			f.logger.Warn("price cache write-through failed",
				slog.String("token", tick.TokenAddress),
				slog.String("error", err.Error()),
			)
		}
	}

	select {
	case f.ticks <- tick:
	default:
		// Consumer is behind; dropping is safer than stalling the read
		// loop, the next tick carries a fresher price anyway.
		f.logger.Warn("tick channel full, dropping update", slog.String("token", tick.TokenAddress))
	}
}

// sendCommand writes a JSON command. Caller must hold f.mu with f.conn set.
func (f *PoolFeed) sendCommand(cmd wsCommand) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop keeps the connection alive until the connection's read loop ends.
func (f *PoolFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
