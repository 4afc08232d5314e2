// Package dexscan is the client for the Dexscan pool indexer, which exposes
// a GraphQL API for pool metadata and price quotes plus a REST endpoint for
// signed swap submission.
package dexscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tradekit/snipebot/internal/domain"
)

// Client is a GraphQL client for the Dexscan pool indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Dexscan GraphQL client.
//
// graphqlURL is the indexer subgraph endpoint, e.g.
// "https://api.dexscan.io/subgraphs/pools/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// apiPool is the indexer's wire representation of a pool. Numeric fields
// arrive as decimal strings.
type apiPool struct {
	ID           string `json:"id"`
	Token        string `json:"token"`
	TokenSymbol  string `json:"tokenSymbol"`
	PriceUSD     string `json:"priceUsd"`
	LiquidityUSD string `json:"liquidityUsd"`
	VolumeUSD24h string `json:"volumeUsd24h"`
	CreatedAt    string `json:"createdAt"`
}

func (p apiPool) toDomain() domain.Pool {
	created, _ := strconv.ParseInt(p.CreatedAt, 10, 64)
	return domain.Pool{
		Address:      p.ID,
		TokenAddress: p.Token,
		TokenSymbol:  p.TokenSymbol,
		PriceUSD:     parseFloat(p.PriceUSD),
		LiquidityUSD: parseFloat(p.LiquidityUSD),
		VolumeUSD24h: parseFloat(p.VolumeUSD24h),
		CreatedAt:    time.Unix(created, 0).UTC(),
	}
}

// FetchPool returns the deepest pool for the given token address, or
// domain.ErrNotFound if the indexer knows no pool for it.
func (c *Client) FetchPool(ctx context.Context, tokenAddress string) (domain.Pool, error) {
	query := `
		query Pool($token: String!) {
			pools(
				first: 1
				orderBy: liquidityUsd
				orderDirection: desc
				where: { token: $token }
			) {
				id
				token
				tokenSymbol
				priceUsd
				liquidityUsd
				volumeUsd24h
				createdAt
			}
		}
	`

	variables := map[string]any{
		"token": strings.ToLower(tokenAddress),
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("dexscan: fetch pool: %w", err)
	}

	var result struct {
		Pools []apiPool `json:"pools"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return domain.Pool{}, fmt.Errorf("dexscan: decode pool: %w", err)
	}
	if len(result.Pools) == 0 {
		return domain.Pool{}, fmt.Errorf("dexscan: pool for token %s: %w", tokenAddress, domain.ErrNotFound)
	}

	return result.Pools[0].toDomain(), nil
}

// FetchNewPools returns pools created at or after the given timestamp,
// ordered oldest first, limited by the 'first' parameter. Used by watch mode
// to discover launch candidates.
func (c *Client) FetchNewPools(ctx context.Context, since time.Time, first int) ([]domain.Pool, error) {
	query := `
		query NewPools($since: BigInt!, $first: Int!) {
			pools(
				first: $first
				orderBy: createdAt
				orderDirection: asc
				where: { createdAt_gte: $since }
			) {
				id
				token
				tokenSymbol
				priceUsd
				liquidityUsd
				volumeUsd24h
				createdAt
			}
		}
	`

	variables := map[string]any{
		"since": fmt.Sprintf("%d", since.Unix()),
		"first": first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("dexscan: fetch new pools: %w", err)
	}

	var result struct {
		Pools []apiPool `json:"pools"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("dexscan: decode new pools: %w", err)
	}

	pools := make([]domain.Pool, 0, len(result.Pools))
	for _, p := range result.Pools {
		pools = append(pools, p.toDomain())
	}
	return pools, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph,
// useful for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("dexscan: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("dexscan: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the indexer endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode graphql envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}

	return envelope.Data, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
