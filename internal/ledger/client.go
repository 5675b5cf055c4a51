package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"whalewatch/internal/model"
)

// Client talks to the vendor ledger/price API. A token bucket of one enforces
// the minimum inter-request interval so bursts are serialized against the
// vendor rate limit.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, timeout time.Duration, minInterval time.Duration) *Client {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

func (c *Client) request(ctx context.Context, method, path string, payload any) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ledger HTTP %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}

// WalletTransactions fetches recent activity for a batch of addresses. The
// payload shape is opaque; the normalizer copes with the variants.
func (c *Client) WalletTransactions(ctx context.Context, addresses []model.AddressRef) (any, error) {
	return c.request(ctx, http.MethodPost, "/api/v1/developer/wallet/transactions", addresses)
}

// WalletBalances fetches current holdings for a batch of addresses.
func (c *Client) WalletBalances(ctx context.Context, addresses []model.AddressRef) (any, error) {
	return c.request(ctx, http.MethodPost, "/api/v1/developer/wallet/balances", addresses)
}

// Prices fetches quotes for the given tokens. Rows missing chain, address or
// a numeric price are dropped.
func (c *Client) Prices(ctx context.Context, tokens []model.TokenRef) ([]model.PriceQuote, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	response, err := c.request(ctx, http.MethodPost, "/api/v1/developer/prices", tokens)
	if err != nil {
		return nil, err
	}
	rows, ok := response.([]any)
	if !ok {
		return nil, nil
	}
	now := time.Now().Unix()
	quotes := make([]model.PriceQuote, 0, len(rows))
	for _, item := range rows {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		chain := strings.ToLower(stringField(row, "chain"))
		address := strings.ToLower(stringField(row, "address"))
		if address == "" {
			address = strings.ToLower(stringField(row, "token_address"))
		}
		price, ok := row["price"].(float64)
		if chain == "" || address == "" || !ok {
			continue
		}
		symbol := ""
		if info, ok := row["info"].(map[string]any); ok {
			symbol = stringField(info, "symbol")
		}
		quotes = append(quotes, model.PriceQuote{
			Chain:        chain,
			TokenAddress: address,
			Price:        price,
			Symbol:       symbol,
			FetchedAt:    now,
		})
	}
	return quotes, nil
}

// CreateQuery registers an explorer SQL query and returns its id.
func (c *Client) CreateQuery(ctx context.Context, title, sql string, limit int) (string, error) {
	response, err := c.request(ctx, http.MethodPost, "/api/v1/explorer/queries", map[string]any{
		"title": title,
		"sql":   sql,
		"limit": limit,
	})
	if err != nil {
		return "", err
	}
	return idField(response, "id", "query_id")
}

// RunQueryAsync starts an async run of a previously created query.
func (c *Client) RunQueryAsync(ctx context.Context, queryID string, parameters map[string]any) (string, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	response, err := c.request(ctx, http.MethodPost, "/api/v1/explorer/queries/"+queryID+"/run-async", map[string]any{
		"parameters": parameters,
	})
	if err != nil {
		return "", err
	}
	return idField(response, "run_id", "id")
}

// QueryStatus reports the status of an async run ("success", "failed", ...).
func (c *Client) QueryStatus(ctx context.Context, runID string) (string, error) {
	response, err := c.request(ctx, http.MethodGet, "/api/v1/explorer/query-runs/"+runID+"/status", nil)
	if err != nil {
		return "", err
	}
	if s, ok := response.(string); ok {
		return strings.ToLower(strings.TrimSpace(s)), nil
	}
	if row, ok := response.(map[string]any); ok {
		return strings.ToLower(stringField(row, "status")), nil
	}
	return "", fmt.Errorf("unexpected status payload for run %s", runID)
}

// QueryResults fetches the result rows of a finished run.
func (c *Client) QueryResults(ctx context.Context, runID string) ([]map[string]any, error) {
	response, err := c.request(ctx, http.MethodGet, "/api/v1/explorer/query-runs/"+runID+"/results", nil)
	if err != nil {
		return nil, err
	}
	row, ok := response.(map[string]any)
	if !ok {
		return nil, nil
	}
	data, ok := row["data"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]map[string]any, 0, len(data))
	for _, item := range data {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func stringField(row map[string]any, key string) string {
	v, _ := row[key].(string)
	return strings.TrimSpace(v)
}

func idField(response any, keys ...string) (string, error) {
	row, ok := response.(map[string]any)
	if !ok {
		return "", fmt.Errorf("unexpected response shape")
	}
	for _, key := range keys {
		if v := stringField(row, key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("response missing id field")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
