package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polypulse/pulse/internal/store"
)

const userAgent = "Mozilla/5.0"

// Client fetches market listings and trade history from an upstream
// provider.
type Client interface {
	ActiveMarkets(ctx context.Context, limit int) ([]store.Market, error)
	ClosedMarkets(ctx context.Context, limit int) ([]store.Market, error)
	MarketTrades(ctx context.Context, marketID string, limit int) ([]RawTrade, error)
	TokenTrades(ctx context.Context, tokenID string, limit int) ([]RawTrade, error)
}

// LiveClient talks to the real HTTP APIs. Depending on proxy mode it carries
// an ordered list of transports: one that honors the environment proxy and
// one that bypasses it. Each request walks the list and the first transport
// to succeed wins; all are tried before the request is declared failed.
type LiveClient struct {
	marketsURL string
	tradesURL  string
	clients    []*http.Client
}

// NewLiveClient builds a client for the given endpoints. proxyMode is
// "proxy", "direct" or "auto" (proxy first, then direct).
func NewLiveClient(marketsURL, tradesURL, proxyMode string) *LiveClient {
	proxied := &http.Client{Timeout: 10 * time.Second}
	direct := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{Proxy: nil},
	}

	var clients []*http.Client
	switch proxyMode {
	case "proxy":
		clients = []*http.Client{proxied}
	case "direct":
		clients = []*http.Client{direct}
	default: // auto
		clients = []*http.Client{proxied, direct}
	}

	return &LiveClient{
		marketsURL: marketsURL,
		tradesURL:  tradesURL,
		clients:    clients,
	}
}

func (c *LiveClient) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	var lastErr error
	for _, client := range c.clients {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = fmt.Errorf("GET %s: status %d", u.Path, resp.StatusCode)
			continue
		}
		return body, nil
	}
	return nil, lastErr
}

func (c *LiveClient) fetchMarkets(ctx context.Context, limit int, closed bool) ([]store.Market, error) {
	params := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"active": {strconv.FormatBool(!closed)},
		"closed": {strconv.FormatBool(closed)},
		"order":  {"volume"},
	}
	body, err := c.get(ctx, c.marketsURL+"/markets", params)
	if err != nil {
		return nil, err
	}
	var raw []RawMarket
	if err := decodeList(body, &raw); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	markets := make([]store.Market, 0, len(raw))
	for _, rm := range raw {
		m := rm.Model()
		if m.ID == "" {
			continue // unusable listing, skip rather than fail the batch
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func (c *LiveClient) ActiveMarkets(ctx context.Context, limit int) ([]store.Market, error) {
	return c.fetchMarkets(ctx, limit, false)
}

func (c *LiveClient) ClosedMarkets(ctx context.Context, limit int) ([]store.Market, error) {
	return c.fetchMarkets(ctx, limit, true)
}

func (c *LiveClient) fetchTrades(ctx context.Context, key, id string, limit int) ([]RawTrade, error) {
	params := url.Values{
		key:     {id},
		"limit": {strconv.Itoa(limit)},
	}
	body, err := c.get(ctx, c.tradesURL, params)
	if err != nil {
		return nil, err
	}
	trades, err := decodeTrades(body)
	if err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

// MarketTrades fetches trades by market/condition id.
func (c *LiveClient) MarketTrades(ctx context.Context, marketID string, limit int) ([]RawTrade, error) {
	return c.fetchTrades(ctx, "market", marketID, limit)
}

// TokenTrades fetches trades by token ("asset") id. Closed markets often
// lack a per-market trade endpoint, so this is the fallback lookup.
func (c *LiveClient) TokenTrades(ctx context.Context, tokenID string, limit int) ([]RawTrade, error) {
	return c.fetchTrades(ctx, "asset", tokenID, limit)
}
