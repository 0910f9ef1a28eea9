package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGecko adapts the public CoinGecko simple price API.
type CoinGecko struct {
	name     string
	client   *http.Client
	endpoint string
	apiKey   string
	ids      map[string]string
}

func newCoinGeckoSource(client *http.Client, name, endpoint, apiKey string, assets map[string]string) *CoinGecko {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	return &CoinGecko{name: name, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), ids: assetMap(assets)}
}

// Name implements Source.
func (c *CoinGecko) Name() string { return c.name }

// Fetch queries the USD price of symbol.
func (c *CoinGecko) Fetch(ctx context.Context, symbol string) (Quote, error) {
	id := assetID(c.ids, symbol)
	if id == "" {
		return Quote{}, fmt.Errorf("coingecko: symbol required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko: quote missing for %s", id)
	}
	raw := strings.TrimSpace(entry["usd"].String())
	if raw == "" {
		return Quote{}, fmt.Errorf("coingecko: empty price for %s", id)
	}
	price, ok := new(big.Rat).SetString(raw)
	if !ok || price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: coingecko rate %q", ErrInvalidPrice, raw)
	}
	ts := time.Now()
	if rawTs := entry["last_updated_at"].String(); rawTs != "" {
		if parsed, err := strconv.ParseInt(rawTs, 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	return Quote{Price: price, Timestamp: ts}, nil
}
