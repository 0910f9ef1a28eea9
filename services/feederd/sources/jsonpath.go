package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// symbolPlaceholder in a json source endpoint is replaced by the asset id.
const symbolPlaceholder = "{symbol}"

// JSON reads a price out of an arbitrary HTTP JSON endpoint. The price is
// located by a dotted path such as "data.price" or "result.0.last"; numeric
// segments index arrays.
type JSON struct {
	name     string
	client   *http.Client
	endpoint string
	apiKey   string
	path     []string
	ids      map[string]string
}

func newJSONSource(client *http.Client, name, endpoint, apiKey, pricePath string, assets map[string]string) (*JSON, error) {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		return nil, fmt.Errorf("json source %s: endpoint required", name)
	}
	path := splitPath(pricePath)
	if len(path) == 0 {
		return nil, fmt.Errorf("json source %s: price path required", name)
	}
	return &JSON{name: name, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey), path: path, ids: assetMap(assets)}, nil
}

// Name implements Source.
func (j *JSON) Name() string { return j.name }

// Fetch queries the endpoint for symbol and extracts the configured path.
func (j *JSON) Fetch(ctx context.Context, symbol string) (Quote, error) {
	target := strings.ReplaceAll(j.endpoint, symbolPlaceholder, assetID(j.ids, symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if j.apiKey != "" {
		req.Header.Set("X-API-Key", j.apiKey)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("%s: status %d: %s", j.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	decoder.UseNumber()
	var payload interface{}
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("%s: decode: %w", j.name, err)
	}
	value, err := lookup(payload, j.path)
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", j.name, err)
	}
	var raw string
	switch v := value.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return Quote{}, fmt.Errorf("%w: %s value at %s is %T", ErrInvalidPrice, j.name, strings.Join(j.path, "."), value)
	}
	price, ok := new(big.Rat).SetString(raw)
	if !ok || price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: %s rate %q", ErrInvalidPrice, j.name, raw)
	}
	return Quote{Price: price, Timestamp: time.Now()}, nil
}

func splitPath(raw string) []string {
	var out []string
	for _, part := range strings.Split(strings.TrimSpace(raw), ".") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lookup(node interface{}, path []string) (interface{}, error) {
	for i, key := range path {
		switch typed := node.(type) {
		case map[string]interface{}:
			next, ok := typed[key]
			if !ok {
				return nil, fmt.Errorf("path %s not found", strings.Join(path[:i+1], "."))
			}
			node = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil, fmt.Errorf("path %s: index %q out of range", strings.Join(path[:i+1], "."), key)
			}
			node = typed[idx]
		default:
			return nil, fmt.Errorf("path %s: cannot descend into %T", strings.Join(path[:i+1], "."), node)
		}
	}
	return node, nil
}
