package sources

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"delphor/native/oracle"
	"delphor/services/feederd/config"
)

// Decimals is the fixed-point scale feederd publishes readings at.
const Decimals = 9

// ErrInvalidPrice is returned when a source yields a price that cannot be
// represented as a positive fixed-point reading.
var ErrInvalidPrice = errors.New("sources: invalid price")

// Quote is a single USD price reported by a source.
type Quote struct {
	Price     *big.Rat
	Timestamp time.Time
}

// Source resolves the USD price of a token symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// Registry constructs sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry whose client is traced with otelhttp.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

// Build creates a paced source from the supplied configuration.
func (r *Registry) Build(cfg config.Source) (Source, error) {
	var src Source
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "coingecko":
		src = newCoinGeckoSource(r.client(), label(cfg.Name, oracle.SourceCoinGecko), cfg.Endpoint, cfg.APIKey, cfg.Assets)
	case "json":
		built, err := newJSONSource(r.client(), label(cfg.Name, "json"), cfg.Endpoint, cfg.APIKey, cfg.PricePath, cfg.Assets)
		if err != nil {
			return nil, err
		}
		src = built
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
	return Paced(src, cfg.RatePerSecond, cfg.Burst), nil
}

func (r *Registry) client() *http.Client {
	if r != nil && r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

type pacedSource struct {
	Source
	limiter *rate.Limiter
}

// Paced wraps src so that Fetch waits on a token bucket of perSecond with
// burst before reaching upstream. Non-positive limits disable pacing.
func Paced(src Source, perSecond float64, burst int) Source {
	if src == nil || perSecond <= 0 {
		return src
	}
	if burst <= 0 {
		burst = 1
	}
	return &pacedSource{Source: src, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p *pacedSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("%s: rate limit: %w", p.Name(), err)
	}
	return p.Source.Fetch(ctx, symbol)
}

// ToReading converts a quote into a trading reading at Decimals, flooring
// any remaining fraction.
func ToReading(source string, quote Quote) (oracle.Reading, error) {
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return oracle.Reading{}, fmt.Errorf("%w: %s reported non-positive price", ErrInvalidPrice, source)
	}
	scaled := new(big.Int).Mul(quote.Price.Num(), new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
	scaled.Quo(scaled, quote.Price.Denom())
	if scaled.Sign() <= 0 {
		return oracle.Reading{}, fmt.Errorf("%w: %s price %s below resolution", ErrInvalidPrice, source, quote.Price.FloatString(12))
	}
	if !scaled.IsUint64() {
		return oracle.Reading{}, fmt.Errorf("%w: %s price %s overflows", ErrInvalidPrice, source, quote.Price.FloatString(2))
	}
	return oracle.Reading{
		Source:   source,
		Price:    scaled.Uint64(),
		Decimals: Decimals,
		Status:   oracle.StatusTrading,
	}, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return strings.ToLower(trimmed)
	}
	return fallback
}

func assetMap(assets map[string]string) map[string]string {
	mapped := make(map[string]string, len(assets))
	for k, v := range assets {
		mapped[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return mapped
}

func assetID(assets map[string]string, symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := assets[symbol]; ok && id != "" {
		return id
	}
	return strings.ToLower(symbol)
}
