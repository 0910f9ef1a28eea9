package sources

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"delphor/native/oracle"
	"delphor/services/feederd/config"
)

func TestCoinGeckoFetch(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-pro-api-key")
		_, _ = w.Write([]byte(`{"solana":{"usd":142.123456789123,"last_updated_at":1700000000}}`))
	}))
	defer srv.Close()

	src, err := (&Registry{HTTPClient: srv.Client()}).Build(config.Source{
		Name:     "CoinGecko",
		Type:     "coingecko",
		Endpoint: srv.URL,
		APIKey:   "cg-key",
		Assets:   map[string]string{"sol": "solana"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if src.Name() != "coingecko" {
		t.Fatalf("unexpected name %q", src.Name())
	}
	quote, err := src.Fetch(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery != "ids=solana&include_last_updated_at=true&vs_currencies=usd" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotKey != "cg-key" {
		t.Fatalf("api key not forwarded: %q", gotKey)
	}
	if !quote.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %s", quote.Timestamp)
	}
	reading, err := ToReading(src.Name(), quote)
	if err != nil {
		t.Fatalf("to reading: %v", err)
	}
	if reading.Price != 142_123_456_789 || reading.Decimals != Decimals || reading.Status != oracle.StatusTrading {
		t.Fatalf("unexpected reading %+v", reading)
	}
}

func TestCoinGeckoMissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	src := newCoinGeckoSource(srv.Client(), "coingecko", srv.URL, "", nil)
	if _, err := src.Fetch(context.Background(), "SOL"); err == nil {
		t.Fatalf("expected error for missing asset")
	}
}

func TestJSONSourceFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"quotes":[{"last":"1.0002"}]}}`))
	}))
	defer srv.Close()

	src, err := newJSONSource(srv.Client(), "orca", srv.URL+"/price/{symbol}", "", "data.quotes.0.last", map[string]string{"USDC": "usd-coin"})
	if err != nil {
		t.Fatalf("new json source: %v", err)
	}
	quote, err := src.Fetch(context.Background(), "usdc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/price/usd-coin" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if quote.Price.Cmp(big.NewRat(10002, 10000)) != 0 {
		t.Fatalf("unexpected price %s", quote.Price.FloatString(6))
	}
}

func TestJSONSourceRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"missing key":   `{"data":{}}`,
		"not a number":  `{"data":{"quotes":[{"last":true}]}}`,
		"negative":      `{"data":{"quotes":[{"last":-4}]}}`,
		"index too big": `{"data":{"quotes":[]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()
			src, err := newJSONSource(srv.Client(), "orca", srv.URL, "", "data.quotes.0.last", nil)
			if err != nil {
				t.Fatalf("new json source: %v", err)
			}
			if _, err := src.Fetch(context.Background(), "SOL"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildRejectsUnknownType(t *testing.T) {
	if _, err := NewRegistry().Build(config.Source{Name: "x", Type: "pyth"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestToReadingBounds(t *testing.T) {
	if _, err := ToReading("a", Quote{Price: big.NewRat(1, 10_000_000_000)}); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected sub-resolution price to fail, got %v", err)
	}
	huge := new(big.Rat).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))
	if _, err := ToReading("a", Quote{Price: huge}); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected overflow to fail, got %v", err)
	}
	if _, err := ToReading("a", Quote{}); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected nil price to fail, got %v", err)
	}
}

type countingSource struct {
	calls int
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) Fetch(context.Context, string) (Quote, error) {
	c.calls++
	return Quote{Price: big.NewRat(1, 1), Timestamp: time.Now()}, nil
}

func TestPacedSourceHonoursContext(t *testing.T) {
	inner := &countingSource{}
	paced := Paced(inner, 0.001, 1)
	if _, err := paced.Fetch(context.Background(), "SOL"); err != nil {
		t.Fatalf("first fetch within burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := paced.Fetch(ctx, "SOL"); err == nil {
		t.Fatalf("expected rate limit wait to fail")
	}
	if inner.calls != 1 {
		t.Fatalf("expected upstream to be called once, got %d", inner.calls)
	}
	if Paced(inner, 0, 1) != Source(inner) {
		t.Fatalf("expected zero rate to disable pacing")
	}
}
