package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delphor/core"
	"delphor/crypto"
	"delphor/gateway/middleware"
	"delphor/storage"
)

const routesSecret = "routes-test-secret-routes-test-secret"

func testAddress(prefix crypto.AddressPrefix, seed byte) crypto.Address {
	b := make([]byte, crypto.AddressLength)
	b[0] = seed
	b[crypto.AddressLength-1] = seed
	return crypto.NewAddress(prefix, b)
}

type apiFixture struct {
	handler http.Handler
	node    *core.Node
	now     time.Time
	admin   crypto.Address
	lp      crypto.Address
	trader  crypto.Address
	tokens  map[string]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	admin := testAddress(crypto.AccountPrefix, 0xAA)
	node, err := core.NewNode(storage.NewMemDB(), admin, core.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(node.Close)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: routesSecret, Issuer: "delphor"}, nil)
	handler, err := New(Config{
		Node:          node,
		Pausable:      core.Pausable,
		Authenticator: auth,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{}, nil),
	})
	require.NoError(t, err)

	f := &apiFixture{
		handler: handler,
		node:    node,
		now:     time.Now(),
		admin:   admin,
		lp:      testAddress(crypto.AccountPrefix, 1),
		trader:  testAddress(crypto.AccountPrefix, 2),
		tokens:  make(map[string]string),
	}
	f.tokens[admin.Key()] = f.issue(t, admin, middleware.ScopeAdmin, middleware.ScopeFeeder)
	f.tokens[f.lp.Key()] = f.issue(t, f.lp)
	f.tokens[f.trader.Key()] = f.issue(t, f.trader)
	return f
}

func (f *apiFixture) issue(t *testing.T, who crypto.Address, scopes ...string) string {
	t.Helper()
	token, err := middleware.IssueToken(routesSecret, "delphor", "", who, scopes, time.Hour, f.now)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path string, as crypto.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := f.tokens[as.Key()]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func readings(price string) map[string]interface{} {
	out := make([]map[string]interface{}, 0, 3)
	for _, source := range []string{"pyth", "switchboard", "coingecko"} {
		out = append(out, map[string]interface{}{"source": source, "price": price, "decimals": 9, "status": "trading"})
	}
	return map[string]interface{}{"readings": out}
}

// seed registers SOL and USDC, prices them and opens a funded LP vault
// quoting SOL into USDC.
func (f *apiFixture) seed(t *testing.T) {
	t.Helper()
	for i, tok := range []struct {
		symbol   string
		decimals uint8
		price    string
	}{{"sol", 9, "100000000000"}, {"USDC", 6, "1000000000"}} {
		res := f.do(t, http.MethodPost, "/v1/registry/tokens", f.admin, map[string]interface{}{
			"mint":                   testAddress(crypto.MintPrefix, byte(i+1)).String(),
			"symbol":                 tok.symbol,
			"decimals":               tok.decimals,
			"pythPriceAccount":       testAddress(crypto.FeedPrefix, byte(0x10+i)).String(),
			"switchboardFeedAccount": testAddress(crypto.FeedPrefix, byte(0x20+i)).String(),
			"offchainFeed":           tok.symbol,
		})
		require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
		res = f.do(t, http.MethodPost, "/v1/prices/"+string(rune('0'+i)), f.admin, readings(tok.price))
		require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	}

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/mint", f.admin, map[string]interface{}{
		"position": 1, "owner": f.lp.String(), "amount": "1000000000",
	}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/vaults", f.lp, map[string]string{"kind": "lp"}).Code)
	res := f.do(t, http.MethodPost, "/v1/vaults/deposit", f.lp, map[string]interface{}{"kind": "lp", "position": 1, "amount": "1000000000"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = f.do(t, http.MethodPut, "/v1/vaults/slots/0", f.lp, map[string]interface{}{"buyFee": 10, "sellFee": 10, "receiveStatus": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = f.do(t, http.MethodPut, "/v1/vaults/slots/1", f.lp, map[string]interface{}{"buyFee": 10, "sellFee": 10, "provideStatus": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/mint", f.admin, map[string]interface{}{
		"position": 0, "owner": f.trader.String(), "amount": "2000000000",
	}).Code)
}

func TestRegistryAndPriceRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodGet, "/v1/registry", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	reg := decode[registryJSON](t, res)
	require.Equal(t, f.admin.String(), reg.Admin)
	require.Len(t, reg.Tokens, 2)
	require.Equal(t, "SOL", reg.Tokens[0].Symbol)

	res = f.do(t, http.MethodGet, "/v1/prices/0", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	price := decode[priceJSON](t, res)
	require.Equal(t, Amount(100_000000000), price.Price)
	require.Len(t, price.Sources, 3)
	require.Contains(t, res.Body.String(), `"price":"100000000000"`)

	res = f.do(t, http.MethodPost, "/v1/registry/tokens", f.admin, map[string]interface{}{
		"mint": testAddress(crypto.MintPrefix, 1).String(), "symbol": "DUP", "decimals": 6,
	})
	require.Equal(t, http.StatusConflict, res.Code)

	res = f.do(t, http.MethodPost, "/v1/prices/0", f.admin, map[string]interface{}{
		"readings": []map[string]interface{}{
			{"source": "pyth", "price": "100", "decimals": 0, "status": "trading"},
			{"source": "switchboard", "price": "500", "decimals": 0, "status": "trading"},
			{"source": "coingecko", "price": "900", "decimals": 0, "status": "trading"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	after := decode[priceJSON](t, f.do(t, http.MethodGet, "/v1/prices/0", crypto.Address{}, nil))
	require.Equal(t, price.Price, after.Price)
}

func TestObservationRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodGet, "/v1/observations/SOL", crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	body := readings("101000000000")
	body["symbol"] = "SOL"
	res = f.do(t, http.MethodPost, "/v1/observations", f.admin, body)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = f.do(t, http.MethodGet, "/v1/observations/sol", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	obs := decode[observationJSON](t, res)
	require.Equal(t, "SOL", obs.Symbol)
	require.Len(t, obs.Readings, 3)
}

func TestReadingLayoutsAndMintPositions(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)
	solMint := testAddress(crypto.MintPrefix, 1).String()

	res := f.do(t, http.MethodPost, "/v1/prices/"+solMint, f.admin, map[string]interface{}{
		"readings": []map[string]interface{}{
			{"source": "pyth", "mantissa": 10100000000, "expo": -8, "status": "trading"},
			{"source": "switchboard", "result": 101.0, "status": "trading"},
			{"source": "coingecko", "price": "101000000000", "decimals": 9, "status": "trading"},
		},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	price := decode[priceJSON](t, res)
	require.Equal(t, uint8(0), price.Position)
	require.Equal(t, Amount(101_000000000), price.Price)

	res = f.do(t, http.MethodGet, "/v1/prices/"+solMint, crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, price.Price, decode[priceJSON](t, res).Price)

	res = f.do(t, http.MethodPost, "/v1/prices/0", f.admin, map[string]interface{}{
		"readings": []map[string]interface{}{{"source": "pyth", "mantissa": 1, "status": "trading"}},
	})
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())

	res = f.do(t, http.MethodGet, "/v1/prices/"+testAddress(crypto.MintPrefix, 9).String(), crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodGet, "/v1/supply/0", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, Amount(2_000000000), decode[map[string]Amount](t, res)["supply"])
	res = f.do(t, http.MethodGet, "/v1/supply/"+testAddress(crypto.MintPrefix, 2).String(), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, Amount(1_000000000), decode[map[string]Amount](t, res)["supply"])

	res = f.do(t, http.MethodPost, "/v1/vaults/deposit", f.lp, map[string]interface{}{"kind": "lp", "position": 1, "mint": solMint, "amount": "1"})
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
	res = f.do(t, http.MethodPost, "/v1/swap", f.trader, map[string]interface{}{
		"owner": f.lp.String(), "kind": "lp", "sellPosition": 0, "buyPosition": 1,
		"sellMint": testAddress(crypto.MintPrefix, 2).String(), "sellAmount": "1000", "minReceive": "0",
	})
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
	require.Equal(t, Amount(2_000000000), decode[map[string]Amount](t, f.do(t, http.MethodGet, "/v1/balances/"+f.trader.String()+"/0", crypto.Address{}, nil))["balance"])
}

func TestUnregisteredFeedsAreRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodPost, "/v1/registry/tokens", f.admin, map[string]interface{}{
		"mint": testAddress(crypto.MintPrefix, 3).String(), "symbol": "BARE", "decimals": 6,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = f.do(t, http.MethodPost, "/v1/prices/2", f.admin, readings("1000000000"))
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
	require.Contains(t, decode[errorResponse](t, res).Error, "source not registered")
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodGet, "/v1/prices/2", crypto.Address{}, nil).Code)

	body := readings("1000000000")
	body["symbol"] = "BARE"
	res = f.do(t, http.MethodPost, "/v1/observations", f.admin, body)
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/observations/BARE", crypto.Address{}, nil).Code)
}

func TestSwapRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodGet, "/v1/counterparties?sell=0&buy=1&amount=1000000000", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	candidates := decode[[]candidateJSON](t, res)
	require.Len(t, candidates, 1)
	require.Equal(t, f.lp.String(), candidates[0].Owner)

	res = f.do(t, http.MethodGet, "/v1/quote?owner="+f.lp.String()+"&kind=lp&sell=0&buy=1&amount=1000000000", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	quote := decode[swapResultJSON](t, res)
	require.Equal(t, candidates[0].Receive, quote.Receive)

	swap := map[string]interface{}{
		"owner": f.lp.String(), "kind": "liquidity_provider",
		"sellPosition": 0, "buyPosition": 1,
		"sellAmount": "1000000000", "minReceive": "100000000",
	}
	res = f.do(t, http.MethodPost, "/v1/swap", f.trader, swap)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Contains(t, decode[errorResponse](t, res).Error, "lower than min amount")
	require.NotEmpty(t, res.Header().Get(middleware.HeaderRequestID))

	swap["minReceive"] = quote.Receive
	res = f.do(t, http.MethodPost, "/v1/swap", f.trader, swap)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, quote.Receive, decode[swapResultJSON](t, res).Receive)

	res = f.do(t, http.MethodGet, "/v1/balances/"+f.trader.String()+"/1", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, quote.Receive, decode[map[string]Amount](t, res)["balance"])

	res = f.do(t, http.MethodGet, "/v1/vaults/"+f.lp.String()+"/lp", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	v := decode[vaultJSON](t, res)
	require.Equal(t, Amount(1_000000000), v.Slots[0].Amount)
	require.Equal(t, Amount(1_000000000)-quote.Receive, v.Slots[1].Amount)

	res = f.do(t, http.MethodGet, "/v1/events?limit=1", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"vault.swap"`)
}

func TestAuthorizationRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodPost, "/v1/vaults", crypto.Address{}, map[string]string{"kind": "pm"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = f.do(t, http.MethodPost, "/v1/mint", f.trader, map[string]interface{}{"position": 0, "owner": f.trader.String(), "amount": "1"})
	require.Equal(t, http.StatusForbidden, res.Code)

	// An admin-scoped token that is not the registry admin is still refused.
	impostor := testAddress(crypto.AccountPrefix, 0x55)
	f.tokens[impostor.Key()] = f.issue(t, impostor, middleware.ScopeAdmin)
	res = f.do(t, http.MethodPost, "/v1/mint", impostor, map[string]interface{}{"position": 0, "owner": impostor.String(), "amount": "1"})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(t, http.MethodPost, "/v1/vaults/withdraw", f.trader, map[string]interface{}{"owner": f.lp.String(), "kind": "lp", "position": 1, "amount": "1"})
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestPauseRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodPut, "/v1/admin/pauses/vault", f.admin, pauseRequest{Paused: true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	pauses := decode[map[string]bool](t, f.do(t, http.MethodGet, "/v1/admin/pauses", crypto.Address{}, nil))
	require.True(t, pauses["vault"])
	require.False(t, pauses["oracle"])

	res = f.do(t, http.MethodPost, "/v1/swap", f.trader, map[string]interface{}{
		"owner": f.lp.String(), "kind": "lp", "sellPosition": 0, "buyPosition": 1, "sellAmount": "1000", "minReceive": "0",
	})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	res = f.do(t, http.MethodPut, "/v1/admin/pauses/lending", f.admin, pauseRequest{Paused: true})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMalformedRequests(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t)

	res := f.do(t, http.MethodPost, "/v1/vaults/deposit", f.lp, map[string]interface{}{"kind": "lp", "position": 1, "amount": "1", "extra": true})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodPost, "/v1/vaults/deposit", f.lp, map[string]interface{}{"kind": "lp", "position": 1, "amount": "-5"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodPost, "/v1/vaults", f.lp, map[string]string{"kind": "hedge"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodGet, "/v1/balances/not-an-address/0", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodGet, "/v1/prices/9", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/v1/registry", crypto.Address{}, nil)
	res := f.do(t, http.MethodGet, "/metrics", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "delphor_gateway_requests_total")
}
