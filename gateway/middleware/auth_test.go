package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delphor/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testCaller(seed byte) crypto.Address {
	b := make([]byte, crypto.AddressLength)
	b[0] = seed
	return crypto.NewAddress(crypto.AccountPrefix, b)
}

func captureCaller(seen *crypto.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller, ok := CallerFromContext(r.Context()); ok {
			*seen = caller
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/prices/0", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestAuthenticatorAcceptsSubjectAndScopes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "delphor"}, nil)
	auth.nowFn = func() time.Time { return now }
	caller := testCaller(7)

	token, err := IssueToken(testSecret, "delphor", "", caller, []string{ScopeFeeder}, time.Hour, now)
	require.NoError(t, err)

	var seen crypto.Address
	res := serve(auth.Middleware(ScopeFeeder)(captureCaller(&seen)), token)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, seen.Equal(caller))

	res = serve(auth.Middleware(ScopeAdmin)(captureCaller(&seen)), token)
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "delphor"}, nil)
	auth.nowFn = func() time.Time { return now }
	var seen crypto.Address
	h := auth.Middleware()(captureCaller(&seen))

	require.Equal(t, http.StatusUnauthorized, serve(h, "").Code)

	expired, err := IssueToken(testSecret, "delphor", "", testCaller(1), nil, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(h, expired).Code)

	wrongIssuer, err := IssueToken(testSecret, "someone-else", "", testCaller(1), nil, time.Hour, now)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(h, wrongIssuer).Code)

	wrongKey, err := IssueToken("another-secret-another-secret-00", "delphor", "", testCaller(1), nil, time.Hour, now)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(h, wrongKey).Code)

	mint := crypto.NewAddress(crypto.MintPrefix, make([]byte, crypto.AddressLength))
	mintSubject, err := IssueToken(testSecret, "delphor", "", mint, nil, time.Hour, now)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(h, mintSubject).Code)
}

func TestAuthenticatorDisabledUsesDevCaller(t *testing.T) {
	dev := testCaller(9)
	auth := NewAuthenticator(AuthConfig{DevCaller: dev}, nil)
	var seen crypto.Address
	res := serve(auth.Middleware(ScopeAdmin)(captureCaller(&seen)), "")
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, seen.Equal(dev))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://app.delphor.io"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/vaults", nil)
	req.Header.Set("Origin", "https://app.delphor.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://app.delphor.io", res.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Empty(t, res.Header().Get("Access-Control-Allow-Origin"))
}
