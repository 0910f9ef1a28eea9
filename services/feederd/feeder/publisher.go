package feeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"delphor/crypto"
	"delphor/gateway/middleware"
)

// TokenSource yields bearer tokens for the node API.
type TokenSource interface {
	Token(now time.Time) (string, error)
}

// StaticToken is a pre-issued bearer token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(time.Time) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", fmt.Errorf("feeder token not configured")
	}
	return token, nil
}

// MintedTokens signs short-lived feeder-scoped tokens with the node's shared
// secret and reuses each until a fifth of its lifetime remains.
type MintedTokens struct {
	Secret   string
	Issuer   string
	Audience string
	Caller   crypto.Address
	TTL      time.Duration

	mu      sync.Mutex
	current string
	expires time.Time
}

// Token implements TokenSource.
func (m *MintedTokens) Token(now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl := m.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if m.current != "" && now.Before(m.expires.Add(-ttl/5)) {
		return m.current, nil
	}
	token, err := middleware.IssueToken(m.Secret, m.Issuer, m.Audience, m.Caller, []string{middleware.ScopeFeeder}, ttl, now)
	if err != nil {
		return "", fmt.Errorf("issue feeder token: %w", err)
	}
	m.current, m.expires = token, now.Add(ttl)
	return token, nil
}

// PublishError reports a non-2xx answer from the node.
type PublishError struct {
	Status  int
	Message string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("node rejected observation: status %d: %s", e.Status, e.Message)
}

// HTTPPublisher posts observations to the node's /v1/observations route.
type HTTPPublisher struct {
	client   *http.Client
	endpoint string
	tokens   TokenSource
	now      func() time.Time
}

// NewHTTPPublisher targets the node API rooted at baseURL.
func NewHTTPPublisher(client *http.Client, baseURL string, tokens TokenSource) (*HTTPPublisher, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("node endpoint required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPublisher{client: client, endpoint: base + "/v1/observations", tokens: tokens, now: time.Now}, nil
}

type readingPayload struct {
	Source   string `json:"source"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
	Status   string `json:"status"`
}

type observationPayload struct {
	Symbol   string           `json:"symbol"`
	Readings []readingPayload `json:"readings"`
}

// PublishObservation implements Publisher.
func (p *HTTPPublisher) PublishObservation(ctx context.Context, obs Observation) error {
	payload := observationPayload{Symbol: obs.Symbol, Readings: make([]readingPayload, 0, len(obs.Readings))}
	for _, r := range obs.Readings {
		payload.Readings = append(payload.Readings, readingPayload{
			Source:   r.Source,
			Price:    strconv.FormatUint(r.Price, 10),
			Decimals: r.Decimals,
			Status:   r.Status.String(),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	token, err := p.tokens.Token(p.now())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if obs.RunID != "" {
		req.Header.Set(middleware.HeaderRequestID, obs.RunID)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post observation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
		message = decoded.Error
	}
	return &PublishError{Status: resp.StatusCode, Message: message}
}
