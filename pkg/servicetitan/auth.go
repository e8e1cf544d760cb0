// Package servicetitan provides an OAuth client-credentials token manager and
// paginated collectors for the ServiceTitan REST API.
package servicetitan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAuthURL is the production token endpoint base.
	DefaultAuthURL = "https://auth.servicetitan.io"

	// ExpiryBuffer is subtracted from a token's lifetime so it is refreshed
	// before the server starts rejecting it.
	ExpiryBuffer = 120 * time.Second

	defaultExpiresIn = 3600
)

// Credentials identify the client for the client-credentials grant.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	AppKey       string
	Scope        string
}

// Complete reports whether the credentials can be exchanged for a token.
func (c Credentials) Complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Token is the result of a successful exchange.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	ExpiresAt   time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AuthOption configures a TokenManager.
type AuthOption func(*TokenManager)

// WithAuthURL sets the token endpoint base (for testing).
func WithAuthURL(u string) AuthOption {
	return func(m *TokenManager) {
		m.authURL = strings.TrimRight(u, "/")
	}
}

// WithAuthHTTPClient sets the HTTP client used for token exchanges.
func WithAuthHTTPClient(hc *http.Client) AuthOption {
	return func(m *TokenManager) {
		m.http = hc
	}
}

// WithOnRefresh registers a callback run after every successful exchange.
func WithOnRefresh(fn func()) AuthOption {
	return func(m *TokenManager) {
		m.onRefresh = fn
	}
}

// TokenManager is the only writer of token state. Readers go through Valid or
// Headers; concurrent refreshes collapse into a single exchange.
type TokenManager struct {
	authURL   string
	http      *http.Client
	onRefresh func()
	log       *zap.Logger

	mu        sync.Mutex
	creds     Credentials
	token     string
	expiresAt time.Time

	group   singleflight.Group
	nowFunc func() time.Time
}

// NewTokenManager creates a manager holding creds. No exchange happens until
// a token is first needed.
func NewTokenManager(creds Credentials, opts ...AuthOption) *TokenManager {
	m := &TokenManager{
		authURL: DefaultAuthURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zap.L().With(zap.String("component", "servicetitan.auth")),
		creds:   creds,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire exchanges creds for a token, stores both, and returns the token.
func (m *TokenManager) Acquire(ctx context.Context, creds Credentials) (Token, error) {
	tok, err := m.exchange(ctx, creds)
	if err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	m.creds = creds
	m.token = tok.AccessToken
	m.expiresAt = tok.ExpiresAt
	m.mu.Unlock()

	if m.onRefresh != nil {
		m.onRefresh()
	}
	m.log.Info("token acquired",
		zap.String("client_id", MaskSecret(creds.ClientID)),
		zap.Int("expires_in", tok.ExpiresIn),
	)
	return tok, nil
}

// IsExpired reports whether no token is held or it is inside the expiry buffer.
func (m *TokenManager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredLocked()
}

func (m *TokenManager) expiredLocked() bool {
	if m.token == "" {
		return true
	}
	return !m.nowFunc().Before(m.expiresAt.Add(-ExpiryBuffer))
}

// Valid returns the cached token, acquiring a new one only if it has expired.
func (m *TokenManager) Valid(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.expiredLocked() {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	return m.refresh(ctx)
}

// ForceRefresh re-acquires a token regardless of expiry. Callers that arrive
// while an exchange is in flight share its result.
func (m *TokenManager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()

	_, err := m.refresh(ctx)
	return err
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	v, err, shared := m.group.Do("token", func() (any, error) {
		m.mu.Lock()
		creds := m.creds
		m.mu.Unlock()

		if !creds.Complete() {
			return "", &AuthError{Err: eris.New("incomplete credentials: tenant id, client id and client secret are required")}
		}
		tok, err := m.Acquire(ctx, creds)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	})
	if shared {
		m.log.Debug("token refresh shared with concurrent caller")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Headers returns the authorization headers for an API request.
func (m *TokenManager) Headers(ctx context.Context) (http.Header, error) {
	tok, err := m.Valid(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	appKey := m.creds.AppKey
	m.mu.Unlock()

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok)
	h.Set("Content-Type", "application/json")
	if appKey != "" {
		h.Set("ST-App-Key", appKey)
	}
	return h, nil
}

// Expiry returns when the held token expires, or the zero time.
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// TenantID returns the tenant the credentials belong to.
func (m *TokenManager) TenantID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.TenantID
}

func (m *TokenManager) exchange(ctx context.Context, creds Credentials) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"scope":         {creds.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL+"/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &AuthError{Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return Token{}, &AuthError{Err: eris.Wrap(err, "token request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &AuthError{Status: resp.StatusCode, Err: eris.Wrap(err, "read token response")}
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, &AuthError{Status: resp.StatusCode, Err: eris.Wrap(err, "decode token response")}
	}
	if tr.AccessToken == "" {
		return Token{}, &AuthError{Status: resp.StatusCode, Err: eris.New("no access_token in response")}
	}

	expiresIn := defaultExpiresIn
	if tr.ExpiresIn != nil {
		expiresIn = *tr.ExpiresIn
	}
	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return Token{
		AccessToken: tr.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   expiresIn,
		ExpiresAt:   m.nowFunc().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// MaskSecret shortens a credential for display: the first 8 and last 4
// characters for values longer than 12, otherwise "***".
func MaskSecret(s string) string {
	if len(s) > 12 {
		return s[:8] + "..." + s[len(s)-4:]
	}
	return "***"
}
