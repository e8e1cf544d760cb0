package servicetitan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/titan-sync/internal/resilience"
)

const (
	// DefaultAPIURL is the production API base.
	DefaultAPIURL = "https://api.servicetitan.io"

	// DefaultMaxRetries is the number of repeats after the first attempt.
	DefaultMaxRetries = 2

	defaultNetworkRetryDelay = 500 * time.Millisecond
)

// Response is a completed upstream request. 401s never surface here; they
// are absorbed by a token refresh or turned into a FetchError.
type Response struct {
	Status int
	Body   []byte
}

// Option configures the API client.
type Option func(*Client)

// WithAPIURL sets the API base (for testing).
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithMaxRetries sets how many times a request is repeated after a 401 or a
// network failure. Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the pause before repeating a request that failed at
// the network level.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// Client issues authorized GET requests against one tenant.
type Client struct {
	tokens     *TokenManager
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
}

// NewClient creates an API client that authorizes through tokens.
func NewClient(tokens *TokenManager, opts ...Option) *Client {
	c := &Client{
		tokens:  tokens,
		baseURL: DefaultAPIURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: DefaultMaxRetries,
		retryDelay: defaultNetworkRetryDelay,
		log:        zap.L().With(zap.String("component", "servicetitan")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the manager the client authorizes with.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// TenantID returns the tenant requests are scoped to.
func (c *Client) TenantID() string {
	return c.tokens.TenantID()
}

// Get requests path (relative to the API base) with query. Each observed 401
// triggers one forced token refresh and a repeat of the same request; network
// failures are repeated after a short pause. At most maxRetries+1 attempts are
// made before a *FetchError is returned. Token failures return *AuthError.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	policy := resilience.Policy{
		MaxAttempts: c.maxRetries + 1,
		Delay:       c.retryDelay,
		OnRetry: func(attempt int, err error) {
			c.log.Warn("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}

	return resilience.Drive(ctx, policy, func(ctx context.Context, attempt int) resilience.Outcome[Response] {
		return c.attempt(ctx, reqURL, attempt == policy.MaxAttempts)
	})
}

// attempt issues one request. last marks the final attempt, where a 401 is
// returned as is since no retry would use a refreshed token.
func (c *Client) attempt(ctx context.Context, reqURL string, last bool) resilience.Outcome[Response] {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return resilience.Fatal[Response](eris.Wrap(err, "servicetitan: rate limit wait"))
		}
	}

	headers, err := c.tokens.Headers(ctx)
	if err != nil {
		return resilience.Fatal[Response](err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return resilience.Fatal[Response](eris.Wrap(err, "servicetitan: create request"))
	}
	req.Header = headers

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return resilience.Fatal[Response](ctx.Err())
		}
		return resilience.Retryable[Response](&FetchError{Err: err})
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return resilience.Fatal[Response](ctx.Err())
		}
		return resilience.Retryable[Response](&FetchError{Status: resp.StatusCode, Err: eris.Wrap(err, "read response body")})
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if last {
			return resilience.Fatal[Response](&FetchError{Status: resp.StatusCode, Body: string(body)})
		}
		c.log.Info("received 401, forcing token refresh")
		if err := c.tokens.ForceRefresh(ctx); err != nil {
			return resilience.Fatal[Response](err)
		}
		return resilience.RetryNow[Response](&FetchError{Status: resp.StatusCode, Body: string(body)})
	}

	return resilience.Ok(Response{Status: resp.StatusCode, Body: body})
}

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
