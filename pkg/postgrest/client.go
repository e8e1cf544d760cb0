// Package postgrest provides a small client for PostgREST table endpoints,
// as exposed by Supabase under /rest/v1.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/titan-sync/internal/resilience"
)

// Client defines the table operations used by the sink.
type Client interface {
	// Select returns the rows of table matching f.
	Select(ctx context.Context, table string, f Filter) ([]json.RawMessage, error)
	// Insert adds one row to table.
	Insert(ctx context.Context, table string, row any) error
	// Update patches every row of table matching f and returns how many
	// rows changed.
	Update(ctx context.Context, table string, f Filter, row any) (int, error)
}

// Filter is a single column equality filter.
type Filter struct {
	Column string
	Value  string
}

// Eq builds a column=eq.value filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: fmt.Sprint(value)}
}

func (f Filter) encode(q url.Values) {
	if f.Column != "" {
		q.Set(f.Column, "eq."+f.Value)
	}
}

// StatusError is a non-2xx response from the table API.
type StatusError struct {
	Method string
	Table  string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("postgrest: %s %s: status %d: %s", e.Method, e.Table, e.Status, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithSchema sets the Accept-Profile/Content-Profile schema header.
func WithSchema(schema string) Option {
	return func(c *httpClient) {
		c.schema = schema
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	schema  string
	http    *http.Client
}

// NewClient creates a client for the PostgREST API rooted at baseURL. For
// Supabase projects pass the project URL; "/rest/v1" is appended when
// missing.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/rest/v1") {
		base += "/rest/v1"
	}
	c := &httpClient{
		baseURL: base,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Select(ctx context.Context, table string, f Filter) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("select", "*")
	f.encode(q)

	body, err := c.do(ctx, http.MethodGet, table, q, nil)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrapf(err, "postgrest: decode %s rows", table)
	}
	return rows, nil
}

func (c *httpClient) Insert(ctx context.Context, table string, row any) error {
	_, err := c.do(ctx, http.MethodPost, table, nil, row)
	return err
}

func (c *httpClient) Update(ctx context.Context, table string, f Filter, row any) (int, error) {
	q := url.Values{}
	f.encode(q)

	body, err := c.do(ctx, http.MethodPatch, table, q, row)
	if err != nil {
		return 0, err
	}

	var rows []json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &rows); err != nil {
			return 0, eris.Wrapf(err, "postgrest: decode %s update", table)
		}
	}
	return len(rows), nil
}

func (c *httpClient) do(ctx context.Context, method, table string, q url.Values, payload any) ([]byte, error) {
	reqURL := c.baseURL + "/" + url.PathEscape(table)
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrapf(err, "postgrest: encode %s payload", table)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "postgrest: create request")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	if c.schema != "" {
		req.Header.Set("Accept-Profile", c.schema)
		req.Header.Set("Content-Profile", c.schema)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "postgrest: %s %s", method, table)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "postgrest: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, Table: table, Status: resp.StatusCode, Body: string(body)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(serr, resp.StatusCode)
		}
		return nil, serr
	}
	return body, nil
}
