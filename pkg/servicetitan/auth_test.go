package servicetitan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{
	TenantID:     "123",
	ClientID:     "cid-0123456789abcdef",
	ClientSecret: "secret",
	AppKey:       "ak-test",
	Scope:        "",
}

func tokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAcquire_Success(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connect/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, testCreds.ClientID, r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		w.Write([]byte(`{"access_token":"abc","expires_in":900,"token_type":"Bearer"}`))
	})

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager(Credentials{}, WithAuthURL(srv.URL))
	m.nowFunc = func() time.Time { return now }

	tok, err := m.Acquire(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, 900, tok.ExpiresIn)
	assert.Equal(t, now.Add(900*time.Second), tok.ExpiresAt)
	assert.Equal(t, now.Add(900*time.Second), m.Expiry())
	assert.Equal(t, "123", m.TenantID())
}

func TestAcquire_DefaultExpiresIn(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"abc"}`))
	})

	m := NewTokenManager(testCreds, WithAuthURL(srv.URL))
	tok, err := m.Acquire(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, 3600, tok.ExpiresIn)
	assert.Equal(t, "Bearer", tok.TokenType)
}

func TestAcquire_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"non-200", http.StatusBadRequest, `{"error":"invalid_client"}`, "unexpected status 400"},
		{"malformed json", http.StatusOK, `not json`, "decode token response"},
		{"missing access token", http.StatusOK, `{"expires_in":3600}`, "no access_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			m := NewTokenManager(testCreds, WithAuthURL(srv.URL))
			_, err := m.Acquire(context.Background(), testCreds)
			require.Error(t, err)

			var ae *AuthError
			require.True(t, errors.As(err, &ae))
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, m.IsExpired())
		})
	}
}

func TestIsExpired_Buffer(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager(testCreds)
	m.nowFunc = func() time.Time { return now }

	assert.True(t, m.IsExpired(), "no token held")

	m.token = "abc"
	m.expiresAt = now.Add(121 * time.Second)
	assert.False(t, m.IsExpired())

	m.expiresAt = now.Add(120 * time.Second)
	assert.True(t, m.IsExpired(), "exactly at the buffer edge")

	m.expiresAt = now.Add(30 * time.Second)
	assert.True(t, m.IsExpired())
}

func TestValid_CachesUntilExpired(t *testing.T) {
	t.Parallel()

	var exchanges atomic.Int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	})

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager(testCreds, WithAuthURL(srv.URL))
	m.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tok, err := m.Valid(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, int32(1), exchanges.Load())

	now = now.Add(59 * time.Minute)
	_, err := m.Valid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestValid_IncompleteCredentials(t *testing.T) {
	t.Parallel()

	m := NewTokenManager(Credentials{TenantID: "123"})
	_, err := m.Valid(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "incomplete credentials")
}

func TestForceRefresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	t.Parallel()

	var exchanges atomic.Int32
	release := make(chan struct{})
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		<-release
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	})

	m := NewTokenManager(testCreds, WithAuthURL(srv.URL))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.ForceRefresh(context.Background())
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), exchanges.Load())
	tok, err := m.Valid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}

func TestForceRefresh_CallsOnRefresh(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	})

	var refreshes atomic.Int32
	m := NewTokenManager(testCreds, WithAuthURL(srv.URL), WithOnRefresh(func() { refreshes.Add(1) }))

	_, err := m.Valid(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.ForceRefresh(context.Background()))
	assert.Equal(t, int32(2), refreshes.Load())
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	})

	m := NewTokenManager(testCreds, WithAuthURL(srv.URL))
	h, err := m.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "ak-test", h.Get("ST-App-Key"))

	noKey := testCreds
	noKey.AppKey = ""
	m2 := NewTokenManager(noKey, WithAuthURL(srv.URL))
	h, err = m2.Headers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.Get("ST-App-Key"))
}

func TestHeaders_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	m := NewTokenManager(testCreds, WithAuthURL(srv.URL))
	_, err := m.Headers(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abcdefgh...mnop", MaskSecret("abcdefghijklmnop"))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "***", MaskSecret("exactly12chr"))
	assert.Equal(t, "***", MaskSecret(""))
}
