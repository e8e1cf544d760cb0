package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sells-group/titan-sync/internal/config"
)

// newTitanServer serves the token endpoint and every collection. Only the
// customers collection has data; everything else is empty.
func newTitanServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/connect/token":
			_, _ = w.Write([]byte(`{"access_token":"tok-123","expires_in":900,"token_type":"Bearer"}`))
		case strings.HasSuffix(r.URL.Path, "/customers") && r.URL.Query().Get("page") == "1":
			_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"Acme","address":{"street":"1 Main St","city":"Springfield"}},{"id":2,"name":"Globex"}],"hasMore":false}`))
		case strings.HasSuffix(r.URL.Path, "/customers/contacts"):
			_, _ = w.Write([]byte(`{"data":[{"customerId":1,"type":"Email","value":"ops@acme.com"}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// restTable is a minimal PostgREST table keyed by customer_id.
type restTable struct {
	mu   sync.Mutex
	rows map[string]map[string]any
}

func newRESTServer(t *testing.T) (*httptest.Server, *restTable) {
	t.Helper()
	tbl := &restTable{rows: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tbl.mu.Lock()
		defer tbl.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		key := strings.TrimPrefix(r.URL.Query().Get("customer_id"), "eq.")
		switch r.Method {
		case http.MethodGet:
			if row, ok := tbl.rows[key]; ok {
				_ = json.NewEncoder(w).Encode([]map[string]any{row})
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			var row map[string]any
			_ = json.NewDecoder(r.Body).Decode(&row)
			id, _ := json.Marshal(row["customer_id"])
			tbl.rows[string(id)] = row
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode([]map[string]any{row})
		case http.MethodPatch:
			var row map[string]any
			_ = json.NewDecoder(r.Body).Decode(&row)
			tbl.rows[key] = row
			_ = json.NewEncoder(w).Encode([]map[string]any{row})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, tbl
}

func testConfig(t *testing.T, titanURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ServiceTitan: config.ServiceTitanConfig{
			TenantID:     "tenant-1",
			ClientID:     "client-id-0123456789",
			ClientSecret: "client-secret-0123456789",
			AppKey:       "app-key-0123456789",
			AuthURL:      titanURL,
			APIURL:       titanURL,
			PageSize:     50,
			MaxPages:     2,
			TimeoutSecs:  5,
		},
		Sink: config.SinkConfig{
			Driver:      "rest",
			Table:       "customers",
			MaxAttempts: 2,
		},
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(dir, "runs.db"),
		},
		Pipeline: config.PipelineConfig{BatchSize: 10},
		Export: config.ExportConfig{
			CSVPath: filepath.Join(dir, "customers.csv"),
		},
		Metrics: config.MetricsConfig{
			TextfilePath: filepath.Join(dir, "titan_sync.prom"),
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
	}
}
