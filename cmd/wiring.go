package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/titan-sync/internal/config"
	"github.com/sells-group/titan-sync/internal/monitoring"
	"github.com/sells-group/titan-sync/internal/pipeline"
	"github.com/sells-group/titan-sync/internal/resilience"
	"github.com/sells-group/titan-sync/internal/sink"
	"github.com/sells-group/titan-sync/internal/store"
	"github.com/sells-group/titan-sync/pkg/postgrest"
	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

func httpTimeout(c *config.Config) time.Duration {
	if c.ServiceTitan.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ServiceTitan.TimeoutSecs) * time.Second
}

// newTokenManager builds the token manager. rec may be nil.
func newTokenManager(c *config.Config, rec *monitoring.Recorder) *servicetitan.TokenManager {
	opts := []servicetitan.AuthOption{
		servicetitan.WithAuthURL(c.ServiceTitan.AuthURL),
		servicetitan.WithAuthHTTPClient(&http.Client{Timeout: httpTimeout(c)}),
	}
	if rec != nil {
		opts = append(opts, servicetitan.WithOnRefresh(rec.TokenRefreshed))
	}
	return servicetitan.NewTokenManager(c.ServiceTitan.Credentials(), opts...)
}

func newSource(c *config.Config, rec *monitoring.Recorder) *servicetitan.Client {
	return servicetitan.NewClient(newTokenManager(c, rec),
		servicetitan.WithAPIURL(c.ServiceTitan.APIURL),
		servicetitan.WithHTTPClient(&http.Client{Timeout: httpTimeout(c)}),
		servicetitan.WithMaxRetries(c.ServiceTitan.MaxRetries),
		servicetitan.WithRetryDelay(time.Duration(c.ServiceTitan.RetryDelayMs)*time.Millisecond),
		servicetitan.WithRateLimit(c.ServiceTitan.RateLimitRPS),
	)
}

// newSaver builds the sink named by sink.driver wrapped in a Saver. The
// returned close func releases any pool the sink opened.
func newSaver(ctx context.Context, c *config.Config, rec *monitoring.Recorder) (*sink.Saver, func(), error) {
	var (
		s       sink.Sink
		closeFn = func() {}
	)
	switch c.Sink.Driver {
	case "rest":
		client := postgrest.NewClient(c.Sink.URL, c.Sink.Key,
			postgrest.WithSchema(c.Sink.Schema),
			postgrest.WithHTTPClient(&http.Client{Timeout: httpTimeout(c)}),
		)
		s = sink.NewREST(client, c.Sink.Table)
	case "postgres":
		pool, err := store.NewPool(ctx, c.Sink.DatabaseURL, nil)
		if err != nil {
			return nil, nil, eris.Wrap(err, "init sink pool")
		}
		closeFn = pool.Close
		s = sink.NewPostgres(pool, c.Sink.Table)
	default:
		return nil, nil, eris.Errorf("unsupported sink driver: %s", c.Sink.Driver)
	}

	opts := []sink.SaverOption{
		sink.WithBreaker(resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(c.Sink.CircuitThreshold, c.Sink.CircuitResetSecs))),
	}
	if rec != nil {
		opts = append(opts, sink.WithOutcomeHook(func(o sink.Outcome) { rec.ObserveUpsert(string(o)) }))
	}
	policy := resilience.FixedPolicy(c.Sink.MaxAttempts, c.Sink.RetryDelayMs)
	return sink.NewSaver(s, policy, opts...), closeFn, nil
}

func pipelineOptions(c *config.Config, dryRun bool) pipeline.Options {
	return pipeline.Options{
		Collect: servicetitan.CollectOptions{
			PageSize: c.ServiceTitan.PageSize,
			MaxPages: c.ServiceTitan.MaxPages,
		},
		BatchSize:            c.Pipeline.BatchSize,
		PassBudget:           time.Duration(c.Pipeline.PassBudgetSecs) * time.Second,
		ContinueOnFetchError: c.Pipeline.ContinueOnFetchError,
		CSVPath:              c.Export.CSVPath,
		XLSXPath:             c.Export.XLSXPath,
		DryRun:               dryRun,
	}
}
