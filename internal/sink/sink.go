// Package sink upserts exported customer records into the downstream table.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/titan-sync/internal/export"
	"github.com/sells-group/titan-sync/internal/model"
	"github.com/sells-group/titan-sync/internal/resilience"
)

// Outcome is the result of upserting one record.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeError    Outcome = "error"
)

// KeyColumn is the column records are matched on.
const KeyColumn = "customer_id"

// Timestamp columns written alongside the exported columns.
const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
)

// Sink writes one record, inserting it when no row has its customer id and
// updating it otherwise. Updates never touch created_at.
type Sink interface {
	Upsert(ctx context.Context, rec export.Record) (Outcome, error)
}

// Summary totals a SaveAll call.
type Summary struct {
	Processed   int
	Inserted    int
	Updated     int
	Errors      int
	Success     bool
	DeadLetters []model.DeadLetter
}

// Saver drives a Sink over a batch of records with per-record retries.
type Saver struct {
	sink      Sink
	policy    resilience.Policy
	breaker   *resilience.CircuitBreaker
	onOutcome func(Outcome)
	log       *zap.Logger
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithBreaker guards the sink with a circuit breaker. Once open, records
// fail immediately without further attempts.
func WithBreaker(cb *resilience.CircuitBreaker) SaverOption {
	return func(s *Saver) { s.breaker = cb }
}

// WithOutcomeHook registers a callback invoked once per record.
func WithOutcomeHook(fn func(Outcome)) SaverOption {
	return func(s *Saver) { s.onOutcome = fn }
}

// NewSaver creates a Saver that retries each record under policy.
func NewSaver(s Sink, policy resilience.Policy, opts ...SaverOption) *Saver {
	sv := &Saver{
		sink:   s,
		policy: policy,
		log:    zap.L().With(zap.String("component", "sink")),
	}
	if sv.policy.OnRetry == nil {
		sv.policy.OnRetry = resilience.RetryLogger("sink", "upsert")
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// SaveAll upserts every record. A failing record is counted, turned into a
// dead letter and skipped. SaveAll only returns an error when ctx ends.
func (s *Saver) SaveAll(ctx context.Context, runID string, records []export.Record) (Summary, error) {
	var sum Summary
	start := time.Now()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			sum.Success = sum.Errors < sum.Processed
			return sum, err
		}

		out, attempts, err := s.save(ctx, rec)
		sum.Processed++
		switch out {
		case OutcomeInserted:
			sum.Inserted++
		case OutcomeUpdated:
			sum.Updated++
		default:
			sum.Errors++
			payload, _ := json.Marshal(rec)
			sum.DeadLetters = append(sum.DeadLetters,
				resilience.NewDeadLetter(runID, rec.CustomerID, payload, err, attempts))
			s.log.Error("record save failed",
				zap.Int64("customer_id", rec.CustomerID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		if s.onOutcome != nil {
			s.onOutcome(out)
		}

		if (i+1)%100 == 0 {
			s.log.Info("save progress",
				zap.Int("processed", sum.Processed),
				zap.Int("total", len(records)),
				zap.Int("errors", sum.Errors),
			)
		}
	}

	sum.Success = sum.Errors < sum.Processed
	s.log.Info("save complete",
		zap.Int("processed", sum.Processed),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("errors", sum.Errors),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return sum, nil
}

func (s *Saver) save(ctx context.Context, rec export.Record) (Outcome, int, error) {
	attempts := 0
	out, err := resilience.Drive(ctx, s.policy, func(ctx context.Context, attempt int) resilience.Outcome[Outcome] {
		attempts = attempt
		out, err := s.upsert(ctx, rec)
		switch {
		case err == nil:
			return resilience.Ok(out)
		case errors.Is(err, resilience.ErrCircuitOpen), ctx.Err() != nil:
			return resilience.Fatal[Outcome](err)
		default:
			return resilience.Retryable[Outcome](err)
		}
	})
	if err != nil {
		return OutcomeError, attempts, err
	}
	return out, attempts, nil
}

func (s *Saver) upsert(ctx context.Context, rec export.Record) (Outcome, error) {
	if s.breaker == nil {
		return s.sink.Upsert(ctx, rec)
	}
	return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (Outcome, error) {
		return s.sink.Upsert(ctx, rec)
	})
}
