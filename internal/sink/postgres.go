package sink

import (
	"context"
	"time"

	"github.com/sells-group/titan-sync/internal/db"
	"github.com/sells-group/titan-sync/internal/export"
)

// PostgresSink writes records straight into a Postgres table with a single
// keyed upsert per record.
type PostgresSink struct {
	pool    db.Pool
	cfg     db.UpsertConfig
	nowFunc func() time.Time
}

// NewPostgres creates a Postgres sink writing to table. The table must have
// a unique constraint on customer_id.
func NewPostgres(pool db.Pool, table string) *PostgresSink {
	cols := make([]string, 0, len(export.Columns)+2)
	cols = append(cols, export.Columns...)
	cols = append(cols, CreatedAtColumn, UpdatedAtColumn)

	return &PostgresSink{
		pool: pool,
		cfg: db.UpsertConfig{
			Table:       table,
			Columns:     cols,
			ConflictKey: KeyColumn,
			InsertOnly:  []string{CreatedAtColumn},
		},
		nowFunc: time.Now,
	}
}

// Upsert implements Sink.
func (s *PostgresSink) Upsert(ctx context.Context, rec export.Record) (Outcome, error) {
	vals := rec.Values()
	args := make([]any, 0, len(s.cfg.Columns))
	args = append(args, rec.CustomerID)
	for _, v := range vals[1:] {
		args = append(args, v)
	}
	now := s.nowFunc().UTC()
	args = append(args, now, now)

	inserted, err := db.UpsertRow(ctx, s.pool, s.cfg, args)
	if err != nil {
		return OutcomeError, err
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}
