package sink

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/titan-sync/internal/export"
	"github.com/sells-group/titan-sync/pkg/postgrest"
)

// RESTSink writes records through a PostgREST table endpoint with a
// select followed by an update or insert.
type RESTSink struct {
	client  postgrest.Client
	table   string
	nowFunc func() time.Time
}

// NewREST creates a REST sink writing to table.
func NewREST(client postgrest.Client, table string) *RESTSink {
	return &RESTSink{client: client, table: table, nowFunc: time.Now}
}

// Upsert implements Sink.
func (s *RESTSink) Upsert(ctx context.Context, rec export.Record) (Outcome, error) {
	key := postgrest.Eq(KeyColumn, rec.CustomerID)

	existing, err := s.client.Select(ctx, s.table, key)
	if err != nil {
		return OutcomeError, eris.Wrapf(err, "sink: lookup customer %d", rec.CustomerID)
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	row := rec.Fields()
	row[UpdatedAtColumn] = now

	if len(existing) > 0 {
		if _, err := s.client.Update(ctx, s.table, key, row); err != nil {
			return OutcomeError, eris.Wrapf(err, "sink: update customer %d", rec.CustomerID)
		}
		return OutcomeUpdated, nil
	}

	row[CreatedAtColumn] = now
	if err := s.client.Insert(ctx, s.table, row); err != nil {
		return OutcomeError, eris.Wrapf(err, "sink: insert customer %d", rec.CustomerID)
	}
	return OutcomeInserted, nil
}
