package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a keyed single-row upsert.
type UpsertConfig struct {
	Table       string   // target table (e.g., "public.customers")
	Columns     []string // all columns being written, in value order
	ConflictKey string   // column carrying the unique constraint
	InsertOnly  []string // columns written on insert but never overwritten on update
}

// UpsertRow writes one row with INSERT ... ON CONFLICT DO UPDATE and reports
// whether the row was newly inserted. Postgres leaves xmax at zero for a
// freshly inserted tuple, which distinguishes the two outcomes without a
// second round trip.
func UpsertRow(ctx context.Context, pool Pool, cfg UpsertConfig, values []any) (bool, error) {
	if len(cfg.Columns) == 0 {
		return false, eris.New("db: upsert: no columns specified")
	}
	if cfg.ConflictKey == "" {
		return false, eris.New("db: upsert: no conflict key specified")
	}
	if len(values) != len(cfg.Columns) {
		return false, eris.Errorf("db: upsert: %d values for %d columns", len(values), len(cfg.Columns))
	}

	query, ok := upsertSQL(cfg)
	if !ok {
		return false, eris.New("db: upsert: no updatable columns")
	}

	var inserted bool
	if err := pool.QueryRow(ctx, query, values...).Scan(&inserted); err != nil {
		return false, eris.Wrapf(err, "db: upsert into %s", cfg.Table)
	}
	return inserted, nil
}

func upsertSQL(cfg UpsertConfig) (string, bool) {
	skip := make(map[string]bool, len(cfg.InsertOnly)+1)
	skip[cfg.ConflictKey] = true
	for _, c := range cfg.InsertOnly {
		skip[c] = true
	}

	placeholders := make([]string, len(cfg.Columns))
	var setClauses []string
	for i, col := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if skip[col] {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	if len(setClauses) == 0 {
		return "", false
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		pgx.Identifier{cfg.ConflictKey}.Sanitize(),
		strings.Join(setClauses, ", "),
	), true
}

// sanitizeTable handles schema-qualified table names like "public.customers".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
