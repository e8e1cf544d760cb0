package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/titan-sync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "status", "dry_run", "result", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sync_runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs(pgxmock.AnyArg(), "running", true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), true)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.True(t, run.DryRun)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_runs SET result = \$1, status = \$2`).
		WithArgs(pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "nope", model.RunStatusFailed, &model.RunResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: nope")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_runs SET status = \$1`).
		WithArgs("cancelled", pgxmock.AnyArg(), "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateRunStatus(context.Background(), "r1", model.RunStatusCancelled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, status, dry_run, result, created_at, updated_at FROM sync_runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("r1", model.RunStatusComplete, false, []byte(`{"processed":5,"success":true}`), now, now))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 5, run.Result.Processed)
	assert.True(t, run.Result.Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM sync_runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sync_runs WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("failed", 10, 20).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("r2", model.RunStatusFailed, false, []byte(`{"error":"auth"}`), now, now).
			AddRow("r1", model.RunStatusFailed, true, []byte(nil), now, now))

	runs, err := s.ListRuns(context.Background(), model.RunFilter{Status: model.RunStatusFailed, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "auth", runs[0].Result.Error)
	assert.Nil(t, runs[1].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM sync_runs WHERE true ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(runColumns))

	runs, err := s.ListRuns(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDeadLetters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	letters := []model.DeadLetter{
		{ID: "d1", RunID: "r1", CustomerID: 1, Payload: []byte(`{}`), Error: "x", ErrorType: "permanent", Attempts: 3, CreatedAt: now},
		{ID: "d2", RunID: "r1", CustomerID: 2, Payload: []byte(`{}`), Error: "y", ErrorType: "transient", Attempts: 3, CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sync_dead_letters`).
		WithArgs("d1", "r1", int64(1), pgxmock.AnyArg(), "x", "permanent", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO sync_dead_letters`).
		WithArgs("d2", "r1", int64(2), pgxmock.AnyArg(), "y", "transient", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.RecordDeadLetters(context.Background(), letters))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDeadLetters_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sync_dead_letters`).
		WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := s.RecordDeadLetters(context.Background(), []model.DeadLetter{{ID: "d1", RunID: "gone", CustomerID: 9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead letter for customer 9")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDeadLetters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sync_dead_letters WHERE run_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("r1", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_id", "customer_id", "payload", "error", "error_type", "attempts", "created_at"}).
			AddRow("d1", "r1", int64(7), []byte(`{"customer_id":7}`), "boom", "permanent", 3, now))

	letters, err := s.ListDeadLetters(context.Background(), "r1", 5)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, int64(7), letters[0].CustomerID)
	assert.JSONEq(t, `{"customer_id":7}`, string(letters[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}
