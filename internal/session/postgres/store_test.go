package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkadlec/orgscraper/internal/session"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

var sessionCols = []string{
	"session_id", "organization", "start_time", "end_time", "status",
	"output_dir", "total_pages_scraped", "total_pages_skipped", "total_errors",
	"config_snapshot", "notes", "created_at", "updated_at",
}

func TestInsertSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			"20260829_120000_example-org",
			"example-org",
			now,
			(*time.Time)(nil),
			"in_progress",
			"data/runs/20260829_120000_example-org",
			0, 0, 0,
			`{"max_depth":3}`,
			nil,
			now,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Insert(context.Background(), session.Session{
		ID:             "20260829_120000_example-org",
		Organization:   "example-org",
		StartTime:      now,
		Status:         session.StatusInProgress,
		OutputDir:      "data/runs/20260829_120000_example-org",
		ConfigSnapshot: `{"max_depth":3}`,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(sessionCols).AddRow(
		"s1", strPtr("example-org"), now, (*time.Time)(nil), "in_progress",
		"data/runs/s1", 5, 1, 0,
		[]byte(`{"max_depth":3}`), (*string)(nil), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE session_id").
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "example-org", got.Organization)
	assert.Equal(t, session.StatusInProgress, got.Status)
	assert.Equal(t, 5, got.PagesScraped)
	assert.Equal(t, `{"max_depth":3}`, got.ConfigSnapshot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE session_id").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(sessionCols))

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsWithFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(sessionCols).AddRow(
		"s1", strPtr("org-a"), now, (*time.Time)(nil), "interrupted",
		"data/runs/s1", 10, 0, 2,
		[]byte(nil), (*string)(nil), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE 1=1 AND organization = \\$1 AND status = \\$2").
		WithArgs("org-a", "interrupted", 50).
		WillReturnRows(rows)

	got, err := store.List(context.Background(), session.ListFilter{
		Organization: "org-a",
		Status:       session.StatusInterrupted,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, session.StatusInterrupted, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	end := now.Add(time.Hour)

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs("completed", now, end, 10, 2, 1, "s1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateStatus(context.Background(), "s1", session.StatusCompleted, &end,
		&session.Stats{PagesScraped: 10, PagesSkipped: 2, Errors: 1}, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissingSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE sessions SET status").
		WithArgs("interrupted", now, "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateStatus(context.Background(), "nope", session.StatusInterrupted, nil, nil, now)
	assert.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCheckpoint(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("s1", now, 10, 5, []byte(`{"last_url":"https://example.org/a"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.InsertCheckpoint(context.Background(), session.Checkpoint{
		SessionID:    "s1",
		Timestamp:    now,
		PagesScraped: 10,
		QueueSize:    5,
		Data:         map[string]any{"last_url": "https://example.org/a"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestCheckpoint(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"checkpoint_id", "session_id", "timestamp", "pages_scraped", "queue_size", "checkpoint_data",
	}).AddRow(int64(7), "s1", now, 30, 12, []byte(`{"last_url":"https://example.org/z"}`))

	mock.ExpectQuery("SELECT (.+) FROM checkpoints WHERE session_id").
		WithArgs("s1").
		WillReturnRows(rows)

	cp, err := store.LatestCheckpoint(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.ID)
	assert.Equal(t, 30, cp.PagesScraped)
	assert.Equal(t, "https://example.org/z", cp.Data["last_url"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM checkpoints").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
