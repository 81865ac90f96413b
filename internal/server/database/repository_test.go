package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"id", "stored_name", "original_name", "size_bytes", "mime", "checksum",
	"created_at", "expires_at", "one_time", "downloads",
}

func setupPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewPostgresStore(&DB{Pool: mock}), mock
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestPostgresStore_Create(t *testing.T) {
	store, mock := setupPostgres(t)
	now := time.Now().UTC()

	rec := &Record{
		ID:           "abc",
		StoredName:   "abc.pdf",
		OriginalName: "report.pdf",
		SizeBytes:    10,
		CreatedAt:    now,
	}

	mock.ExpectExec(`INSERT INTO shares`).
		WithArgs("abc", "abc.pdf", "report.pdf", int64(10), (*string)(nil), "", now, (*time.Time)(nil), false, int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)

	t.Run("found", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`SELECT .* FROM shares WHERE id = \$1`).
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(columns).AddRow(
				"abc", "abc.txt", "notes.txt", int64(5), strPtr("text/plain"), "sum",
				created, timePtr(expires), true, int64(0),
			))

		rec, err := store.GetByID(ctx, "abc")
		require.NoError(t, err)
		require.Equal(t, "text/plain", rec.Mime)
		require.True(t, rec.OneTime)
		require.NotNil(t, rec.ExpiresAt)
		require.True(t, rec.ExpiresAt.Equal(expires))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`SELECT .* FROM shares WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := store.GetByID(ctx, "missing")
		require.ErrorIs(t, err, ErrRecordNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		store, mock := setupPostgres(t)
		boom := errors.New("connection reset")

		mock.ExpectQuery(`SELECT .* FROM shares WHERE id = \$1`).
			WithArgs("abc").
			WillReturnError(boom)

		_, err := store.GetByID(ctx, "abc")
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_IncrementDownloads(t *testing.T) {
	ctx := context.Background()

	t.Run("returns new count", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`UPDATE shares SET downloads = downloads \+ 1`).
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows([]string{"downloads"}).AddRow(int64(3)))

		n, err := store.IncrementDownloads(ctx, "abc")
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no matching row", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`UPDATE shares SET downloads = downloads \+ 1`).
			WithArgs("used").
			WillReturnRows(pgxmock.NewRows([]string{"downloads"}))

		_, err := store.IncrementDownloads(ctx, "used")
		require.ErrorIs(t, err, ErrRecordNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns removed row", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`DELETE FROM shares WHERE id = \$1 RETURNING`).
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(columns).AddRow(
				"abc", "abc.bin", "blob.bin", int64(1), (*string)(nil), "",
				created, (*time.Time)(nil), false, int64(2),
			))

		rec, err := store.Delete(ctx, "abc")
		require.NoError(t, err)
		require.Equal(t, "abc.bin", rec.StoredName)
		require.Empty(t, rec.Mime)
		require.Nil(t, rec.ExpiresAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		store, mock := setupPostgres(t)

		mock.ExpectQuery(`DELETE FROM shares WHERE id = \$1 RETURNING`).
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := store.Delete(ctx, "abc")
		require.ErrorIs(t, err, ErrRecordNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListRecent(t *testing.T) {
	store, mock := setupPostgres(t)
	t1 := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	mock.ExpectQuery(`ORDER BY created_at DESC`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("b", "b.txt", "b.txt", int64(1), strPtr("text/plain"), "", t1, (*time.Time)(nil), false, int64(0)).
			AddRow("a", "a.txt", "a.txt", int64(1), strPtr("text/plain"), "", t0, (*time.Time)(nil), false, int64(0)))

	recs, err := store.ListRecent(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "b", recs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	store, mock := setupPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM shares`).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"count", "active", "downloads", "bytes"}).
			AddRow(int64(5), int64(3), int64(9), int64(1024)))

	stats, err := store.Stats(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, &Stats{TotalRecords: 5, ActiveRecords: 3, TotalDownloads: 9, StorageUsed: 1024}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_RunMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("000001_create_shares").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS shares`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).
			WithArgs("000001_create_shares").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, (&DB{Pool: mock}).RunMigrations(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips applied migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("000001_create_shares").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, (&DB{Pool: mock}).RunMigrations(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back failed migration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("000001_create_shares").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS shares`).
			WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		require.Error(t, (&DB{Pool: mock}).RunMigrations(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
