package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "blink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newRecord(id string, created time.Time) *Record {
	return &Record{
		ID:           id,
		StoredName:   id + ".txt",
		OriginalName: "notes.txt",
		SizeBytes:    42,
		Mime:         "text/plain",
		Checksum:     "abc",
		CreatedAt:    created.UTC().Truncate(time.Microsecond),
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := setupSQLite(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	expires := now.Add(24 * time.Hour)
	rec := newRecord("abc", now)
	rec.ExpiresAt = &expires
	rec.OneTime = true

	require.NoError(t, store.Create(ctx, rec))

	got, err := store.GetByID(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	t.Run("nullable fields round trip as empty", func(t *testing.T) {
		bare := newRecord("bare", now)
		bare.Mime = ""
		require.NoError(t, store.Create(ctx, bare))

		got, err := store.GetByID(ctx, "bare")
		require.NoError(t, err)
		require.Empty(t, got.Mime)
		require.Nil(t, got.ExpiresAt)
		require.False(t, got.OneTime)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.GetByID(ctx, "missing")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		dup := newRecord("abc", now)
		dup.StoredName = "other.txt"
		require.Error(t, store.Create(ctx, dup))
	})
}

func TestSQLiteStore_IncrementDownloads(t *testing.T) {
	ctx := context.Background()
	store := setupSQLite(t)
	now := time.Now()

	t.Run("standard records count every download", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newRecord("std", now)))

		for want := int64(1); want <= 3; want++ {
			got, err := store.IncrementDownloads(ctx, "std")
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})

	t.Run("one-time records only match once", func(t *testing.T) {
		rec := newRecord("once", now)
		rec.OneTime = true
		require.NoError(t, store.Create(ctx, rec))

		n, err := store.IncrementDownloads(ctx, "once")
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		_, err = store.IncrementDownloads(ctx, "once")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.IncrementDownloads(ctx, "nope")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newRecord("busy", now)))

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.IncrementDownloads(ctx, "busy"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetByID(ctx, "busy")
		require.NoError(t, err)
		require.Equal(t, int64(n), got.Downloads)
	})
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := setupSQLite(t)
	require.NoError(t, store.Create(ctx, newRecord("gone", time.Now())))

	removed, err := store.Delete(ctx, "gone")
	require.NoError(t, err)
	require.Equal(t, "gone.txt", removed.StoredName)

	_, err = store.GetByID(ctx, "gone")
	require.ErrorIs(t, err, ErrRecordNotFound)

	_, err = store.Delete(ctx, "gone")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLiteStore_ListRecent(t *testing.T) {
	ctx := context.Background()
	store := setupSQLite(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		require.NoError(t, store.Create(ctx, newRecord(fmt.Sprintf("r%02d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := store.ListRecent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	require.Equal(t, "r24", recent[0].ID)
	for i := 1; i < len(recent); i++ {
		require.False(t, recent[i].CreatedAt.After(recent[i-1].CreatedAt), "records must be newest first")
	}
}

func TestSQLiteStore_ListExpiredAndStats(t *testing.T) {
	ctx := context.Background()
	store := setupSQLite(t)
	now := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := newRecord("old", now.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	live := newRecord("live", now)
	live.ExpiresAt = &future
	forever := newRecord("forever", now)
	forever.Downloads = 4

	for _, rec := range []*Record{expired, live, forever} {
		require.NoError(t, store.Create(ctx, rec))
	}

	got, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "old", got[0].ID)

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	require.Equal(t, &Stats{
		TotalRecords:   3,
		ActiveRecords:  2,
		TotalDownloads: 4,
		StorageUsed:    3 * 42,
	}, stats)
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	store := setupSQLite(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestSQLiteStore_DriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewSQLiteStore(sqlx.NewDb(sqlDB, "sqlite"))
	ctx := context.Background()
	boom := errors.New("database is locked")

	mock.ExpectQuery(`SELECT .* FROM shares WHERE id = \?`).
		WithArgs("abc").
		WillReturnError(boom)
	_, err = store.GetByID(ctx, "abc")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrRecordNotFound)

	mock.ExpectQuery(`UPDATE shares SET downloads = downloads \+ 1`).
		WithArgs("abc").
		WillReturnError(boom)
	_, err = store.IncrementDownloads(ctx, "abc")
	require.ErrorIs(t, err, boom)

	mock.ExpectExec(`INSERT INTO shares`).
		WillReturnError(boom)
	err = store.Create(ctx, newRecord("abc", time.Now()))
	require.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
}
