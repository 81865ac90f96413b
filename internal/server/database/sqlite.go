package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

// sqliteMigrations mirror the Postgres schema. Timestamps are Unix microseconds.
var sqliteMigrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_shares",
		SQL: `
			CREATE TABLE IF NOT EXISTS shares (
				id            TEXT    PRIMARY KEY,
				stored_name   TEXT    NOT NULL UNIQUE,
				original_name TEXT    NOT NULL,
				size_bytes    INTEGER NOT NULL CHECK (size_bytes >= 0),
				mime          TEXT,
				checksum      TEXT    NOT NULL DEFAULT '',
				created_at    INTEGER NOT NULL,
				expires_at    INTEGER,
				one_time      INTEGER NOT NULL DEFAULT 0,
				downloads     INTEGER NOT NULL DEFAULT 0 CHECK (downloads >= 0)
			);
			CREATE INDEX IF NOT EXISTS idx_shares_created_at ON shares(created_at);
			CREATE INDEX IF NOT EXISTS idx_shares_expires_at ON shares(expires_at);
		`,
	},
}

type sqliteRecord struct {
	ID           string         `db:"id"`
	StoredName   string         `db:"stored_name"`
	OriginalName string         `db:"original_name"`
	SizeBytes    int64          `db:"size_bytes"`
	Mime         sql.NullString `db:"mime"`
	Checksum     string         `db:"checksum"`
	CreatedAt    int64          `db:"created_at"`
	ExpiresAt    sql.NullInt64  `db:"expires_at"`
	OneTime      bool           `db:"one_time"`
	Downloads    int64          `db:"downloads"`
}

func (s sqliteRecord) record() *Record {
	rec := &Record{
		ID:           s.ID,
		StoredName:   s.StoredName,
		OriginalName: s.OriginalName,
		SizeBytes:    s.SizeBytes,
		Mime:         s.Mime.String,
		Checksum:     s.Checksum,
		CreatedAt:    time.UnixMicro(s.CreatedAt).UTC(),
		OneTime:      s.OneTime,
		Downloads:    s.Downloads,
	}
	if s.ExpiresAt.Valid {
		t := time.UnixMicro(s.ExpiresAt.Int64).UTC()
		rec.ExpiresAt = &t
	}
	return rec
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if path, _, _ := strings.Cut(dsn, "?"); path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer at a time; a single connection turns lock
	// contention into queueing instead of SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "dsn", dsn)
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an existing sqlx handle.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Migrate applies all pending migrations in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT    PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range sqliteMigrations {
		var count int
		if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.Version, time.Now().UnixMicro()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}
	return nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	var expires sql.NullInt64
	if rec.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: rec.ExpiresAt.UnixMicro(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.StoredName,
		rec.OriginalName,
		rec.SizeBytes,
		sql.NullString{String: rec.Mime, Valid: rec.Mime != ""},
		rec.Checksum,
		rec.CreatedAt.UnixMicro(),
		expires,
		rec.OneTime,
		rec.Downloads,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Record, error) {
	var row sqliteRecord
	if err := s.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM shares WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.record(), nil
}

// IncrementDownloads atomically increments the download counter.
func (s *SQLiteStore) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var downloads int64
	err := s.db.GetContext(ctx, &downloads, `
		UPDATE shares SET downloads = downloads + 1
		WHERE id = ? AND (one_time = 0 OR downloads = 0)
		RETURNING downloads
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRecordNotFound
		}
		return 0, fmt.Errorf("failed to increment download count: %w", err)
	}
	return downloads, nil
}

// Delete removes a record by ID and returns the removed row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (*Record, error) {
	var row sqliteRecord
	if err := s.db.GetContext(ctx, &row, `DELETE FROM shares WHERE id = ? RETURNING `+recordColumns, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}
	return row.record(), nil
}

// ListRecent returns up to limit records, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	var rows []sqliteRecord
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+recordColumns+` FROM shares
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	return toRecords(rows), nil
}

// ListExpired returns all records whose expiration time is before now.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	var rows []sqliteRecord
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+recordColumns+` FROM shares
		WHERE expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at
	`, now.UnixMicro()); err != nil {
		return nil, fmt.Errorf("failed to query expired records: %w", err)
	}
	return toRecords(rows), nil
}

// Stats returns aggregate server statistics.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var row struct {
		Total     int64 `db:"total"`
		Active    int64 `db:"active"`
		Downloads int64 `db:"downloads"`
		Bytes     int64 `db:"bytes"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at >= ? THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(downloads), 0) AS downloads,
			COALESCE(SUM(size_bytes), 0) AS bytes
		FROM shares
	`, now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &Stats{
		TotalRecords:   row.Total,
		ActiveRecords:  row.Active,
		TotalDownloads: row.Downloads,
		StorageUsed:    row.Bytes,
	}, nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toRecords(rows []sqliteRecord) []*Record {
	records := make([]*Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records
}
