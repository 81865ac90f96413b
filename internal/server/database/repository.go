package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const recordColumns = `id, stored_name, original_name, size_bytes, mime, checksum,
	created_at, expires_at, one_time, downloads`

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Migrate(ctx context.Context) error {
	return r.db.RunMigrations(ctx)
}

// Create inserts a new record.
func (r *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		rec.StoredName,
		rec.OriginalName,
		rec.SizeBytes,
		nullableString(rec.Mime),
		rec.Checksum,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.OneTime,
		rec.Downloads,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its ID.
func (r *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM shares WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// IncrementDownloads atomically increments the download counter.
func (r *PostgresStore) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var downloads int64
	err := r.db.Pool.QueryRow(ctx, `
		UPDATE shares SET downloads = downloads + 1
		WHERE id = $1 AND (NOT one_time OR downloads = 0)
		RETURNING downloads
	`, id).Scan(&downloads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRecordNotFound
		}
		return 0, fmt.Errorf("failed to increment download count: %w", err)
	}
	return downloads, nil
}

// Delete removes a record by ID and returns the removed row.
func (r *PostgresStore) Delete(ctx context.Context, id string) (*Record, error) {
	row := r.db.Pool.QueryRow(ctx, `DELETE FROM shares WHERE id = $1 RETURNING `+recordColumns, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first.
func (r *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM shares
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	return collectRecords(rows)
}

// ListExpired returns all records whose expiration time is before now.
func (r *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM shares
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired records: %w", err)
	}
	return collectRecords(rows)
}

// Stats returns aggregate server statistics.
func (r *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at IS NULL OR expires_at >= $1),
			COALESCE(SUM(downloads), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM shares
	`, now).Scan(
		&stats.TotalRecords,
		&stats.ActiveRecords,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (r *PostgresStore) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func (r *PostgresStore) Close() error {
	r.db.Close()
	return nil
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var mime *string
	err := row.Scan(
		&rec.ID,
		&rec.StoredName,
		&rec.OriginalName,
		&rec.SizeBytes,
		&mime,
		&rec.Checksum,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.OneTime,
		&rec.Downloads,
	)
	if err != nil {
		return nil, err
	}

	if mime != nil {
		rec.Mime = *mime
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.ExpiresAt != nil {
		t := rec.ExpiresAt.UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
