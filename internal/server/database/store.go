package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// Store persists share records. Implementations must make IncrementDownloads
// a single atomic statement.
type Store interface {
	Migrate(ctx context.Context) error
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	// IncrementDownloads bumps the counter and returns the new value. One-time
	// records only match while their counter is still zero; otherwise
	// ErrRecordNotFound is returned.
	IncrementDownloads(ctx context.Context, id string) (int64, error)
	// Delete removes the row and returns it, or ErrRecordNotFound.
	Delete(ctx context.Context, id string) (*Record, error)
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Record, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend. driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		db, err := New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
