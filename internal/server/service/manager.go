package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"blink/internal/server/database"
	"blink/internal/server/storage"
)

const (
	DefaultMaxExpiryHours = 7 * 24
	DefaultRecentLimit    = 20
	maxRecentLimit        = 100
	sniffLength           = 3072
)

// PurgeReason says why a lookup removed a record.
type PurgeReason string

const (
	PurgeExpired     PurgeReason = "expired"
	PurgeMissingFile PurgeReason = "missing_file"
)

// Lookup is the result of Get. When Purged is set, the record was removed by
// this call and Record holds its last state.
type Lookup struct {
	Record *database.Record
	Purged bool
	Reason PurgeReason
}

// CreateParams describes a file that has already been written to storage.
type CreateParams struct {
	ID           string
	StoredName   string
	OriginalName string
	SizeBytes    int64
	Mime         string
	Checksum     string
	ExpiryHours  int
	OneTime      bool
}

// UploadParams describes an incoming upload.
type UploadParams struct {
	Filename    string
	Body        io.Reader
	ExpiryHours int
	OneTime     bool
}

// PurgeReport summarizes one PurgeExpired pass.
type PurgeReport struct {
	Expired int
	Purged  int
	Failed  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMaxExpiryHours sets the retention cap applied to requested expiries.
func WithMaxExpiryHours(hours int) Option {
	return func(m *Manager) {
		if hours > 0 {
			m.maxExpiryHours = hours
		}
	}
}

// WithRecentLimit sets the default ListRecent size.
func WithRecentLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.recentLimit = limit
		}
	}
}

// WithMaxFileSize rejects uploads larger than n bytes. Zero means unlimited.
func WithMaxFileSize(n int64) Option {
	return func(m *Manager) { m.maxFileSize = n }
}

// Manager owns the lifecycle of share records: creation, lazy expiry,
// one-time consumption and keeping rows and stored files in step.
//
// Reads may delete. Get and Download purge records that are expired or
// whose file has vanished from storage.
type Manager struct {
	store          database.Store
	blobs          storage.Store
	now            func() time.Time
	maxExpiryHours int
	recentLimit    int
	maxFileSize    int64
}

// NewManager creates a new lifecycle manager.
func NewManager(store database.Store, blobs storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		blobs:          blobs,
		now:            time.Now,
		maxExpiryHours: DefaultMaxExpiryHours,
		recentLimit:    DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClampExpiry bounds requested hours to [0, max]. Zero means never.
func ClampExpiry(hours, max int) int {
	if hours <= 0 {
		return 0
	}
	if hours > max {
		return max
	}
	return hours
}

// MaxExpiryHours returns the retention cap.
func (m *Manager) MaxExpiryHours() int {
	return m.maxExpiryHours
}

// Create inserts the record for a file already persisted under p.StoredName.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*database.Record, error) {
	if !ValidID(p.ID) {
		return nil, fmt.Errorf("%w: malformed id %q", ErrValidation, p.ID)
	}
	if p.ExpiryHours < 0 {
		return nil, ErrInvalidExpiry
	}
	if p.SizeBytes < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrValidation)
	}

	info, err := m.blobs.Stat(p.StoredName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not in storage: %w", ErrStorageWrite, p.StoredName, err)
	}
	if info.Size() != p.SizeBytes {
		return nil, fmt.Errorf("%w: stored %d bytes, expected %d", ErrStorageWrite, info.Size(), p.SizeBytes)
	}

	now := m.now().UTC().Truncate(time.Microsecond)
	rec := &database.Record{
		ID:           p.ID,
		StoredName:   p.StoredName,
		OriginalName: p.OriginalName,
		SizeBytes:    p.SizeBytes,
		Mime:         p.Mime,
		Checksum:     p.Checksum,
		CreatedAt:    now,
		OneTime:      p.OneTime,
	}
	if hours := ClampExpiry(p.ExpiryHours, m.maxExpiryHours); hours > 0 {
		expires := now.Add(time.Duration(hours) * time.Hour)
		rec.ExpiresAt = &expires
	}

	if err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create share record: %w", err)
	}
	return rec, nil
}

// Upload writes the body to storage and then records it. The row is only
// inserted once the bytes are synced; if the insert fails the file is removed.
func (m *Manager) Upload(ctx context.Context, p UploadParams) (*database.Record, error) {
	if p.Body == nil {
		return nil, ErrNoFile
	}
	if p.ExpiryHours < 0 {
		return nil, ErrInvalidExpiry
	}

	originalName := SanitizeFilename(p.Filename)

	id, err := m.newUniqueID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate share id: %w", err)
	}
	storedName := id + storageExtension(originalName)

	body := p.Body
	if m.maxFileSize > 0 {
		body = io.LimitReader(p.Body, m.maxFileSize+1)
	}

	saved, err := m.blobs.Save(storedName, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if m.maxFileSize > 0 && saved.Size > m.maxFileSize {
		m.removeBlob(storedName)
		return nil, ErrFileTooLarge
	}

	rec, err := m.Create(ctx, CreateParams{
		ID:           id,
		StoredName:   storedName,
		OriginalName: originalName,
		SizeBytes:    saved.Size,
		Mime:         m.guessMime(originalName, storedName),
		Checksum:     saved.Checksum,
		ExpiryHours:  p.ExpiryHours,
		OneTime:      p.OneTime,
	})
	if err != nil {
		m.removeBlob(storedName)
		return nil, err
	}

	slog.Info("upload stored",
		"id", rec.ID,
		"original_name", rec.OriginalName,
		"size_bytes", rec.SizeBytes,
		"one_time", rec.OneTime,
		"expires_at", rec.ExpiresAt,
	)
	return rec, nil
}

// Get looks up a record. Expired records and records whose file is missing
// are purged and reported as ErrNotFound; the returned Lookup then carries
// the purged record and the reason.
func (m *Manager) Get(ctx context.Context, id string) (*Lookup, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	rec, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if rec.ExpiredAt(m.now()) {
		m.purge(ctx, rec, PurgeExpired)
		return &Lookup{Record: rec, Purged: true, Reason: PurgeExpired}, ErrNotFound
	}

	if _, err := m.blobs.Stat(rec.StoredName); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat stored file: %w", err)
		}
		m.purge(ctx, rec, PurgeMissingFile)
		return &Lookup{Record: rec, Purged: true, Reason: PurgeMissingFile}, ErrNotFound
	}

	return &Lookup{Record: rec}, nil
}

// Download opens the stored file and counts the download. The caller must
// Close the result once the response is finished; closing a one-time download
// deletes the record and file.
func (m *Manager) Download(ctx context.Context, id string) (*Download, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	rec, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if rec.ExpiredAt(m.now()) {
		m.purge(ctx, rec, PurgeExpired)
		return nil, ErrGone
	}

	f, err := m.blobs.Open(rec.StoredName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.purge(ctx, rec, PurgeMissingFile)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat stored file: %w", err)
	}

	downloads, err := m.store.IncrementDownloads(ctx, id)
	if err != nil {
		f.Close()
		if errors.Is(err, database.ErrRecordNotFound) {
			// Deleted concurrently, or a one-time share already handed out.
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Downloads = downloads

	return &Download{
		Record:  rec,
		Content: f,
		ModTime: info.ModTime(),
		file:    f,
		manager: m,
		ctx:     context.WithoutCancel(ctx),
	}, nil
}

// ListRecent returns the newest records first. It does not enforce expiry.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]*database.Record, error) {
	if limit <= 0 {
		limit = m.recentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return m.store.ListRecent(ctx, limit)
}

// Delete removes the row and then the stored file. Deleting an unknown id is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	rec, err := m.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := m.blobs.Delete(rec.StoredName); err != nil {
		return fmt.Errorf("record %s removed but file remains: %w", id, err)
	}
	return nil
}

// PurgeExpired deletes every record whose expiry has passed.
func (m *Manager) PurgeExpired(ctx context.Context) (PurgeReport, error) {
	expired, err := m.store.ListExpired(ctx, m.now())
	if err != nil {
		return PurgeReport{}, err
	}

	report := PurgeReport{Expired: len(expired)}
	for _, rec := range expired {
		if err := m.Delete(ctx, rec.ID); err != nil {
			slog.Error("failed to purge expired share", "id", rec.ID, "error", err)
			report.Failed++
			continue
		}
		report.Purged++
	}
	return report, nil
}

// Stats returns aggregate statistics.
func (m *Manager) Stats(ctx context.Context) (*database.Stats, error) {
	return m.store.Stats(ctx, m.now())
}

// HealthCheck reports whether the record store is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.store.HealthCheck(ctx)
}

// purge removes a record found unservable during a read. Failures are logged
// and retried on the next access.
func (m *Manager) purge(ctx context.Context, rec *database.Record, reason PurgeReason) {
	if err := m.Delete(ctx, rec.ID); err != nil {
		slog.Error("failed to purge share", "id", rec.ID, "reason", reason, "error", err)
		return
	}
	slog.Info("purged share", "id", rec.ID, "reason", reason)
}

func (m *Manager) removeBlob(name string) {
	if err := m.blobs.Delete(name); err != nil {
		slog.Error("failed to remove stored file", "stored_name", name, "error", err)
	}
}

// guessMime uses the extension first and falls back to sniffing content.
func (m *Manager) guessMime(originalName, storedName string) string {
	if t := mimeFromExtension(originalName); t != "" {
		return t
	}

	f, err := m.blobs.Open(storedName)
	if err != nil {
		return ""
	}
	defer f.Close()

	header := make([]byte, sniffLength)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ""
	}
	return mimeFromContent(header[:n])
}
