package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"blink/internal/server/database"
)

// Download is an open, already counted download.
type Download struct {
	Record  *database.Record
	Content io.ReadSeeker
	ModTime time.Time

	file    *os.File
	manager *Manager
	ctx     context.Context
	once    sync.Once
	err     error
}

// ContentType returns the stored mime or a binary default.
func (d *Download) ContentType() string {
	if d.Record.Mime != "" {
		return d.Record.Mime
	}
	return "application/octet-stream"
}

// Close releases the file. For one-time shares it also deletes the record
// and file, whether or not the client received every byte. The cleanup runs
// on a context that ignores request cancellation. Close is idempotent.
func (d *Download) Close() error {
	d.once.Do(func() {
		d.err = d.file.Close()
		if !d.Record.OneTime {
			return
		}

		if err := d.manager.Delete(d.ctx, d.Record.ID); err != nil {
			slog.Error("failed to consume one-time share", "id", d.Record.ID, "error", err)
			d.err = errors.Join(d.err, err)
			return
		}
		slog.Info("one-time share consumed", "id", d.Record.ID)
	})
	return d.err
}
