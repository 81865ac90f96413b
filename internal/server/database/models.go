package database

import "time"

// Record is one shared file: the metadata row that points at a stored file.
type Record struct {
	ID           string
	StoredName   string
	OriginalName string
	SizeBytes    int64
	Mime         string // empty when unknown
	Checksum     string
	CreatedAt    time.Time
	ExpiresAt    *time.Time // nil when the record never expires
	OneTime      bool
	Downloads    int64
}

// ExpiredAt reports whether the record is past its expiry at t.
func (r *Record) ExpiredAt(t time.Time) bool {
	return r.ExpiresAt != nil && t.After(*r.ExpiresAt)
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalRecords   int64
	ActiveRecords  int64
	TotalDownloads int64
	StorageUsed    int64
}
