package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidName is returned for names that could escape the storage directory.
var ErrInvalidName = errors.New("invalid storage name")

// SaveResult describes a file after it has been durably written.
type SaveResult struct {
	Size     int64
	Checksum string
}

// Store defines the interface for file storage backends.
type Store interface {
	Save(name string, data io.Reader) (SaveResult, error)
	Open(name string) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
	Delete(name string) error
	EnsureDir() error
}

// FileSystemStore keeps every stored file in one flat directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save streams data into a temporary file, syncs it and renames it to name.
// The returned size is read back from the final file.
func (fs *FileSystemStore) Save(name string, data io.Reader) (SaveResult, error) {
	finalPath, err := fs.path(name)
	if err != nil {
		return SaveResult{}, err
	}

	tmp, err := os.CreateTemp(fs.basePath, ".upload-*")
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to init checksum: %w", err)
	}

	if _, err := io.Copy(io.MultiWriter(tmp, hasher), data); err != nil {
		return SaveResult{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return SaveResult{}, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return SaveResult{}, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return SaveResult{}, fmt.Errorf("failed to move file into place: %w", err)
	}
	committed = true

	info, err := os.Stat(finalPath)
	if err != nil {
		os.Remove(finalPath)
		return SaveResult{}, fmt.Errorf("failed to stat stored file: %w", err)
	}

	return SaveResult{
		Size:     info.Size(),
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open opens a stored file for reading. A missing file yields an error
// matching os.ErrNotExist.
func (fs *FileSystemStore) Open(name string) (*os.File, error) {
	p, err := fs.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Stat returns file info for a stored file.
func (fs *FileSystemStore) Stat(name string) (os.FileInfo, error) {
	p, err := fs.path(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (fs *FileSystemStore) Delete(name string) error {
	p, err := fs.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", p, err)
	}
	return nil
}

func (fs *FileSystemStore) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(fs.basePath, name), nil
}
