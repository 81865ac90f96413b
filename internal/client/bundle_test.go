package client

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func verifyZipContents(t *testing.T, zipBytes []byte, expectedFiles map[string]string) {
	t.Helper()

	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		t.Fatalf("failed to create zip reader: %v", err)
	}

	if len(reader.File) != len(expectedFiles) {
		t.Errorf("expected %d files in zip, got %d", len(expectedFiles), len(reader.File))
	}

	for _, f := range reader.File {
		expectedContent, exists := expectedFiles[f.Name]
		if !exists {
			t.Errorf("unexpected file in zip: %s", f.Name)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			t.Errorf("failed to open file %s in zip: %v", f.Name, err)
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Errorf("failed to read file %s: %v", f.Name, err)
			continue
		}

		if string(content) != expectedContent {
			t.Errorf("file %s: expected content %q, got %q", f.Name, expectedContent, string(content))
		}
	}
}

func readBundle(t *testing.T, b *Bundle) []byte {
	t.Helper()
	defer b.Close()

	data, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("failed to read bundle: %v", err)
	}
	if int64(len(data)) != b.Size {
		t.Errorf("Size = %d, read %d bytes", b.Size, len(data))
	}
	return data
}

func TestNewBundle(t *testing.T) {
	now := time.Date(2026, 10, 16, 14, 30, 5, 0, time.UTC)

	t.Run("single file is sent as is", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"notes.txt": "plain text"})

		b, err := NewBundle([]ParsedPath{{FullPath: paths[0], Kind: PathFile}}, now)
		if err != nil {
			t.Fatalf("NewBundle() error: %v", err)
		}
		if b.Name != "notes.txt" {
			t.Errorf("Name = %q, want notes.txt", b.Name)
		}
		if got := string(readBundle(t, b)); got != "plain text" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("directory becomes a zip rooted at the directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "project")
		files := map[string]string{
			"README.md":       "# project",
			"src/main.go":     "package main",
			"src/lib/util.go": "package lib",
		}
		for name, content := range files {
			p := filepath.Join(root, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(p, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
		}

		b, err := NewBundle([]ParsedPath{{FullPath: root, Kind: PathDir}}, now)
		if err != nil {
			t.Fatalf("NewBundle() error: %v", err)
		}
		if b.Name != "project.zip" {
			t.Errorf("Name = %q, want project.zip", b.Name)
		}
		verifyZipContents(t, readBundle(t, b), files)
	})

	t.Run("several paths are zipped under their base names", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{
			"a.txt": "alpha",
			"b.txt": "bravo",
		})
		parsed, err := ParseArgs(paths)
		if err != nil {
			t.Fatal(err)
		}

		b, err := NewBundle(parsed, now)
		if err != nil {
			t.Fatalf("NewBundle() error: %v", err)
		}
		if b.Name != "upload_2026_10_16_143005.zip" {
			t.Errorf("Name = %q", b.Name)
		}
		verifyZipContents(t, readBundle(t, b), map[string]string{
			"a.txt": "alpha",
			"b.txt": "bravo",
		})
	})

	t.Run("empty directory yields an empty archive", func(t *testing.T) {
		b, err := NewBundle([]ParsedPath{{FullPath: t.TempDir(), Kind: PathDir}}, now)
		if err != nil {
			t.Fatalf("NewBundle() error: %v", err)
		}
		verifyZipContents(t, readBundle(t, b), map[string]string{})
	})

	t.Run("no paths", func(t *testing.T) {
		if _, err := NewBundle(nil, now); err == nil {
			t.Fatal("expected error for no paths")
		}
	})
}
