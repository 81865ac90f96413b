package client

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Bundle is what gets uploaded: a single file as-is, or a zip archive when
// the arguments include a directory or more than one path.
type Bundle struct {
	Name string
	Size int64
	r    io.Reader
	c    io.Closer
}

func (b *Bundle) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// Close releases the underlying file, if any.
func (b *Bundle) Close() error {
	if b.c == nil {
		return nil
	}
	return b.c.Close()
}

// NewBundle prepares paths for upload. now names the archive when several
// paths are combined.
func NewBundle(paths []ParsedPath, now time.Time) (*Bundle, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}

	if len(paths) == 1 && paths[0].Kind == PathFile {
		f, err := os.Open(paths[0].FullPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %s: %w", paths[0].FullPath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		return &Bundle{Name: filepath.Base(paths[0].FullPath), Size: info.Size(), r: f, c: f}, nil
	}

	name := fmt.Sprintf("upload_%s.zip", now.Format("2006_01_02_150405"))
	if len(paths) == 1 {
		name = filepath.Base(paths[0].FullPath) + ".zip"
	}

	data, err := zipPaths(paths)
	if err != nil {
		return nil, err
	}
	return &Bundle{Name: name, Size: int64(len(data)), r: bytes.NewReader(data)}, nil
}

// zipPaths archives every path. A lone directory becomes the archive root;
// otherwise each path keeps its base name at the top level.
func zipPaths(paths []ParsedPath) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, p := range paths {
		prefix := filepath.Base(p.FullPath)
		if len(paths) == 1 {
			prefix = ""
		}

		var err error
		if p.Kind == PathDir {
			err = addDirToZip(zw, p.FullPath, prefix)
		} else {
			err = addFileToZip(zw, p.FullPath, prefix)
		}
		if err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func addDirToZip(zw *zip.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return addFileToZip(zw, p, path.Join(prefix, filepath.ToSlash(rel)))
	})
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}
