package service

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameLength  = 255
	maxExtensionLength = 16
	fallbackFilename   = "file"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces a client-supplied name to a safe ASCII base name.
// Accents are decomposed and dropped, whitespace becomes underscores, and
// anything outside [A-Za-z0-9_.-] is removed.
func SanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range name {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}

	name = strings.Join(strings.Fields(b.String()), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	if name == "" {
		return fallbackFilename
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > maxExtensionLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}
	return name
}

// storageExtension is the extension carried over to the stored name.
func storageExtension(sanitized string) string {
	ext := filepath.Ext(sanitized)
	if len(ext) <= 1 || len(ext) > maxExtensionLength {
		return ""
	}
	return ext
}

// mimeFromExtension guesses a content type from the filename alone.
func mimeFromExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(strings.ToLower(ext))
}

// mimeFromContent sniffs the leading bytes of a stored file.
func mimeFromContent(header []byte) string {
	detected := mimetype.Detect(header)
	if detected.Is("application/octet-stream") {
		return ""
	}
	return detected.String()
}
