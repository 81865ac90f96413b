package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"blink/internal/server/database"
)

// idEntropyBytes is the amount of randomness in a share id (11 base64url chars).
const idEntropyBytes = 8

const maxIDAttempts = 4

// NewID returns a cryptographically random, URL-safe share identifier.
func NewID() (string, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidID reports whether id could have been produced by NewID or an older
// generator: 1 to 64 characters of the base64url alphabet.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// newUniqueID draws ids until one is unused in the store.
func (m *Manager) newUniqueID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := NewID()
		if err != nil {
			return "", err
		}

		_, err = m.store.GetByID(ctx, id)
		if errors.Is(err, database.ErrRecordNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check id: %w", err)
		}
	}
	return "", fmt.Errorf("no free id after %d attempts", maxIDAttempts)
}
