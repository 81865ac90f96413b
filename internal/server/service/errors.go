package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the service layer.
var (
	ErrValidation    = errors.New("invalid upload")
	ErrNoFile        = fmt.Errorf("%w: no file selected", ErrValidation)
	ErrFileTooLarge  = fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)
	ErrInvalidExpiry = fmt.Errorf("%w: expiry hours must not be negative", ErrValidation)

	ErrNotFound = errors.New("share not found")
	ErrGone     = errors.New("share has expired")

	// ErrStorageWrite means the bytes could not be persisted; no record is created.
	ErrStorageWrite = errors.New("failed to store file")
)
