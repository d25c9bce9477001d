package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced blob does not exist.
var ErrNotFound = errors.New("artifact not found")

// Metadata describes a stored blob.
type Metadata struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TempFile is an upload waiting in the temporary area.
type TempFile struct {
	Ref       string
	JobID     string
	ExpiresAt time.Time
}

// Store persists archive artifacts and short-lived uploads.
type Store interface {
	// Put stores data permanently and returns its reference.
	Put(ctx context.Context, data []byte, meta Metadata) (string, error)
	// Get returns the blob for ref or ErrNotFound.
	Get(ctx context.Context, ref string) ([]byte, Metadata, error)
	// Delete removes ref. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error

	// PutTemp stores an upload owned by jobID until expiresAt.
	PutTemp(ctx context.Context, data []byte, jobID, filename string, expiresAt time.Time) (string, error)
	// GetTemp returns an upload together with its owner and expiry.
	GetTemp(ctx context.Context, ref string) ([]byte, TempFile, error)
	DeleteTemp(ctx context.Context, ref string) error
	ListTemp(ctx context.Context) ([]TempFile, error)
}

// Hash returns the hex encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
