package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotExist is returned when a key has no stored file.
var ErrNotExist = errors.New("file not found")

// Metadata describes an archived export
type Metadata struct {
	ContentType      string            `json:"contentType,omitempty"`
	OriginalName     string            `json:"originalName,omitempty"`
	ReferencePointID string            `json:"referencePointId,omitempty"`
	MarketID         string            `json:"marketId,omitempty"`
	GeneratedAt      time.Time         `json:"generatedAt,omitempty"`
	RankedSets       int               `json:"rankedSets,omitempty"`
	Custom           map[string]string `json:"custom,omitempty"`
}

// FileInfo contains information about a stored file
type FileInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	ContentType string    `json:"contentType,omitempty"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// Storage is the archive operators download exports from.
type Storage interface {
	// Put stores content at the given key with optional metadata
	Put(ctx context.Context, key string, content []byte, metadata *Metadata) error

	// Get retrieves content from the given key
	Get(ctx context.Context, key string) ([]byte, error)

	// GetInfo retrieves file information without content
	GetInfo(ctx context.Context, key string) (*FileInfo, error)

	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// List returns all keys matching the given prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
}
