package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader answers whether an archive object is already present.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves closed history to cold storage.
type Archiver interface {
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
