package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver batches closed-position snapshots and flushes them to blob
// storage as JSONL objects.
type Archiver interface {
	Add(snap PositionSnapshot)
	Flush(ctx context.Context) error
}
