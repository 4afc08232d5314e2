package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradekit/snipebot/internal/domain"
)

// Archiver implements domain.Archiver by buffering closed-position
// snapshots in memory and flushing them to blob storage as JSONL objects,
// partitioned by the flush date.
//
// A snapshot added between Flush calls is held in memory only; callers that
// care about durability across restarts should persist snapshots to the
// position store first and treat the archive as a secondary, append-only
// record.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger

	// now is overridable in tests.
	now func() time.Time

	mu      sync.Mutex
	pending []domain.PositionSnapshot
}

// NewArchiver creates an Archiver that uploads batches through writer.
func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// Add queues a snapshot for the next flush.
func (a *Archiver) Add(snap domain.PositionSnapshot) {
	a.mu.Lock()
	a.pending = append(a.pending, snap)
	a.mu.Unlock()
}

// Pending returns the number of snapshots waiting for the next flush.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush uploads all queued snapshots as a single JSONL object and clears the
// queue. If the upload fails the batch is requeued ahead of any snapshots
// added during the attempt, so no records are lost.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		// Marshalling domain snapshots cannot realistically fail, but if
		// it does the batch is unrecoverable. Drop it and report.
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.Info("archived closed positions",
		slog.String("path", path),
		slog.Int("count", len(batch)),
	)
	return nil
}

// archivePath builds the S3 key for an archive batch, partitioned by day:
//
//	closed-positions/2026/08/26/<uuid>.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("closed-positions/%s/%s.jsonl",
		at.UTC().Format("2006/01/02"), uuid.NewString())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
