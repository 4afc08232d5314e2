package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradekit/snipebot/internal/domain"
)

type fakeBlobWriter struct {
	failNext bool
	puts     []fakePut
}

type fakePut struct {
	path        string
	contentType string
	body        []byte
}

func (f *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.failNext {
		f.failNext = false
		return errors.New("upload failed")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, fakePut{path: path, contentType: contentType, body: body})
	return nil
}

func (f *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func snapshot(id string, state domain.PositionState) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		State: state,
		Context: domain.PositionContext{
			PositionID:   id,
			TokenAddress: "0xabc",
			EntryPrice:   100,
			Amount:       1000,
		},
		TakenAt: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func TestFlushUploadsQueuedSnapshotsAsJSONL(t *testing.T) {
	writer := &fakeBlobWriter{}
	arch := NewArchiver(writer, nil)
	arch.now = func() time.Time {
		return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	}

	arch.Add(snapshot("p1", domain.PositionStateClosed))
	arch.Add(snapshot("p2", domain.PositionStateClosed))
	require.Equal(t, 2, arch.Pending())

	require.NoError(t, arch.Flush(context.Background()))
	require.Equal(t, 0, arch.Pending())

	require.Len(t, writer.puts, 1)
	put := writer.puts[0]
	require.True(t, strings.HasPrefix(put.path, "closed-positions/2026/08/26/"))
	require.True(t, strings.HasSuffix(put.path, ".jsonl"))
	require.Equal(t, "application/x-ndjson", put.contentType)

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(put.body))
	for scanner.Scan() {
		var snap domain.PositionSnapshot
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &snap))
		ids = append(ids, snap.Context.PositionID)
	}
	require.Equal(t, []string{"p1", "p2"}, ids)
}

func TestFlushEmptyQueueIsANoOp(t *testing.T) {
	writer := &fakeBlobWriter{}
	arch := NewArchiver(writer, nil)

	require.NoError(t, arch.Flush(context.Background()))
	require.Empty(t, writer.puts)
}

func TestFailedFlushRequeuesBatch(t *testing.T) {
	writer := &fakeBlobWriter{failNext: true}
	arch := NewArchiver(writer, nil)

	arch.Add(snapshot("p1", domain.PositionStateClosed))
	require.Error(t, arch.Flush(context.Background()))
	require.Equal(t, 1, arch.Pending())

	// Snapshots added after the failed attempt keep their order behind the
	// requeued batch.
	arch.Add(snapshot("p2", domain.PositionStateClosed))
	require.NoError(t, arch.Flush(context.Background()))
	require.Equal(t, 0, arch.Pending())

	require.Len(t, writer.puts, 1)
	body := string(writer.puts[0].body)
	require.Less(t, strings.Index(body, "p1"), strings.Index(body, "p2"))
}
