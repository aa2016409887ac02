package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

type fakeUploader struct {
	puts      map[string][]byte
	putErr    error
	multipart int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{puts: make(map[string][]byte)}
}

func (f *fakeUploader) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	var buf bytes.Buffer
	buf.ReadFrom(data)
	f.puts[path] = buf.Bytes()
	return nil
}

func (f *fakeUploader) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error {
	f.multipart++
	return f.Put(ctx, path, data, contentType)
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
	deleted []int64
	logged  []string
}

func (f *fakeAuditStore) ListBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) && e.ID > afterID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeAuditStore) DeleteByID(ctx context.Context, ids []int64) (int64, error) {
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

func (f *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func auditEntry(id int64, event string, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        id,
		Event:     event,
		Detail:    map[string]any{"amount": "100"},
		CreatedAt: at,
	}
}

func TestArchiveEventsUploadsThenDeletes(t *testing.T) {
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAuditStore{
		entries: []domain.AuditEntry{
			auditEntry(1, "deposit", cutoff.Add(-48*time.Hour)),
			auditEntry(2, "withdraw", cutoff.Add(-24*time.Hour)),
			auditEntry(3, "deposit", cutoff.Add(time.Hour)), // too new
		},
	}
	uploader := newFakeUploader()
	a := NewArchiver(uploader, store, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	body, ok := uploader.puts["archive/events/2025-03-01.jsonl"]
	require.True(t, ok, "expected archive object to be uploaded")
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"deposit"`)
	assert.Contains(t, lines[1], `"event":"withdraw"`)

	assert.Equal(t, []int64{1, 2}, store.deleted)
	assert.Equal(t, []string{"events_archived"}, store.logged)
}

func TestArchiveEventsDrainsInPages(t *testing.T) {
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAuditStore{}
	for i := int64(1); i <= archivePageSize+5; i++ {
		store.entries = append(store.entries, auditEntry(i, "deposit", cutoff.Add(-time.Hour)))
	}
	uploader := newFakeUploader()
	a := NewArchiver(uploader, store, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, archivePageSize+5, n)
	assert.Len(t, store.deleted, archivePageSize+5)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	uploader := newFakeUploader()
	a := NewArchiver(uploader, &fakeAuditStore{}, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, uploader.puts)
}

func TestArchiveEventsKeepsRowsWhenUploadFails(t *testing.T) {
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAuditStore{
		entries: []domain.AuditEntry{auditEntry(1, "deposit", cutoff.Add(-time.Hour))},
	}
	uploader := newFakeUploader()
	uploader.putErr = errors.New("bucket unreachable")
	a := NewArchiver(uploader, store, slog.New(slog.DiscardHandler))

	_, err := a.ArchiveEvents(context.Background(), cutoff)
	require.Error(t, err)
	assert.Empty(t, store.deleted)
}
