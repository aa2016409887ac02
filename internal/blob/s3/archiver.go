package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// archivePageSize bounds each audit-log query while draining old events.
const archivePageSize = 1000

// multipartThreshold switches uploads to multipart above this payload size.
const multipartThreshold = 8 * 1024 * 1024

// BlobUploader is the upload surface the archiver needs. *Writer satisfies
// it.
type BlobUploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// AuditArchiveStore is the slice of the audit store the archiver needs:
// time-ranged reads, deletion of archived rows, and recording the archival
// itself.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]domain.AuditEntry, error)
	DeleteByID(ctx context.Context, ids []int64) (int64, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Archiver implements domain.Archiver. It drains audit events older than a
// cutoff into a JSONL object on S3, then deletes the archived rows from the
// primary store. Rows are only deleted after the upload has succeeded.
type Archiver struct {
	writer BlobUploader
	audit  AuditArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver that uploads through the given writer and
// drains the given audit store.
func NewArchiver(writer BlobUploader, audit AuditArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads all audit events created strictly before the cutoff
// to archive/events/<cutoff-date>.jsonl and removes them from the primary
// store. It returns the number of archived events.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int, error) {
	var (
		buf    bytes.Buffer
		ids    []int64
		cursor int64
	)

	for {
		page, err := a.audit.ListBefore(ctx, before, cursor, archivePageSize)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		for _, e := range page {
			line, err := json.Marshal(e)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
			ids = append(ids, e.ID)
			cursor = e.ID
		}
		if len(page) < archivePageSize {
			break
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	path := archivePath(before)
	if err := a.upload(ctx, path, &buf); err != nil {
		return 0, err
	}

	deleted, err := a.audit.DeleteByID(ctx, ids)
	if err != nil {
		// The object is already uploaded; re-running the archive later is
		// safe because the rows are still present.
		return 0, fmt.Errorf("s3blob: archive events delete: %w", err)
	}

	a.logger.InfoContext(ctx, "archived audit events",
		slog.String("path", path),
		slog.Int("count", len(ids)),
		slog.Int64("deleted", deleted),
	)

	if err := a.audit.Log(ctx, "events_archived", map[string]any{
		"path":   path,
		"count":  len(ids),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return len(ids), fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	return len(ids), nil
}

// upload picks single-shot or multipart based on payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf *bytes.Buffer) error {
	const contentType = "application/x-ndjson"

	if int64(buf.Len()) > multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf.Bytes()), contentType, minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive events upload: %w", err)
		}
		return nil
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), contentType); err != nil {
		return fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// cutoff date.
//
//	archive/events/2025-03-01.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/events/%s.jsonl", before.Format("2006-01-02"))
}
