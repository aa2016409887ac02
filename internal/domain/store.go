package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// VaultStore persists the protocol configuration singleton and the per-user
// positions. Reads return point-in-time snapshots; Commit writes back every
// record touched by one operation atomically, so a failed operation leaves
// no partial state behind.
type VaultStore interface {
	CreateConfig(ctx context.Context, cfg ProtocolConfig) error
	GetConfig(ctx context.Context) (ProtocolConfig, error)

	// CreatePosition fails with ErrAlreadyExists when the owner already has
	// a position; there is no implicit construction on first read.
	CreatePosition(ctx context.Context, pos UserPosition) error
	GetPosition(ctx context.Context, owner string) (UserPosition, error)
	ListPositions(ctx context.Context, opts ListOpts) ([]UserPosition, error)

	// ListFeeEligible returns positions whose last fee collection is at or
	// before the cutoff, for batch fee runs.
	ListFeeEligible(ctx context.Context, cutoff time.Time) ([]UserPosition, error)

	// Commit persists the config and the given positions in one transaction.
	Commit(ctx context.Context, cfg ProtocolConfig, positions ...UserPosition) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log of vault events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LockManager provides distributed locking; the service uses it to enforce
// mutual exclusion per durable record.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for vault events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads serialized objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged audit events out of the primary store into blob
// storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (archived int, err error)
}
