package domain

import (
	"context"
	"time"
)

// ObjectStore is the boundary to the blob storage collaborator. The pipeline
// only ever writes through presigned URLs issued here; once a file is
// uploaded the store is read-only from this subsystem's perspective.
type ObjectStore interface {
	// PresignUpload issues a time-limited URL the client PUTs the file
	// bytes to.
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error)
	// ReadRange returns up to length bytes starting at offset. Ranges must
	// start before the object's end; backends may reject one starting at or
	// past it, as S3 does with InvalidRange. Transient failures are
	// reported as ErrStorageUnavailable for the caller's retry policy.
	ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	// Size reports the object's byte size.
	Size(ctx context.Context, key string) (int64, error)
}
