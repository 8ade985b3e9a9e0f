package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the single source of truth for all lifecycle state. Status
// transitions are compare-and-swap at the persistence layer so the per-entity
// guards stay correct across multiple worker processes; no in-memory mutex is
// involved.
type Repository interface {
	// Files
	CreateFile(ctx context.Context, file *UploadedFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*UploadedFile, error)
	// DeleteFile removes the file record and cascades to its transactions.
	DeleteFile(ctx context.Context, id uuid.UUID) error

	// SetFileUploaded transitions pending -> uploaded and records the actual
	// byte size. Returns a StateError for any other current status.
	SetFileUploaded(ctx context.Context, id uuid.UUID, actualSize int64) error
	// SetFileConfirmed transitions uploaded -> confirmed, optionally linking
	// the file to a reconciliation job.
	SetFileConfirmed(ctx context.Context, id uuid.UUID, jobID *uuid.UUID) error
	// ClaimFileProcessing transitions confirmed -> processing. The processing
	// status acts as the per-file extraction lock: a claim on a file already
	// processing fails with ErrAlreadyInProgress, any other status with a
	// StateError.
	ClaimFileProcessing(ctx context.Context, id uuid.UUID) error
	// SetFileReady transitions processing -> ready with the final row count
	// and whole-file hash.
	SetFileReady(ctx context.Context, id uuid.UUID, rowCount int, fileHash string) error
	// SetFileFailed moves any non-terminal file to failed with a
	// human-readable reason. Failing an already-terminal file is a StateError.
	SetFileFailed(ctx context.Context, id uuid.UUID, reason string) error
	SetFileMetadata(ctx context.Context, id uuid.UUID, md FileMetadata) error
	SetFileProgress(ctx context.Context, id uuid.UUID, processedRows int) error

	// Transactions. Created in bulk during extraction, immutable afterwards,
	// returned in row-index order.
	CreateTransactions(ctx context.Context, txs []Transaction) error
	GetTransactions(ctx context.Context, fileID uuid.UUID) ([]Transaction, error)
	DeleteTransactions(ctx context.Context, fileID uuid.UUID) error

	// Jobs
	CreateJob(ctx context.Context, job *ReconciliationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ReconciliationJob, error)
	// ClaimJobRunning transitions pending|completed|failed -> running. A
	// claim on a job already running fails with ErrAlreadyInProgress.
	ClaimJobRunning(ctx context.Context, id uuid.UUID) error
	SetJobCompleted(ctx context.Context, id uuid.UUID) error
	SetJobFailed(ctx context.Context, id uuid.UUID, reason string) error

	// Results. Append-only; a re-run supersedes by insertion, never update.
	CreateResult(ctx context.Context, result *ReconciliationResult) error
	LatestResult(ctx context.Context, jobID uuid.UUID) (*ReconciliationResult, error)
	ResultHistory(ctx context.Context, jobID uuid.UUID) ([]ReconciliationResult, error)
}
