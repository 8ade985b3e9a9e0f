package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FileKind string

const (
	FileKindCSV  FileKind = "csv"
	FileKindXLSX FileKind = "xlsx"
)

// KindForContentType maps a declared content type onto a supported file kind.
// Both MIME types and bare extensions are accepted because upload clients are
// inconsistent about which they send.
func KindForContentType(contentType string) (FileKind, bool) {
	switch contentType {
	case "text/csv", "application/csv", "csv":
		return FileKindCSV, true
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/xlsx", "xlsx":
		return FileKindXLSX, true
	}
	return "", false
}

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusConfirmed  FileStatus = "confirmed"
	FileStatusProcessing FileStatus = "processing"
	FileStatusReady      FileStatus = "ready"
	FileStatusFailed     FileStatus = "failed"
)

// fileTransitions encodes the monotonic lifecycle. A file never moves
// backward; ready and failed are terminal.
var fileTransitions = map[FileStatus][]FileStatus{
	FileStatusPending:    {FileStatusUploaded, FileStatusFailed},
	FileStatusUploaded:   {FileStatusConfirmed, FileStatusFailed},
	FileStatusConfirmed:  {FileStatusProcessing, FileStatusFailed},
	FileStatusProcessing: {FileStatusReady, FileStatusFailed},
}

func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	for _, allowed := range fileTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s FileStatus) Terminal() bool {
	return s == FileStatusReady || s == FileStatusFailed
}

// FileMetadata holds what the extractor learned about a file's shape: the
// declared column list and parser hints recorded while reading the header.
type FileMetadata struct {
	Columns   []string `json:"columns,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
	Sheet     string   `json:"sheet,omitempty"`
}

// UploadedFile is one user-submitted document moving through the ingestion
// lifecycle: pending -> uploaded -> confirmed -> processing -> ready|failed.
type UploadedFile struct {
	ID            uuid.UUID    `json:"id"`
	OwnerID       string       `json:"owner_id"`
	JobID         *uuid.UUID   `json:"job_id,omitempty"`
	Filename      string       `json:"filename"`
	StorageKey    string       `json:"storage_key"`
	ContentType   string       `json:"content_type"`
	Kind          FileKind     `json:"kind"`
	DeclaredSize  int64        `json:"declared_size"`
	ActualSize    int64        `json:"actual_size"`
	Status        FileStatus   `json:"status"`
	FileHash      string       `json:"file_hash,omitempty"`
	RowCount      int          `json:"row_count"`
	ProcessedRows int          `json:"processed_rows"`
	Metadata      FileMetadata `json:"metadata"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Transaction is a normalized row extracted from a file. Canonical fields are
// nullable: a row whose date or amount could not be parsed keeps the raw
// string in Extras and leaves the canonical field nil, it is never dropped.
// Transactions are immutable after creation.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	FileID      uuid.UUID         `json:"file_id"`
	RowIndex    int               `json:"row_index"`
	Date        *time.Time        `json:"date,omitempty"`
	Amount      *decimal.Decimal  `json:"amount,omitempty"`
	Description *string           `json:"description,omitempty"`
	Extras      map[string]string `json:"extras,omitempty"`
	RowHash     string            `json:"row_hash"`
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ReconciliationJob groups exactly one source file with one or more
// comparison files for a comparison run. A job may be re-run after reaching a
// terminal state; each run appends a new result record.
type ReconciliationJob struct {
	ID                uuid.UUID   `json:"id"`
	OwnerID           string      `json:"owner_id"`
	SourceFileID      uuid.UUID   `json:"source_file_id"`
	ComparisonFileIDs []uuid.UUID `json:"comparison_file_ids"`
	Status            JobStatus   `json:"status"`
	FailureReason     string      `json:"failure_reason,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// MatchedPair links a source transaction to its exact-hash counterpart.
type MatchedPair struct {
	SourceID     uuid.UUID `json:"source_id"`
	ComparisonID uuid.UUID `json:"comparison_id"`
}

// FieldDiff records one canonical field that differs between a source
// transaction and its similarity-matched counterpart.
type FieldDiff struct {
	Field           string `json:"field"`
	SourceValue     string `json:"source_value"`
	ComparisonValue string `json:"comparison_value"`
}

// MismatchedPair is a similarity match: same date, near-equal amount,
// differing content. Distinguishes a data-entry discrepancy from a genuinely
// absent record.
type MismatchedPair struct {
	SourceID     uuid.UUID   `json:"source_id"`
	ComparisonID uuid.UUID   `json:"comparison_id"`
	Diffs        []FieldDiff `json:"diffs"`
}

// ComparisonOutcome partitions the transactions of one (source, comparison)
// file pair. Every transaction of either file lands in exactly one of the
// four partitions.
type ComparisonOutcome struct {
	ComparisonFileID     uuid.UUID        `json:"comparison_file_id"`
	Matched              []MatchedPair    `json:"matched"`
	Mismatched           []MismatchedPair `json:"mismatched"`
	SourceOnly           []uuid.UUID      `json:"source_only"`
	ComparisonOnly       []uuid.UUID      `json:"comparison_only"`
	SourceDuplicates     []uuid.UUID      `json:"source_duplicates,omitempty"`
	ComparisonDuplicates []uuid.UUID      `json:"comparison_duplicates,omitempty"`
}

// ReconciliationResult is the immutable output of one job run. Re-running a
// job appends a new record; results are never updated in place.
type ReconciliationResult struct {
	ID          uuid.UUID           `json:"id"`
	JobID       uuid.UUID           `json:"job_id"`
	Comparisons []ComparisonOutcome `json:"comparisons"`
	CreatedAt   time.Time           `json:"created_at"`
}

// PresignedUpload is what a client needs to push file bytes directly to the
// object store.
type PresignedUpload struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}
