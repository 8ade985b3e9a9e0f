package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/hashing"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/internal/parse"
	"github.com/matchbot/reconcile/pkg/logger"
)

// Extractor streams a confirmed file out of object storage, normalizes its
// rows into transactions and marks the file ready or failed. The processing
// status claimed at the start doubles as the per-file lock, so two workers
// can never extract the same file concurrently.
type Extractor interface {
	Extract(ctx context.Context, fileID uuid.UUID) error
	Cancel(fileID uuid.UUID) bool
}

type extractor struct {
	repo    domain.Repository
	store   domain.ObjectStore
	limits  config.LimitsConfig
	mapping parse.Mapping
	cancels *cancelRegistry
	logger  *logger.Logger
}

func NewExtractor(repo domain.Repository, store domain.ObjectStore, limits config.LimitsConfig, log *logger.Logger) Extractor {
	return &extractor{
		repo:    repo,
		store:   store,
		limits:  limits,
		mapping: parse.DefaultMapping(),
		cancels: newCancelRegistry(),
		logger:  log,
	}
}

func (e *extractor) Extract(ctx context.Context, fileID uuid.UUID) error {
	ctx = logger.WithFileID(ctx, fileID.String())

	file, err := e.repo.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	if err := e.repo.ClaimFileProcessing(ctx, fileID); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.limits.ExtractionTimeout)
	defer cancel()
	e.cancels.register(fileID, cancel)
	defer e.cancels.unregister(fileID)

	e.logger.Info(runCtx, "Extraction started",
		"kind", file.Kind,
		"storage_key", file.StorageKey,
	)

	rowCount, err := e.run(runCtx, file)
	if err != nil {
		e.fail(ctx, fileID, err)
		return err
	}

	e.logger.Info(ctx, "Extraction completed", "row_count", rowCount)
	return nil
}

// Cancel aborts an in-flight extraction. Reports whether one was running.
func (e *extractor) Cancel(fileID uuid.UUID) bool {
	return e.cancels.cancel(fileID)
}

// run does the actual streaming work. Any error leaves zero transactions
// behind; the caller translates the error into a failure reason.
func (e *extractor) run(ctx context.Context, file *domain.UploadedFile) (int, error) {
	chunks := objectstore.NewChunkReader(ctx, e.store, file.StorageKey, e.limits.ChunkSize,
		objectstore.WithRetryAttempts(e.limits.StorageRetryAttempts),
	)

	reader, err := e.openReader(ctx, file, chunks)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if err := e.recordMetadata(ctx, file.ID, reader); err != nil {
		return 0, err
	}

	var (
		batch     []domain.Transaction
		rowHashes []string
		total     int
		degraded  int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.repo.CreateTransactions(ctx, batch); err != nil {
			return fmt.Errorf("persist batch: %w", err)
		}
		if err := e.repo.SetFileProgress(ctx, file.ID, total); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for {
		// Cancellation is observed between rows, and batches are only
		// persisted whole, so a cancelled run never leaves a torn batch.
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		default:
		}

		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, classifyReadError(ctx, err)
		}

		tx, wasDegraded := parse.Normalize(row, file.ID, e.mapping)
		tx.RowHash = hashing.RowHash(tx)
		if wasDegraded {
			degraded++
		}

		batch = append(batch, tx)
		rowHashes = append(rowHashes, tx.RowHash)
		total++

		if len(batch) >= e.limits.BatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}

	if total > 0 && float64(degraded)/float64(total) > e.limits.QualityThreshold {
		return 0, &domain.QualityThresholdError{Degraded: degraded, Total: total}
	}

	fileHash := hashing.FileHash(rowHashes)
	if err := e.repo.SetFileReady(ctx, file.ID, total, fileHash); err != nil {
		return 0, fmt.Errorf("mark ready: %w", err)
	}

	return total, nil
}

func (e *extractor) openReader(ctx context.Context, file *domain.UploadedFile, r io.Reader) (parse.RowReader, error) {
	switch file.Kind {
	case domain.FileKindCSV:
		reader, err := parse.NewCSVReader(r, int(e.limits.ChunkSize))
		if err != nil {
			return nil, classifyReadError(ctx, err)
		}
		return reader, nil
	case domain.FileKindXLSX:
		reader, err := parse.NewXLSXReader(r)
		if err != nil {
			return nil, classifyReadError(ctx, err)
		}
		return reader, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", domain.ErrValidation, file.Kind)
}

// classifyReadError separates failures of the byte stream underneath the
// parser from genuinely malformed input. A cancelled run or an unavailable
// store surfaces through the parser's read path; labeling those as bad
// format would record the wrong failure reason on the file.
func classifyReadError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrNotFound):
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

func (e *extractor) recordMetadata(ctx context.Context, fileID uuid.UUID, reader parse.RowReader) error {
	md := domain.FileMetadata{Columns: reader.Columns()}
	if d, ok := reader.(interface{ Delimiter() string }); ok {
		md.Delimiter = d.Delimiter()
	}
	if s, ok := reader.(interface{ Sheet() string }); ok {
		md.Sheet = s.Sheet()
	}
	return e.repo.SetFileMetadata(ctx, fileID, md)
}

// fail cleans up after a broken extraction: partial transactions are deleted
// so a failed file is observably empty, then the file is marked failed with a
// reason derived from the error. Cleanup runs on the parent context because
// the run context may already be cancelled.
func (e *extractor) fail(ctx context.Context, fileID uuid.UUID, cause error) {
	e.logger.Error(ctx, "Extraction failed", "error", cause)

	if err := e.repo.DeleteTransactions(ctx, fileID); err != nil {
		e.logger.Error(ctx, "Failed to delete partial transactions", "error", err)
	}

	if err := e.repo.SetFileFailed(ctx, fileID, failureReason(cause)); err != nil {
		e.logger.Error(ctx, "Failed to mark file failed", "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonCancelled
	case errors.Is(err, domain.ErrExtractionQuality):
		return domain.ReasonQualityThreshold
	case errors.Is(err, domain.ErrStorageUnavailable):
		return domain.ReasonStorageFailure
	case errors.Is(err, domain.ErrValidation):
		return domain.ReasonBadFormat
	}
	return domain.ReasonInternal
}
