package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/eventbus"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/pkg/logger"
)

// Tracker owns the upload side of the pipeline: registering pending uploads,
// issuing presigned URLs, verifying the landed bytes and handing confirmed
// files to the extraction pool.
type Tracker interface {
	RegisterPendingUpload(ctx context.Context, ownerID, filename, contentType string, declaredSize int64) (*domain.UploadedFile, *domain.PresignedUpload, error)
	MarkUploaded(ctx context.Context, fileID uuid.UUID) (*domain.UploadedFile, error)
	ConfirmAndLink(ctx context.Context, fileID uuid.UUID, jobID *uuid.UUID) (*domain.UploadedFile, error)
	GetFile(ctx context.Context, fileID uuid.UUID) (*domain.UploadedFile, error)
	DeleteFile(ctx context.Context, fileID uuid.UUID) error
}

type tracker struct {
	repo   domain.Repository
	store  domain.ObjectStore
	bus    eventbus.EventBus
	limits config.LimitsConfig
	logger *logger.Logger
}

func NewTracker(repo domain.Repository, store domain.ObjectStore, bus eventbus.EventBus, limits config.LimitsConfig, log *logger.Logger) Tracker {
	return &tracker{
		repo:   repo,
		store:  store,
		bus:    bus,
		limits: limits,
		logger: log,
	}
}

// RegisterPendingUpload validates the declared upload, records it as pending
// and returns a presigned URL the client pushes the bytes to. The server
// never proxies file content.
func (t *tracker) RegisterPendingUpload(ctx context.Context, ownerID, filename, contentType string, declaredSize int64) (*domain.UploadedFile, *domain.PresignedUpload, error) {
	if ownerID == "" {
		return nil, nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if filename == "" {
		return nil, nil, fmt.Errorf("%w: filename is required", domain.ErrValidation)
	}
	kind, ok := domain.KindForContentType(contentType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unsupported content type %q", domain.ErrValidation, contentType)
	}
	if declaredSize <= 0 {
		return nil, nil, fmt.Errorf("%w: declared size must be positive", domain.ErrValidation)
	}
	if declaredSize > t.limits.MaxFileSize {
		return nil, nil, fmt.Errorf("%w: declared size %d exceeds limit %d", domain.ErrValidation, declaredSize, t.limits.MaxFileSize)
	}

	file := &domain.UploadedFile{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Filename:     filename,
		ContentType:  contentType,
		Kind:         kind,
		DeclaredSize: declaredSize,
		Status:       domain.FileStatusPending,
	}
	file.StorageKey = objectstore.BuildKey(ownerID, file.ID, filename)

	ctx = logger.WithFileID(ctx, file.ID.String())
	t.logger.Info(ctx, "Registering pending upload",
		"filename", filename,
		"kind", kind,
		"declared_size", declaredSize,
	)

	if err := t.repo.CreateFile(ctx, file); err != nil {
		t.logger.Error(ctx, "Failed to create file record", "error", err)
		return nil, nil, err
	}

	presigned, err := t.store.PresignUpload(ctx, file.StorageKey, contentType, t.limits.PresignTTL)
	if err != nil {
		t.logger.Error(ctx, "Failed to presign upload", "error", err)
		return nil, nil, err
	}

	return file, presigned, nil
}

// MarkUploaded verifies the object landed in storage with a size close enough
// to the declared one, then moves the file to uploaded. A divergence beyond
// the tolerance fails the file permanently.
func (t *tracker) MarkUploaded(ctx context.Context, fileID uuid.UUID) (*domain.UploadedFile, error) {
	ctx = logger.WithFileID(ctx, fileID.String())

	file, err := t.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	actualSize, err := t.store.Size(ctx, file.StorageKey)
	if err != nil {
		t.logger.Error(ctx, "Failed to stat uploaded object", "error", err)
		return nil, err
	}

	diff := actualSize - file.DeclaredSize
	if diff < 0 {
		diff = -diff
	}
	if diff > t.limits.SizeTolerance {
		t.logger.Warn(ctx, "Uploaded size diverges from declared size",
			"declared_size", file.DeclaredSize,
			"actual_size", actualSize,
		)
		if failErr := t.repo.SetFileFailed(ctx, fileID, domain.ReasonSizeExceeded); failErr != nil {
			t.logger.Error(ctx, "Failed to mark file failed", "error", failErr)
		}
		return nil, fmt.Errorf("%w: declared %d, actual %d", domain.ErrSizeMismatch, file.DeclaredSize, actualSize)
	}

	if err := t.repo.SetFileUploaded(ctx, fileID, actualSize); err != nil {
		return nil, err
	}

	t.logger.Info(ctx, "File uploaded", "actual_size", actualSize)
	return t.repo.GetFile(ctx, fileID)
}

// ConfirmAndLink moves the file to confirmed, optionally linking it to a job,
// and queues it for extraction.
func (t *tracker) ConfirmAndLink(ctx context.Context, fileID uuid.UUID, jobID *uuid.UUID) (*domain.UploadedFile, error) {
	ctx = logger.WithFileID(ctx, fileID.String())

	if jobID != nil {
		if _, err := t.repo.GetJob(ctx, *jobID); err != nil {
			return nil, fmt.Errorf("link job: %w", err)
		}
	}

	if err := t.repo.SetFileConfirmed(ctx, fileID, jobID); err != nil {
		return nil, err
	}

	event := eventbus.Event{
		ID:        uuid.New().String(),
		Type:      eventbus.EventTypeFileExtract,
		Payload:   eventbus.FileExtractEvent{FileID: fileID},
		Timestamp: time.Now(),
	}
	if err := t.bus.Publish(ctx, event); err != nil {
		t.logger.Error(ctx, "Failed to publish extract event", "error", err)
		return nil, err
	}

	t.logger.Info(ctx, "File confirmed, extraction queued")
	return t.repo.GetFile(ctx, fileID)
}

func (t *tracker) GetFile(ctx context.Context, fileID uuid.UUID) (*domain.UploadedFile, error) {
	return t.repo.GetFile(ctx, fileID)
}

// DeleteFile removes the file record and its transactions. Refused while the
// file is being processed.
func (t *tracker) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	ctx = logger.WithFileID(ctx, fileID.String())

	file, err := t.repo.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.Status == domain.FileStatusProcessing {
		return fmt.Errorf("%w: file is processing", domain.ErrAlreadyInProgress)
	}

	if err := t.repo.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	t.logger.Info(ctx, "File deleted")
	return nil
}
