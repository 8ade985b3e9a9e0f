package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/pkg/logger"
)

// FileExtractor is the slice of the extraction service the consumer needs.
type FileExtractor interface {
	Extract(ctx context.Context, fileID uuid.UUID) error
}

// ExtractConsumer drains file.extract events into the extraction service.
// Terminal domain errors are swallowed: the file record already carries the
// failure and retrying cannot change the outcome.
type ExtractConsumer struct {
	extractor   FileExtractor
	logger      *logger.Logger
	workerCount int
}

func NewExtractConsumer(extractor FileExtractor, log *logger.Logger, workerCount int) *ExtractConsumer {
	return &ExtractConsumer{
		extractor:   extractor,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *ExtractConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(FileExtractEvent)
	if !ok {
		c.logger.Error(ctx, "Invalid payload type for file extract event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type")
	}

	ctx = logger.WithFileID(ctx, payload.FileID.String())

	err := c.extractor.Extract(ctx, payload.FileID)
	if err == nil {
		return nil
	}

	if isTerminal(err) {
		c.logger.Warn(ctx, "Extraction ended in terminal state",
			"event_id", event.ID,
			"error", err,
		)
		return nil
	}

	c.logger.Error(ctx, "Extraction failed",
		"event_id", event.ID,
		"error", err,
	)
	return err
}

func (c *ExtractConsumer) GetWorkerCount() int {
	return c.workerCount
}

// isTerminal reports whether retrying the same event can possibly succeed.
func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrAlreadyInProgress) ||
		errors.Is(err, domain.ErrExtractionQuality) ||
		errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, domain.ErrValidation)
}
