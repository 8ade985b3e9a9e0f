package eventbus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/pkg/logger"
)

// JobRunner is the slice of the reconciliation service the consumer needs.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

type JobConsumer struct {
	runner      JobRunner
	logger      *logger.Logger
	workerCount int
}

func NewJobConsumer(runner JobRunner, log *logger.Logger, workerCount int) *JobConsumer {
	return &JobConsumer{
		runner:      runner,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *JobConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(JobRunEvent)
	if !ok {
		c.logger.Error(ctx, "Invalid payload type for job run event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type")
	}

	ctx = logger.WithJobID(ctx, payload.JobID.String())

	err := c.runner.Run(ctx, payload.JobID)
	if err == nil {
		return nil
	}

	if isTerminal(err) {
		c.logger.Warn(ctx, "Job run ended in terminal state",
			"event_id", event.ID,
			"error", err,
		)
		return nil
	}

	c.logger.Error(ctx, "Job run failed",
		"event_id", event.ID,
		"error", err,
	)
	return err
}

func (c *JobConsumer) GetWorkerCount() int {
	return c.workerCount
}
