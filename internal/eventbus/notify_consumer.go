package eventbus

import (
	"context"
	"fmt"

	"github.com/matchbot/reconcile/pkg/logger"
)

// Notifier receives job completion announcements. The default implementation
// just logs; a webhook or mail sender would slot in here.
type Notifier interface {
	NotifyJobCompleted(ctx context.Context, event JobCompletedEvent) error
}

type NotifyConsumer struct {
	notifier    Notifier
	logger      *logger.Logger
	workerCount int
}

func NewNotifyConsumer(notifier Notifier, log *logger.Logger, workerCount int) *NotifyConsumer {
	return &NotifyConsumer{
		notifier:    notifier,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *NotifyConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(JobCompletedEvent)
	if !ok {
		c.logger.Error(ctx, "Invalid payload type for job completed event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type")
	}

	ctx = logger.WithJobID(ctx, payload.JobID.String())
	return c.notifier.NotifyJobCompleted(ctx, payload)
}

func (c *NotifyConsumer) GetWorkerCount() int {
	return c.workerCount
}

// LogNotifier writes completion announcements to the structured log.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) NotifyJobCompleted(ctx context.Context, event JobCompletedEvent) error {
	resultID := ""
	if event.ResultID != nil {
		resultID = event.ResultID.String()
	}
	n.logger.Info(ctx, "Job finished",
		"job_id", event.JobID,
		"status", event.Status,
		"result_id", resultID,
	)
	return nil
}
