package eventbus

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	// EventTypeFileExtract asks the extraction pool to process a confirmed file.
	EventTypeFileExtract EventType = "file.extract"
	// EventTypeJobRun asks the reconciliation pool to run a claimed job.
	EventTypeJobRun EventType = "job.run"
	// EventTypeJobCompleted announces a finished run, successful or not.
	EventTypeJobCompleted EventType = "job.completed"
)

type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type FileExtractEvent struct {
	FileID uuid.UUID `json:"file_id"`
}

type JobRunEvent struct {
	JobID uuid.UUID `json:"job_id"`
}

type JobCompletedEvent struct {
	JobID    uuid.UUID  `json:"job_id"`
	Status   string     `json:"status"`
	ResultID *uuid.UUID `json:"result_id,omitempty"`
}
