package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Background tasks never surface these across the subsystem
// boundary; they land in the owning entity's status and reason, and callers
// poll state. Synchronous operations return them directly.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("operation invalid for current state")
	ErrNotFound           = errors.New("not found")
	ErrSizeMismatch       = errors.New("uploaded size does not match declared size")
	ErrExtractionQuality  = errors.New("quality threshold exceeded")
	ErrAlreadyInProgress  = errors.New("already in progress")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCancelled          = errors.New("cancelled")
)

// Failure reasons recorded on files and jobs. Kept short and stable so the
// frontend can tell user-actionable failures (re-upload) from
// operator-actionable ones (storage outage).
const (
	ReasonBadFormat        = "bad format"
	ReasonSizeExceeded     = "size exceeded"
	ReasonStorageFailure   = "storage failure"
	ReasonQualityThreshold = "quality threshold exceeded"
	ReasonCancelled        = "cancelled"
	ReasonInternal         = "internal error"
)

// QualityThresholdError reports how many rows failed canonical parsing when
// extraction was aborted. Degraded counts rows with at least one mapped
// canonical field that could not be parsed.
type QualityThresholdError struct {
	Degraded int
	Total    int
}

func (e *QualityThresholdError) Error() string {
	return fmt.Sprintf("quality threshold exceeded: %d of %d rows failed canonical parsing", e.Degraded, e.Total)
}

func (e *QualityThresholdError) Unwrap() error { return ErrExtractionQuality }

// StateError carries the observed and required lifecycle states of a
// rejected transition.
type StateError struct {
	Entity   string
	Current  string
	Required string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is %s, operation requires %s", e.Entity, e.Current, e.Required)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
