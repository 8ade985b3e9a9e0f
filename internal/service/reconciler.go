package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/eventbus"
	"github.com/matchbot/reconcile/internal/hashing"
	"github.com/matchbot/reconcile/internal/matching"
	"github.com/matchbot/reconcile/pkg/logger"
)

// Reconciler owns job lifecycle and the comparison runs. A run claims the job
// (running doubles as the per-job lock), diffs the source file against each
// comparison file in turn and appends an immutable result.
type Reconciler interface {
	CreateJob(ctx context.Context, ownerID string, sourceFileID uuid.UUID, comparisonFileIDs []uuid.UUID) (*domain.ReconciliationJob, error)
	StartRun(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationJob, error)
	Run(ctx context.Context, jobID uuid.UUID) error
	Cancel(jobID uuid.UUID) bool
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationJob, error)
	LatestResult(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationResult, error)
	ResultHistory(ctx context.Context, jobID uuid.UUID) ([]domain.ReconciliationResult, error)
}

type reconciler struct {
	repo    domain.Repository
	bus     eventbus.EventBus
	engine  *matching.Engine
	limits  config.LimitsConfig
	cancels *cancelRegistry
	logger  *logger.Logger
}

func NewReconciler(repo domain.Repository, bus eventbus.EventBus, limits config.LimitsConfig, log *logger.Logger) (Reconciler, error) {
	tolerance, err := decimal.NewFromString(limits.AmountTolerance)
	if err != nil {
		return nil, fmt.Errorf("parse amount tolerance %q: %w", limits.AmountTolerance, err)
	}

	return &reconciler{
		repo:    repo,
		bus:     bus,
		engine:  matching.NewEngine(tolerance),
		limits:  limits,
		cancels: newCancelRegistry(),
		logger:  log,
	}, nil
}

// CreateJob validates the file set and records a pending job. Files need not
// be ready yet; readiness is gated at run time.
func (r *reconciler) CreateJob(ctx context.Context, ownerID string, sourceFileID uuid.UUID, comparisonFileIDs []uuid.UUID) (*domain.ReconciliationJob, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if len(comparisonFileIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one comparison file is required", domain.ErrValidation)
	}

	seen := map[uuid.UUID]bool{sourceFileID: true}
	for _, id := range comparisonFileIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: file %s appears more than once", domain.ErrValidation, id)
		}
		seen[id] = true
	}

	for id := range seen {
		if _, err := r.repo.GetFile(ctx, id); err != nil {
			return nil, fmt.Errorf("file %s: %w", id, err)
		}
	}

	job := &domain.ReconciliationJob{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		SourceFileID:      sourceFileID,
		ComparisonFileIDs: comparisonFileIDs,
		Status:            domain.JobStatusPending,
	}

	ctx = logger.WithJobID(ctx, job.ID.String())
	if err := r.repo.CreateJob(ctx, job); err != nil {
		r.logger.Error(ctx, "Failed to create job", "error", err)
		return nil, err
	}

	r.logger.Info(ctx, "Job created",
		"source_file_id", sourceFileID,
		"comparison_files", len(comparisonFileIDs),
	)
	return job, nil
}

// StartRun queues an asynchronous run of the job. The claim happens inside
// the run itself, so queueing twice simply makes the second run bounce off
// ErrAlreadyInProgress.
func (r *reconciler) StartRun(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationJob, error) {
	ctx = logger.WithJobID(ctx, jobID.String())

	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusRunning {
		return nil, fmt.Errorf("%w: job is running", domain.ErrAlreadyInProgress)
	}

	event := eventbus.Event{
		ID:        uuid.New().String(),
		Type:      eventbus.EventTypeJobRun,
		Payload:   eventbus.JobRunEvent{JobID: jobID},
		Timestamp: time.Now(),
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error(ctx, "Failed to publish job run event", "error", err)
		return nil, err
	}

	r.logger.Info(ctx, "Job run queued")
	return job, nil
}

// Run executes one comparison run end to end. Outcomes computed before a
// mid-run failure are preserved in a result record; the job then reads
// failed, not half-completed.
func (r *reconciler) Run(ctx context.Context, jobID uuid.UUID) error {
	ctx = logger.WithJobID(ctx, jobID.String())

	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := r.gateFiles(ctx, job); err != nil {
		return err
	}

	if err := r.repo.ClaimJobRunning(ctx, jobID); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.limits.ReconciliationTimeout)
	defer cancel()
	r.cancels.register(jobID, cancel)
	defer r.cancels.unregister(jobID)

	r.logger.Info(runCtx, "Reconciliation run started",
		"source_file_id", job.SourceFileID,
		"comparison_files", len(job.ComparisonFileIDs),
	)

	source, err := r.repo.GetTransactions(runCtx, job.SourceFileID)
	if err != nil {
		return r.failRun(ctx, jobID, nil, fmt.Errorf("load source transactions: %w", err))
	}
	sourceDuplicates := hashing.FindDuplicates(source)

	outcomes := make([]domain.ComparisonOutcome, 0, len(job.ComparisonFileIDs))
	for _, compID := range job.ComparisonFileIDs {
		select {
		case <-runCtx.Done():
			return r.failRun(ctx, jobID, outcomes, fmt.Errorf("%w: %v", domain.ErrCancelled, runCtx.Err()))
		default:
		}

		// Re-check per comparison: a file can fail between the gate and
		// its turn in the loop.
		compFile, err := r.repo.GetFile(runCtx, compID)
		if err != nil {
			return r.failRun(ctx, jobID, outcomes, fmt.Errorf("comparison file %s: %w", compID, err))
		}
		if compFile.Status != domain.FileStatusReady {
			return r.failRun(ctx, jobID, outcomes,
				fmt.Errorf("comparison file %s: %w", compID, &domain.StateError{
					Entity:   "file",
					Current:  string(compFile.Status),
					Required: string(domain.FileStatusReady),
				}))
		}

		comparison, err := r.repo.GetTransactions(runCtx, compID)
		if err != nil {
			return r.failRun(ctx, jobID, outcomes, fmt.Errorf("load comparison transactions: %w", err))
		}

		outcome := r.engine.Compare(source, comparison)
		outcome.ComparisonFileID = compID
		outcome.SourceDuplicates = sourceDuplicates
		outcome.ComparisonDuplicates = hashing.FindDuplicates(comparison)
		outcomes = append(outcomes, outcome)

		r.logger.Info(runCtx, "Comparison finished",
			"comparison_file_id", compID,
			"matched", len(outcome.Matched),
			"mismatched", len(outcome.Mismatched),
			"source_only", len(outcome.SourceOnly),
			"comparison_only", len(outcome.ComparisonOnly),
		)
	}

	result := &domain.ReconciliationResult{
		ID:          uuid.New(),
		JobID:       jobID,
		Comparisons: outcomes,
	}
	if err := r.repo.CreateResult(ctx, result); err != nil {
		return r.failRun(ctx, jobID, nil, fmt.Errorf("persist result: %w", err))
	}

	if err := r.repo.SetJobCompleted(ctx, jobID); err != nil {
		return err
	}

	r.publishCompleted(ctx, jobID, string(domain.JobStatusCompleted), &result.ID)
	r.logger.Info(ctx, "Reconciliation run completed", "result_id", result.ID)
	return nil
}

// Cancel aborts an in-flight run. Reports whether one was running.
func (r *reconciler) Cancel(jobID uuid.UUID) bool {
	return r.cancels.cancel(jobID)
}

func (r *reconciler) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationJob, error) {
	return r.repo.GetJob(ctx, jobID)
}

func (r *reconciler) LatestResult(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationResult, error) {
	if _, err := r.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return r.repo.LatestResult(ctx, jobID)
}

func (r *reconciler) ResultHistory(ctx context.Context, jobID uuid.UUID) ([]domain.ReconciliationResult, error) {
	if _, err := r.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return r.repo.ResultHistory(ctx, jobID)
}

// gateFiles requires every involved file to be ready before the run claims
// the job. A failed file fails the gate with its identity in the error.
func (r *reconciler) gateFiles(ctx context.Context, job *domain.ReconciliationJob) error {
	ids := append([]uuid.UUID{job.SourceFileID}, job.ComparisonFileIDs...)
	for _, id := range ids {
		file, err := r.repo.GetFile(ctx, id)
		if err != nil {
			return fmt.Errorf("file %s: %w", id, err)
		}
		if file.Status != domain.FileStatusReady {
			return fmt.Errorf("file %s: %w", id, &domain.StateError{
				Entity:   "file",
				Current:  string(file.Status),
				Required: string(domain.FileStatusReady),
			})
		}
	}
	return nil
}

// failRun preserves any outcomes computed so far, marks the job failed and
// announces the failure. Returns the original cause for the caller.
func (r *reconciler) failRun(ctx context.Context, jobID uuid.UUID, partial []domain.ComparisonOutcome, cause error) error {
	r.logger.Error(ctx, "Reconciliation run failed", "error", cause)

	var resultID *uuid.UUID
	if len(partial) > 0 {
		result := &domain.ReconciliationResult{
			ID:          uuid.New(),
			JobID:       jobID,
			Comparisons: partial,
		}
		if err := r.repo.CreateResult(ctx, result); err != nil {
			r.logger.Error(ctx, "Failed to persist partial result", "error", err)
		} else {
			resultID = &result.ID
		}
	}

	reason := cause.Error()
	if errors.Is(cause, domain.ErrCancelled) || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		reason = domain.ReasonCancelled
	}
	if err := r.repo.SetJobFailed(ctx, jobID, reason); err != nil {
		r.logger.Error(ctx, "Failed to mark job failed", "error", err)
	}

	r.publishCompleted(ctx, jobID, string(domain.JobStatusFailed), resultID)
	return cause
}

func (r *reconciler) publishCompleted(ctx context.Context, jobID uuid.UUID, status string, resultID *uuid.UUID) {
	event := eventbus.Event{
		ID:        uuid.New().String(),
		Type:      eventbus.EventTypeJobCompleted,
		Payload:   eventbus.JobCompletedEvent{JobID: jobID, Status: status, ResultID: resultID},
		Timestamp: time.Now(),
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error(ctx, "Failed to publish job completed event", "error", err)
	}
}
