package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/matchbot/reconcile/internal/service"
	"github.com/matchbot/reconcile/pkg/logger"
)

type JobHandler struct {
	reconciler service.Reconciler
	logger     *logger.Logger
}

func NewJobHandler(reconciler service.Reconciler, log *logger.Logger) *JobHandler {
	return &JobHandler{
		reconciler: reconciler,
		logger:     log,
	}
}

type createJobRequest struct {
	OwnerID           string      `json:"owner_id"`
	SourceFileID      uuid.UUID   `json:"source_file_id"`
	ComparisonFileIDs []uuid.UUID `json:"comparison_file_ids"`
}

func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	job, err := h.reconciler.CreateJob(ctx, req.OwnerID, req.SourceFileID, req.ComparisonFileIDs)
	if err != nil {
		h.logger.Error(ctx, "Failed to create job", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, job)
}

// Run queues an asynchronous reconciliation run.
func (h *JobHandler) Run(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	job, err := h.reconciler.StartRun(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "Failed to start job run", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, job)
}

func (h *JobHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	job, err := h.reconciler.GetJob(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	if !h.reconciler.Cancel(id) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no run in progress"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// LatestResult returns the result of the most recent run.
func (h *JobHandler) LatestResult(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	result, err := h.reconciler.LatestResult(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// ResultHistory returns every run's result, newest first.
func (h *JobHandler) ResultHistory(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
	}

	results, err := h.reconciler.ResultHistory(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":  id,
		"results": results,
	})
}
