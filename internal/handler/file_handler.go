package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/matchbot/reconcile/internal/service"
	"github.com/matchbot/reconcile/pkg/logger"
)

type FileHandler struct {
	tracker   service.Tracker
	extractor service.Extractor
	logger    *logger.Logger
}

func NewFileHandler(tracker service.Tracker, extractor service.Extractor, log *logger.Logger) *FileHandler {
	return &FileHandler{
		tracker:   tracker,
		extractor: extractor,
		logger:    log,
	}
}

type registerUploadRequest struct {
	OwnerID      string `json:"owner_id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	DeclaredSize int64  `json:"declared_size"`
}

// Register creates a pending upload and hands back the presigned URL.
func (h *FileHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req registerUploadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	file, presigned, err := h.tracker.RegisterPendingUpload(ctx, req.OwnerID, req.Filename, req.ContentType, req.DeclaredSize)
	if err != nil {
		h.logger.Error(ctx, "Failed to register upload", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"file":   file,
		"upload": presigned,
	})
}

// Uploaded is the client's callback after pushing bytes to the presigned URL.
func (h *FileHandler) Uploaded(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid file id"})
	}

	file, err := h.tracker.MarkUploaded(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "Failed to mark file uploaded", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, file)
}

type confirmRequest struct {
	JobID *uuid.UUID `json:"job_id,omitempty"`
}

// Confirm moves the file into the extraction queue.
func (h *FileHandler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid file id"})
	}

	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	file, err := h.tracker.ConfirmAndLink(ctx, id, req.JobID)
	if err != nil {
		h.logger.Error(ctx, "Failed to confirm file", "error", err)
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, file)
}

func (h *FileHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid file id"})
	}

	file, err := h.tracker.GetFile(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, file)
}

// CancelExtraction aborts an in-flight extraction for the file.
func (h *FileHandler) CancelExtraction(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid file id"})
	}

	if !h.extractor.Cancel(id) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no extraction in progress"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *FileHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid file id"})
	}

	if err := h.tracker.DeleteFile(ctx, id); err != nil {
		h.logger.Error(ctx, "Failed to delete file", "error", err)
		return respondError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
