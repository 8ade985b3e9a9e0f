package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/matchbot/reconcile/internal/domain"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Internal
// details never leak for unexpected errors.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSizeMismatch):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func parseID(c echo.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
