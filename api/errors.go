package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/domain"
)

// writeError maps a service error onto a status code and a {message} body.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	var (
		ve *domain.ValidationError
		nf *domain.NotFoundError
		te *domain.TransientStoreError
	)
	switch {
	case errors.As(err, &ve):
		c.Set(ctxErrorStage, "validation")
		return c.JSON(http.StatusBadRequest, messageResponse{Message: ve.Error()})
	case errors.As(err, &nf):
		c.Set(ctxErrorStage, "not_found")
		return c.JSON(http.StatusNotFound, messageResponse{Message: nf.Error()})
	case errors.As(err, &te):
		c.Set(ctxErrorStage, "storage")
		logger.WithError(err).WithField("route", c.Path()).Error("store unavailable")
		return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "storage temporarily unavailable, please retry"})
	default:
		c.Set(ctxErrorStage, "internal")
		logger.WithError(err).WithField("route", c.Path()).Error("request failed")
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "internal error"})
	}
}
