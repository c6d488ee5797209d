package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/service"
	"github.com/FACorreiaa/wellspend/internal/domain/metrics"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
)

const internalErrorMessage = "internal server error"

// presentError writes err as a JSON error and reports whether it did.
func presentError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		interceptors.WriteError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, metrics.ErrInvalidPeriod):
		interceptors.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		interceptors.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSearchDisabled):
		interceptors.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.ErrorContext(ctx, "unexpected error", slog.Any("error", err))
		interceptors.WriteError(w, http.StatusInternalServerError, internalErrorMessage)
	}
	return true
}
