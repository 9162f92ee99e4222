package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/anomalyreport/internal/api/response"
	"github.com/kiranshivaraju/anomalyreport/internal/auth"
	"github.com/kiranshivaraju/anomalyreport/internal/detection"
	"github.com/kiranshivaraju/anomalyreport/internal/report"
	"github.com/kiranshivaraju/anomalyreport/internal/store"
)

// writeError maps a domain error to the error envelope.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, detection.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, auth.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, detection.ErrDecode):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE",
			"The detection service returned an invalid response", nil)
	case errors.Is(err, detection.ErrNetwork):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
			"The detection service is not available", nil)
	case errors.Is(err, report.ErrUnknownJob), errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job is not part of the open report", nil)
	case errors.Is(err, report.ErrNoResult):
		response.Error(w, http.StatusConflict, "REPORT_NOT_READY", "The report has no result yet", nil)
	case errors.Is(err, report.ErrNotExportable):
		response.Error(w, http.StatusConflict, "REPORT_NOT_EXPORTABLE",
			"Only finished successful or canceled reports can be exported", nil)
	case errors.Is(err, report.ErrCancelInProgress):
		response.Error(w, http.StatusConflict, "CANCEL_IN_PROGRESS", "A cancel request is already in progress", nil)
	case errors.Is(err, report.ErrNotMounted):
		response.Error(w, http.StatusConflict, "REPORT_CLOSED", "The report is not open", nil)
	default:
		slog.Error("unhandled error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
