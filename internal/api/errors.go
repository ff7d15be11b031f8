package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/export"
	"github.com/reelframe/reelframe-agent/internal/generate"
	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{project.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{timeline.ErrNoActiveProject, http.StatusConflict, "NO_ACTIVE_PROJECT"},
	{timeline.ErrExportInProgress, http.StatusConflict, "EXPORT_IN_PROGRESS"},
	{timeline.ErrInvalidView, http.StatusBadRequest, "BAD_REQUEST"},
	{project.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST"},
	{capture.ErrInvalidSource, http.StatusBadRequest, "BAD_REQUEST"},
	{export.ErrInvalidOutputDir, http.StatusBadRequest, "BAD_REQUEST"},
	{capture.ErrDiscarded, http.StatusGone, "DISCARDED"},
	{capture.ErrCaptureFailed, http.StatusUnprocessableEntity, "CAPTURE_FAILED"},
	{export.ErrExportFailed, http.StatusUnprocessableEntity, "EXPORT_FAILED"},
	{generate.ErrGenerationFailed, http.StatusBadGateway, "GENERATION_FAILED"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

// writeDomainError maps orchestrator errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without its message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			WriteError(w, m.status, err.Error(), m.code)
			return
		}
	}
	requestID, _ := r.Context().Value(RequestIDKey).(string)
	logger.Error("request failed", "path", r.URL.Path, "request_id", requestID, "error", err)
	WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
}
