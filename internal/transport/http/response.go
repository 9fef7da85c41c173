package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"video-compiler-service/internal/apperror"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeAppErr maps a domain error to its HTTP status. A non-nil jobID is
// reported for errors recorded on an existing job.
func writeAppErr(w http.ResponseWriter, err error, jobID uuid.UUID) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		slog.Error("unhandled request error", "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	body := apiError{Message: appErr.Error(), Code: string(appErr.Code)}
	if jobID != uuid.Nil {
		body.JobID = jobID.String()
	}
	writeJSON(w, statusFor(appErr.Code), body)
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperror.CodeForbidden:
		return http.StatusForbidden
	case apperror.CodeInvalidParameters:
		return http.StatusBadRequest
	case apperror.CodeNoContent:
		return http.StatusUnprocessableEntity
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeInvalidState:
		return http.StatusConflict
	case apperror.CodeDispatchFailure, apperror.CodeBackendUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
