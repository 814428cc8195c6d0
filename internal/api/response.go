package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"samadhan/internal/constants"
	"samadhan/internal/identity"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success           bool         `json:"success"`
	Message           string       `json:"message,omitempty"`
	Data              any          `json:"data,omitempty"`
	Error             *ErrorDetail `json:"error,omitempty"`
	NeedsVerification bool         `json:"needsVerification,omitempty"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "component", "api", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{
		Message: message,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, constants.ErrCodeNotFound, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "An internal error occurred")
}

// responder renders identity errors. Underlying causes are attached as
// detail only when exposeDetail is set.
type responder struct {
	exposeDetail bool
}

func (rs responder) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	e := identity.AsError(err)
	status := statusForKind(e.Kind)

	detail := &ErrorDetail{
		Code:    e.Code,
		Message: e.Message,
		Fields:  e.Fields,
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "component", "api", "path", r.URL.Path, "error", err)
		detail.Message = "An internal error occurred"
		detail.Code = constants.ErrCodeInternal
	}
	if rs.exposeDetail {
		var cause *identity.Error
		if errors.As(err, &cause) && cause.Err != nil {
			detail.Detail = cause.Err.Error()
		} else if cause == nil {
			detail.Detail = err.Error()
		}
	}

	writeJSON(w, status, Envelope{Message: detail.Message, Error: detail})
}

func statusForKind(kind identity.Kind) int {
	switch kind {
	case identity.KindValidation,
		identity.KindDuplicate,
		identity.KindInvalidOrExpiredToken,
		identity.KindAlreadyVerified,
		identity.KindTooManyAttempts:
		return http.StatusBadRequest
	case identity.KindNotFound:
		return http.StatusNotFound
	case identity.KindInvalidCredentials,
		identity.KindUnauthenticated,
		identity.KindInvalidToken,
		identity.KindTokenExpired,
		identity.KindInvalidRefreshToken,
		identity.KindAccountDisabled,
		identity.KindEmailNotVerified,
		identity.KindPasswordNotSet:
		return http.StatusUnauthorized
	case identity.KindForbidden:
		return http.StatusForbidden
	case identity.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
