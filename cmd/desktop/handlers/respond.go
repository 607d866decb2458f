// Package handlers provides the REST API handlers of the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
)

// maxBodyBytes bounds request bodies; recordings arrive base64 encoded.
const maxBodyBytes = 64 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable code and a human readable message.
type ErrorDetail struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

var statusByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrInvalid:            http.StatusBadRequest,
	apperrors.ErrNotFound:           http.StatusNotFound,
	apperrors.ErrPermission:         http.StatusForbidden,
	apperrors.ErrInvalidPIN:         http.StatusUnauthorized,
	apperrors.ErrLocked:             http.StatusLocked,
	apperrors.ErrOffline:            http.StatusServiceUnavailable,
	apperrors.ErrStorageUnavailable: http.StatusServiceUnavailable,
	apperrors.ErrRemoteUnavailable:  http.StatusBadGateway,
	apperrors.ErrPartialUpload:      http.StatusBadGateway,
	apperrors.ErrIntegrity:          http.StatusBadGateway,
	apperrors.ErrSyncTimeout:        http.StatusGatewayTimeout,
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	if status, ok := statusByCode[apperrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorDetails(w, err, nil)
}

func writeErrorDetails(w http.ResponseWriter, err error, details map[string]interface{}) {
	status := StatusOf(err)
	code := apperrors.CodeOf(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:    code,
		Message: err.Error(),
		Details: details,
	}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}

// UserResolver picks the user a request acts for: the "user" query
// parameter, else the configured default.
type UserResolver struct {
	Default string
}

// Resolve returns the request's user or INVALID_INPUT when there is none.
func (u UserResolver) Resolve(r *http.Request) (string, error) {
	if user := r.URL.Query().Get("user"); user != "" {
		return user, nil
	}
	if u.Default != "" {
		return u.Default, nil
	}
	return "", apperrors.New(apperrors.ErrInvalid, "user is required")
}
