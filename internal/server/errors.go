package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goevery/broker/internal/ierr"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error ierr.Error `json:"error"`
}

func httpStatus(code ierr.ErrorCode) int {
	switch code {
	case ierr.ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ierr.ErrorCodeNotFound:
		return http.StatusNotFound
	case ierr.ErrorCodeAlreadyExists:
		return http.StatusConflict
	case ierr.ErrorCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case ierr.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ierr.ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ierr.ErrorCodeResourceExhausted:
		return http.StatusTooManyRequests
	}

	return http.StatusInternalServerError
}

// writeError replies with the client facing error. Errors that are not an
// ierr.Error are logged and replaced by a generic internal error.
func writeError(logger *zap.Logger, w http.ResponseWriter, err error) {
	var ierror ierr.Error
	if !errors.As(err, &ierror) {
		logger.Error("error in http handler", zap.Error(err))

		ierror = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	writeJSON(logger, w, httpStatus(ierror.Code), errorResponse{Error: ierror})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
