package adminapi

import (
	"net/http"

	"tickforge/pkg/cronerrors"
)

// statusFor maps a cronerrors.Code to the HTTP status an operator-facing
// client should see.
func statusFor(err error) int {
	ce, ok := err.(*cronerrors.Error)
	if !ok {
		return http.StatusInternalServerError
	}

	switch ce.Code {
	case cronerrors.ENotFound:
		return http.StatusNotFound
	case cronerrors.EDuplicate:
		return http.StatusConflict
	case cronerrors.EState, cronerrors.EConfiguration:
		return http.StatusBadRequest
	case cronerrors.EShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
