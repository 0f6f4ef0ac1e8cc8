package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/eraser/internal/errors"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
)

// statusFor maps a removal error to its HTTP status.
func statusFor(err error) int {
	var rErr *rerrors.RemovalError
	if !errors.As(err, &rErr) {
		return http.StatusInternalServerError
	}

	switch rErr.Type {
	case rerrors.ErrorTypeInputRejected:
		switch rErr.Reason {
		case rerrors.ReasonSize:
			return http.StatusRequestEntityTooLarge
		case rerrors.ReasonType:
			return http.StatusUnsupportedMediaType
		default:
			return http.StatusUnprocessableEntity
		}
	case rerrors.ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case rerrors.ErrorTypePreconditionFailed:
		return http.StatusUnprocessableEntity
	case rerrors.ErrorTypeState:
		if errors.Is(err, rerrors.ErrSessionLimit) {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	case rerrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case rerrors.ErrorTypeCapabilityUnavailable:
		return http.StatusServiceUnavailable
	case rerrors.ErrorTypeInternal:
		switch {
		case errors.Is(err, rerrors.ErrInsufficientSpace):
			return http.StatusInsufficientStorage
		case errors.Is(err, rerrors.ErrTimeout):
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusInternalServerError
}

// toAPIError converts any handler error into the shared envelope.
func toAPIError(err error) *apperrors.APIError {
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	status := statusFor(err)
	var rErr *rerrors.RemovalError
	if !errors.As(err, &rErr) {
		return apperrors.NewInternalError("Internal server error", err)
	}

	message := err.Error()
	if rErr.Err != nil {
		message = rErr.Err.Error()
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable &&
		status != http.StatusInsufficientStorage && status != http.StatusGatewayTimeout {
		message = "Internal server error"
	}

	out := apperrors.New(status, strings.ToUpper(string(rErr.Type)), message, err)
	if rErr.Reason != "" {
		out.WithContext("reason", string(rErr.Reason))
	}
	if rErr.SessionID != "" {
		out.WithContext("session_id", rErr.SessionID)
	}
	for k, v := range rErr.Details {
		out.WithContext(k, v)
	}
	return out
}

// respondError writes err and aborts the request.
func respondError(c *gin.Context, err error) {
	toAPIError(err).ToGinResponse(c)
}
