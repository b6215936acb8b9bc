package api

import (
	"errors"
	"net/http"
	"strconv"

	"vexchange/internal/domain"

	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is advertised to clients on 503.
const retryAfterSeconds = 1

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, domain.ErrConsistency):
		return http.StatusUnprocessableEntity, "consistency"
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, "transient"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	resp := ErrorResp{Error: err.Error(), Kind: kind}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// badRequest reports malformed input that never reached the service.
func badRequest(c *gin.Context, field string, err error) {
	writeError(c, &domain.ValidationError{Field: field, Err: err})
}
