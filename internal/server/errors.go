package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/resilience"
)

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var brokerErr *apperrors.BrokerError

	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrStaleStaging), errors.Is(err, apperrors.ErrWatchlistExists):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrWatchlistNotFound), errors.Is(err, apperrors.ErrSymbolNotFound):
		return http.StatusNotFound
	case apperrors.IsPersistence(err):
		return http.StatusInternalServerError
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrNoAccount), errors.As(err, &brokerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as {"error": message} with the mapped status.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		body["error"] = ve.Message
		if ve.Field != "" {
			body["field"] = ve.Field
		}
	}
	if errors.Is(err, apperrors.ErrNoAccount) {
		body["error"] = apperrors.ErrNoAccount.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, field, message string) {
	writeError(c, apperrors.NewValidationError(field, nil, message))
}
