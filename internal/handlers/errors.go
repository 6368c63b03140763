package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/middleware"
	"github.com/tripmarket/booking-core/internal/models"
)

var statusByKind = map[models.ErrorKind]int{
	models.KindValidation:             http.StatusBadRequest,
	models.KindConflict:               http.StatusConflict,
	models.KindForbidden:              http.StatusForbidden,
	models.KindNotFound:               http.StatusNotFound,
	models.KindInvalidTransition:      http.StatusBadRequest,
	models.KindAlreadyPaid:            http.StatusBadRequest,
	models.KindPayment:                http.StatusPaymentRequired,
	models.KindStorageUnavailable:     http.StatusServiceUnavailable,
	models.KindReconciliationRequired: http.StatusBadGateway,
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondError writes err as an ErrorResponse. Only AppError messages reach
// the client; anything else is logged and reported as an internal error.
func RespondError(c *gin.Context, logger *logrus.Logger, err error) {
	requestID := middleware.GetRequestID(c)

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		status, ok := statusByKind[appErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		entry := logger.WithFields(logrus.Fields{
			"kind":       appErr.Kind,
			"path":       c.FullPath(),
			"request_id": requestID,
		})
		if appErr.Err != nil {
			entry = entry.WithError(appErr.Err)
		}
		if status >= 500 {
			entry.Error(appErr.Message)
		} else {
			entry.Debug(appErr.Message)
		}
		c.AbortWithStatusJSON(status, ErrorResponse{
			Kind:      string(appErr.Kind),
			Message:   appErr.Message,
			RequestID: requestID,
		})
		return
	}

	logger.WithFields(logrus.Fields{
		"path":       c.FullPath(),
		"request_id": requestID,
	}).WithError(err).Error("Unhandled error")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Kind:      "internal_error",
		Message:   "An unexpected error occurred",
		RequestID: requestID,
	})
}

func respondValidation(c *gin.Context, logger *logrus.Logger, format string, args ...interface{}) {
	RespondError(c, logger, models.NewValidationError(format, args...))
}

// actorFrom resolves the authenticated actor, responding when there is none
func actorFrom(c *gin.Context, logger *logrus.Logger) (models.Actor, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Kind:      "unauthorized",
			Message:   "Authentication required",
			RequestID: middleware.GetRequestID(c),
		})
		return models.Actor{}, false
	}
	actor, ok := userCtx.Actor()
	if !ok {
		RespondError(c, logger, models.NewForbiddenError("no booking role on this account"))
		return models.Actor{}, false
	}
	return actor, true
}

// uuidParam parses a UUID path parameter
func uuidParam(c *gin.Context, logger *logrus.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondValidation(c, logger, "%s must be a valid UUID", name)
		return uuid.Nil, false
	}
	return id, true
}
