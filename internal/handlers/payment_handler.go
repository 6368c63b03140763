package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/middleware"
	"github.com/tripmarket/booking-core/internal/models"
)

// PaymentOperations is the payment surface used by PaymentHandler
type PaymentOperations interface {
	Process(ctx context.Context, touristID uuid.UUID, req *models.ProcessPaymentRequest) (*models.ProcessPaymentResult, error)
	ListPaymentMethods(ctx context.Context, touristID uuid.UUID) ([]models.SavedPaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, touristID, id uuid.UUID) error
	DeletePaymentMethod(ctx context.Context, touristID, id uuid.UUID) error
}

// PaymentHandler handles booking payments and saved cards
type PaymentHandler struct {
	payments PaymentOperations
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentOperations, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// ProcessPayment charges the tourist for a pending booking
// @Router /api/v1/payments [post]
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, "invalid request body: %v", err)
		return
	}

	result, err := h.payments.Process(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment_id":     result.PaymentID,
		"booking_id":     result.BookingID,
		"transaction_id": result.TransactionID,
		"status":         result.Status,
		"amount":         result.Amount,
	})
}

// ListPaymentMethods lists the tourist's saved cards
// @Router /api/v1/payment-methods [get]
func (h *PaymentHandler) ListPaymentMethods(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	methods, err := h.payments.ListPaymentMethods(c.Request.Context(), userCtx.UserID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if methods == nil {
		methods = []models.SavedPaymentMethod{}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment_methods": methods})
}

// SetDefaultPaymentMethod marks one saved card as the default
// @Router /api/v1/payment-methods/{id}/default [put]
func (h *PaymentHandler) SetDefaultPaymentMethod(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	id, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	if err := h.payments.SetDefaultPaymentMethod(c.Request.Context(), userCtx.UserID, id); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Default payment method updated"})
}

// DeletePaymentMethod removes a saved card
// @Router /api/v1/payment-methods/{id} [delete]
func (h *PaymentHandler) DeletePaymentMethod(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	id, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	if err := h.payments.DeletePaymentMethod(c.Request.Context(), userCtx.UserID, id); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment method deleted"})
}
