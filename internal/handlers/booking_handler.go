package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/middleware"
	"github.com/tripmarket/booking-core/internal/models"
)

// BookingOperations is the booking lifecycle surface used by BookingHandler
type BookingOperations interface {
	Create(ctx context.Context, touristID uuid.UUID, req *models.CreateBookingRequest) (*models.CreateBookingResult, error)
	Transition(ctx context.Context, bookingID uuid.UUID, target models.BookingStatus, actor models.Actor, reason *string) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, actor models.Actor, reason *string) (*models.CancelBookingResult, error)
	Get(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.BookingWithPayment, error)
	ListForActor(ctx context.Context, actor models.Actor, status *models.BookingStatus, limit, offset int) ([]models.Booking, error)
}

// BookingHandler handles trip booking endpoints
type BookingHandler struct {
	bookings BookingOperations
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingOperations, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// CreateBooking books a vehicle for the authenticated tourist
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Kind: "unauthorized", Message: "Authentication required"})
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, "invalid request body: %v", err)
		return
	}

	result, err := h.bookings.Create(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"booking_id": result.BookingID,
		"payment_id": result.PaymentID,
	})
}

// ListBookings lists the bookings visible to the caller
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c, h.logger)
	if !ok {
		return
	}

	var status *models.BookingStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseBookingStatus(raw)
		if err != nil {
			respondValidation(c, h.logger, "invalid status filter: %s", raw)
			return
		}
		status = &parsed
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		respondValidation(c, h.logger, "limit must be a positive integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		respondValidation(c, h.logger, "offset must be an integer")
		return
	}

	bookings, err := h.bookings.ListForActor(c.Request.Context(), actor, status, limit, offset)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"bookings": bookings,
		"count":    len(bookings),
		"limit":    limit,
		"offset":   offset,
	})
}

// GetBooking returns one booking with its payment
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, ok := actorFrom(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), bookingID, actor)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "booking": booking})
}

// UpdateStatus moves a booking through its lifecycle
// @Router /api/v1/bookings/{id}/status [patch]
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, "invalid request body: %v", err)
		return
	}
	target, err := models.ParseBookingStatus(req.Status)
	if err != nil {
		respondValidation(c, h.logger, "invalid booking status: %s", req.Status)
		return
	}

	booking, err := h.bookings.Transition(c.Request.Context(), bookingID, target, actor, req.Reason)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "booking": booking})
}

// CancelBooking cancels a booking and reports the fee charged
// @Router /api/v1/bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := actorFrom(c, h.logger)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	// Body is optional
	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, h.logger, "invalid request body: %v", err)
			return
		}
	}

	result, err := h.bookings.Cancel(c.Request.Context(), bookingID, actor, req.Reason)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	resp := gin.H{
		"success":    true,
		"booking_id": result.BookingID,
		"fee":        result.Fee,
	}
	if result.RefundAmount != nil {
		resp["refund_amount"] = *result.RefundAmount
	}
	c.JSON(http.StatusOK, resp)
}
