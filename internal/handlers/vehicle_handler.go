package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/models"
)

// AvailabilityFinder searches vehicles free on a date
type AvailabilityFinder interface {
	FindAvailableVehicles(ctx context.Context, date models.Date, passengers int) ([]models.Vehicle, error)
}

// VehicleHandler serves trip-planning searches
type VehicleHandler struct {
	availability AvailabilityFinder
	logger       *logrus.Logger
}

func NewVehicleHandler(availability AvailabilityFinder, logger *logrus.Logger) *VehicleHandler {
	return &VehicleHandler{availability: availability, logger: logger}
}

// ListAvailable returns vehicles with no active booking on date that can
// seat the requested passengers
// @Router /api/v1/vehicles/available [get]
func (h *VehicleHandler) ListAvailable(c *gin.Context) {
	date, err := models.ParseDate(c.Query("date"))
	if err != nil {
		respondValidation(c, h.logger, "date must be YYYY-MM-DD")
		return
	}

	passengers := 1
	if raw := c.Query("passengers"); raw != "" {
		passengers, err = strconv.Atoi(raw)
		if err != nil || passengers < 1 {
			respondValidation(c, h.logger, "passengers must be a positive integer")
			return
		}
	}

	vehicles, err := h.availability.FindAvailableVehicles(c.Request.Context(), date, passengers)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"date":     date,
		"vehicles": vehicles,
		"count":    len(vehicles),
	})
}
