package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/middleware"
	"github.com/tripmarket/booking-core/internal/models"
	"github.com/tripmarket/booking-core/internal/services"
)

// Reconciler exposes the payment reconciliation queue to operators
type Reconciler interface {
	Queue(ctx context.Context) ([]models.Payment, error)
	Run(ctx context.Context) (*services.ReconciliationReport, error)
}

// AdminHandler handles admin-only operations
type AdminHandler struct {
	reconciler Reconciler
	logger     *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(reconciler Reconciler, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, logger: logger}
}

// GetReconciliationQueue lists payments whose outcome is still unresolved
// @Router /api/v1/admin/reconciliation [get]
func (h *AdminHandler) GetReconciliationQueue(c *gin.Context) {
	payments, err := h.reconciler.Queue(c.Request.Context())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"payments": payments,
		"count":    len(payments),
	})
}

// RunReconciliation reconciles the queue now instead of waiting for cron
// @Router /api/v1/admin/reconciliation/run [post]
func (h *AdminHandler) RunReconciliation(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"admin_id": userCtx.UserID,
		"checked":  report.Checked,
		"settled":  report.Settled,
		"pending":  report.Pending,
	}).Info("Manual reconciliation run")

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}
