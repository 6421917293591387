package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/repository"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// DeliveryHandler serves delivery log queries
type DeliveryHandler struct {
	deliveries *repository.DeliveryRepository
	log        *logger.Logger
}

// NewDeliveryHandler creates a new delivery handler
func NewDeliveryHandler(deliveries *repository.DeliveryRepository, log *logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		deliveries: deliveries,
		log:        log,
	}
}

// GetDeliveries lists delivery logs with filters and pagination
func (h *DeliveryHandler) GetDeliveries(c *gin.Context) {
	var req domain.GetDeliveriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	logs, total, err := h.deliveries.FindByOrg(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list deliveries", "error", err, "org_id", req.OrgID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to list deliveries", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      logs,
		"total":     total,
		"page":      req.Page,
		"page_size": req.PageSize,
	})
}

// GetDelivery retrieves a single delivery log by ID
func (h *DeliveryHandler) GetDelivery(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("org_id is required", nil))
		return
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("ID is required", nil))
		return
	}

	delivery, err := h.deliveries.FindByID(c.Request.Context(), orgID, id)
	if err != nil {
		if repository.IsNotFound(err) {
			c.JSON(http.StatusNotFound, errors.NewNotFoundError("Delivery not found", nil))
			return
		}
		h.log.Error("Failed to get delivery", "error", err, "id", id, "org_id", orgID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to get delivery", err))
		return
	}

	c.JSON(http.StatusOK, delivery)
}
