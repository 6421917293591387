package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/engine"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// TriggerHandler accepts trigger invocations over HTTP
type TriggerHandler struct {
	dispatcher *engine.Dispatcher
	log        *logger.Logger
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(dispatcher *engine.Dispatcher, log *logger.Logger) *TriggerHandler {
	return &TriggerHandler{
		dispatcher: dispatcher,
		log:        log,
	}
}

// Trigger enqueues one trigger invocation. The response only confirms
// acceptance; delivery outcomes land in the delivery logs.
func (h *TriggerHandler) Trigger(c *gin.Context) {
	// Bind through the cached body, the rate limit middleware already read it
	var req domain.TriggerRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	if req.OrgID == "" {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("org_id is required", nil))
		return
	}
	if !req.Event.Valid() {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("unknown event type "+string(req.Event), nil))
		return
	}

	h.dispatcher.TriggerNotification(req.OrgID, req.Event, req.Payload, req.TriggeredBy)

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Trigger accepted",
	})
}
