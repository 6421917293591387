package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"github.com/vhvplatform/go-notification-dispatch/internal/template"
)

// TemplateHandler serves template validation and preview requests
type TemplateHandler struct {
	log *logger.Logger
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(log *logger.Logger) *TemplateHandler {
	return &TemplateHandler{log: log}
}

// Validate checks template syntax and reports per-field errors
func (h *TemplateHandler) Validate(c *gin.Context) {
	var req domain.ValidateTemplateRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	result := template.Validate(req.Subject, req.HTMLBody, req.TextBody)
	c.JSON(http.StatusOK, result)
}

// Preview renders a template against sample variables without recording
// usage
func (h *TemplateHandler) Preview(c *gin.Context) {
	var req domain.PreviewTemplateRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	result := template.Validate(req.Subject, req.HTMLBody, req.TextBody)
	if !result.Valid {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	rendered := template.Preview(req.Subject, req.HTMLBody, req.TextBody, req.Variables)
	c.JSON(http.StatusOK, rendered)
}
