package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/provider"
	"github.com/vhvplatform/go-notification-dispatch/internal/repository"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// SettingsHandler serves provider connection checks
type SettingsHandler struct {
	settings  *repository.SettingsRepository
	providers *provider.Factory
	log       *logger.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *repository.SettingsRepository, providers *provider.Factory, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings:  settings,
		providers: providers,
		log:       log,
	}
}

func (h *SettingsHandler) providerFor(c *gin.Context, orgID string) (provider.Provider, bool) {
	settings, err := h.settings.FindByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.log.Error("Failed to load settings", "error", err, "org_id", orgID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Failed to load settings", err))
		return nil, false
	}
	if settings == nil {
		c.JSON(http.StatusNotFound, errors.NewNotFoundError("No email settings for organization "+orgID, nil))
		return nil, false
	}

	prov, err := h.providers.ForSettings(c.Request.Context(), settings)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errors.NewNotConfiguredError(err.Error()))
		return nil, false
	}
	return prov, true
}

// TestConnection sends a fixed verification email through the configured
// provider
func (h *SettingsHandler) TestConnection(c *gin.Context) {
	var req domain.TestConnectionRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	prov, ok := h.providerFor(c, req.OrgID)
	if !ok {
		return
	}

	result, err := prov.TestConnection(c.Request.Context(), req.TestAddress)
	if err != nil {
		h.log.Error("Connection test failed", "error", err, "org_id", req.OrgID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Connection test failed", err))
		return
	}

	c.JSON(http.StatusOK, result)
}

// ValidateConnection performs a side-effect-free provider capability check
func (h *SettingsHandler) ValidateConnection(c *gin.Context) {
	var req domain.ValidateConnectionRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, errors.NewValidationError("Invalid request", err))
		return
	}

	prov, ok := h.providerFor(c, req.OrgID)
	if !ok {
		return
	}

	result, err := prov.ValidateConnection(c.Request.Context())
	if err != nil {
		h.log.Error("Connection validation failed", "error", err, "org_id", req.OrgID)
		c.JSON(http.StatusInternalServerError, errors.NewInternalError("Connection validation failed", err))
		return
	}

	c.JSON(http.StatusOK, result)
}
