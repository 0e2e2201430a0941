package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-bridge/internal/domain"
	"identity-bridge/internal/service"
)

// IdentityHandler mantiene dependencias para los endpoints de identidad.
type IdentityHandler struct {
	logger   *zap.Logger
	identity *service.IdentityService
}

// NewIdentityHandler crea una instancia de IdentityHandler.
func NewIdentityHandler(logger *zap.Logger, identity *service.IdentityService) *IdentityHandler {
	return &IdentityHandler{
		logger:   logger,
		identity: identity,
	}
}

// VerifyUser maneja POST /auth/verify-user: reconcilia los claims del token
// con el store, creando el perfil en la primera visita.
func (h *IdentityHandler) VerifyUser(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	// El body es opcional: overrides de perfil solo usados al crear.
	var overrides domain.ProfileOverrides
	if err := c.ShouldBindJSON(&overrides); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid verify user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, isNew, err := h.identity.Reconcile(c.Request.Context(), claims, &overrides)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailMissing):
			c.JSON(http.StatusBadRequest, gin.H{"error": "email required to create profile"})
		default:
			h.logger.Error("reconcile failed", zap.Error(err), zap.String("external_id", claims.ExternalID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reconcile user"})
		}
		return
	}

	status := http.StatusOK
	message := "user logged in successfully"
	if isNew {
		status = http.StatusCreated
		message = "user registered and logged in successfully"
	}
	c.JSON(status, gin.H{
		"success":     true,
		"message":     message,
		"user":        profile,
		"is_new_user": isNew,
	})
}

// Me maneja GET /auth/me: perfil de la identidad ya verificada, sin crear.
func (h *IdentityHandler) Me(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	profile, err := h.identity.Get(c.Request.Context(), claims.ExternalID)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		h.logger.Error("get profile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user":        profile,
		"is_new_user": false,
	})
}

// UpdateProfile maneja PUT /auth/profile: edición parcial de nombre y avatar.
func (h *IdentityHandler) UpdateProfile(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var update domain.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("invalid update profile request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, err := h.identity.UpdateProfile(c.Request.Context(), claims.ExternalID, update)
	if err != nil {
		h.writeUpdateError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "profile updated successfully",
		"user":    profile,
	})
}

// UpdateOnboarding maneja PUT /auth/update-onboarding: actualización parcial
// de los campos de onboarding.
func (h *IdentityHandler) UpdateOnboarding(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var update domain.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("invalid update onboarding request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, err := h.identity.UpdateOnboarding(c.Request.Context(), claims.ExternalID, update)
	if err != nil {
		h.writeUpdateError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "onboarding updated successfully",
		"user":    profile,
	})
}

// DeleteProfile maneja DELETE /auth/profile. Borra solo el perfil de este
// store; la cuenta del proveedor de identidad no se toca.
func (h *IdentityHandler) DeleteProfile(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if err := h.identity.Delete(c.Request.Context(), claims.ExternalID); err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		h.logger.Error("delete profile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "profile deleted successfully",
		"note":    "the identity provider account must be deleted separately",
	})
}

// Root maneja GET /: información básica del servicio.
func (h *IdentityHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "identity-bridge",
		"status":  "running",
		"endpoints": gin.H{
			"health":            "/health",
			"verify_user":       "/auth/verify-user",
			"me":                "/auth/me",
			"update_onboarding": "/auth/update-onboarding",
			"profile":           "/auth/profile",
		},
	})
}

func (h *IdentityHandler) writeUpdateError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	h.logger.Error("update failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
}
