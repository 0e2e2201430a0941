package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckFunc verifica alcanzabilidad de un servicio delegado.
type CheckFunc func(ctx context.Context) error

// HealthHandler reporta liveness del proceso y estado de las dependencias.
type HealthHandler struct {
	logger *zap.Logger
	checks map[string]CheckFunc
}

// NewHealthHandler crea un HealthHandler con los checks dados. Un check nil
// se omite del reporte.
func NewHealthHandler(logger *zap.Logger, checks map[string]CheckFunc) *HealthHandler {
	filtered := make(map[string]CheckFunc, len(checks))
	for name, check := range checks {
		if check != nil {
			filtered[name] = check
		}
	}
	return &HealthHandler{
		logger: logger,
		checks: filtered,
	}
}

// Check maneja GET /health. El proceso reporta healthy aunque una dependencia
// esté caída: el estado por servicio va en el detalle.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	services := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("service", name), zap.Error(err))
			services[name] = "unreachable"
			continue
		}
		services[name] = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}
