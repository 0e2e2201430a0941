package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-bridge/internal/domain"
	"identity-bridge/internal/idp"
)

const authClaimsKey = "auth_claims"

// RequireAuth valida el bearer token contra el proveedor de identidad y
// guarda los claims normalizados en el contexto. Expirado e inválido se
// loguean con razones distintas aunque ambos respondan 401.
func RequireAuth(logger *zap.Logger, verifier idp.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		token := strings.TrimSpace(header[len("Bearer "):])
		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, idp.ErrTokenExpired):
				logger.Warn("token rejected: expired")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			case errors.Is(err, idp.ErrProviderUnavailable):
				logger.Error("identity provider unreachable", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity provider unavailable"})
			default:
				logger.Warn("token rejected: invalid signature or malformed")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			}
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// GetClaims obtiene los claims verificados desde el contexto.
func GetClaims(c *gin.Context) (domain.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return domain.Claims{}, false
	}
	claims, ok := val.(domain.Claims)
	return claims, ok
}
