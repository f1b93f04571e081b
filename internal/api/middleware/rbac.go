package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// RequireRole libera apenas tokens com uma das roles informadas.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		if role == "" || !slices.Contains(roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "acesso negado: permissão insuficiente"})
			return
		}
		c.Next()
	}
}

// RequireTenant compara o tenant da rota com a claim "tid". Tokens sem
// tenant (serviços internos e admins) acessam qualquer tenant.
func RequireTenant(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString(CtxTenantID)
		if tenantID != "" && tenantID != c.Param(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "token sem acesso a este tenant"})
			return
		}
		c.Next()
	}
}
