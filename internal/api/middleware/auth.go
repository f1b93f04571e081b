package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Chaves gravadas no contexto do gin pela autenticação.
const (
	CtxSubject  = "subject"
	CtxTenantID = "tenantID"
	CtxRole     = "role"
)

// Auth valida o bearer JWT (HS256) dos serviços do CRM e dos operadores.
// A claim "tid" restringe o token a um tenant; "role" é usada por RequireRole.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "token ausente"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("método de assinatura inesperado: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "token inválido"})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				c.Set(CtxSubject, sub)
			}
			if tid, ok := claims["tid"].(string); ok {
				c.Set(CtxTenantID, tid)
			}
			if role, ok := claims["role"].(string); ok {
				c.Set(CtxRole, role)
			}
		}
		c.Next()
	}
}
