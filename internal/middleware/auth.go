package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserID = "userID"
	ContextRole   = "role"
)

func parseToken(c *gin.Context, secret []byte) (jwt.MapClaims, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, false
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	return claims, ok
}

// Auth requires a valid user token and stores the user id in the context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseToken(c, secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "invalid or missing token",
			})
			return
		}
		uid, ok := claims["user_id"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "invalid token claims",
			})
			return
		}
		c.Set(ContextUserID, uint64(uid))
		if role, ok := claims["role"].(string); ok {
			c.Set(ContextRole, role)
		}
		c.Next()
	}
}

// AdminAuth requires a valid token carrying the admin role. The role
// check happens before the handler chain advances, so a non-admin
// token never reaches the endpoint.
func AdminAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseToken(c, secret)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "invalid or missing token",
			})
			return
		}
		uid, ok := claims["user_id"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "invalid token claims",
			})
			return
		}
		role, _ := claims["role"].(string)
		if role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "message": "admin access required",
			})
			return
		}
		c.Set(ContextUserID, uint64(uid))
		c.Set(ContextRole, role)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Auth.
func UserID(c *gin.Context) uint64 {
	v, _ := c.Get(ContextUserID)
	id, _ := v.(uint64)
	return id
}
