// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

func abortUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": http.StatusText(http.StatusUnauthorized),
		"error":   gin.H{"code": "UNAUTHORIZED", "detail": detail},
	})
}

// AuthMiddleware 从 Authorization 头中提取 Bearer token，校验通过后把用户与 token 存入上下文。
func AuthMiddleware(userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abortUnauthorized(c, "invalid authorization header")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		user, err := userService.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set("user", user)
		c.Set("token", tokenString)
		c.Next()
	}
}
