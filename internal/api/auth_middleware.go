// internal/api/auth_middleware.go
package api

import (
	"net/http"
	"strings"

	"github.com/Corphon/HoverLens/internal/auth"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	authSubjectKey = "auth_subject"
	tokenQueryKey  = "token"
)

// AuthMiddleware 校验 Bearer 令牌；tokenConfig 为 nil 时不做校验
func AuthMiddleware(tokenConfig *auth.TokenConfig, logger utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenConfig == nil || isPublicEndpoint(c) {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, "缺少访问令牌")
			return
		}

		claims, err := auth.ParseToken(token, tokenConfig)
		if err != nil {
			logger.Warn("访问令牌无效", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			abortUnauthorized(c, "访问令牌无效或已过期")
			return
		}

		c.Set(authSubjectKey, claims.Subject)
		c.Next()
	}
}

// extractToken 依次读取 Authorization 头与 token 查询参数（浏览器 WebSocket 无法设置请求头）
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(c.Query(tokenQueryKey))
}

// isPublicEndpoint 健康检查与指标无需令牌
func isPublicEndpoint(c *gin.Context) bool {
	switch c.Request.URL.Path {
	case "/api/health", "/api/metrics":
		return true
	}
	return c.Request.Method == http.MethodOptions
}

func abortUnauthorized(c *gin.Context, message string) {
	NewResponseHelper().Error(c, http.StatusUnauthorized, ErrorUnauthorized, message)
	c.Abort()
}

// GetSubjectFromContext 返回已认证调用方
func GetSubjectFromContext(c *gin.Context) (string, bool) {
	subject := c.GetString(authSubjectKey)
	return subject, subject != ""
}
