package middleware

import (
	"strings"

	"edurank_backend/internal/config"
	"edurank_backend/internal/model"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		cfg := c.MustGet("config").(*config.Config)
		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		hasRole := false
		for _, role := range roles {
			// 管理员拥有全部权限，直接放行
			if user.Role == model.Admin {
				hasRole = true
				break
			}
			if user.Role == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminKeyMiddleware 管理批量接口的独立鉴权：
// X-Admin-Key 与配置中的 bcrypt 哈希比对，供无用户上下文的后台作业调用
func AdminKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := c.MustGet("config").(*config.Config)
		if cfg.Bulk.AdminKeyHash == "" {
			util.Forbidden(c)
			c.Abort()
			return
		}

		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Bulk.AdminKeyHash), []byte(key)); err != nil {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
