package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/warehouse/pkg/jwt"
	"github.com/xiebiao/warehouse/pkg/response"
)

// AuthMiddleware JWT认证中间件
// 设计说明：
// 1. 从Header提取Token
// 2. 验证Token有效性
// 3. 将操作员信息注入Context
type AuthMiddleware struct {
	jwtManager *jwt.Manager
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(jwtManager *jwt.Manager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// RequireAuth 要求登录
// 使用方式：
//
//	authorized := r.Group("/api/v1")
//	authorized.Use(authMiddleware.RequireAuth())
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 格式：Authorization: Bearer <token>
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.ErrorWithCode(c, 40100, "请先登录")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.ErrorWithCode(c, 40101, "Token格式错误")
			c.Abort()
			return
		}

		claims, err := m.jwtManager.ParseToken(parts[1])
		if err != nil {
			response.Error(c, err) // 自动处理ErrTokenExpired、ErrInvalidToken
			c.Abort()
			return
		}

		// 将操作员信息注入Context(后续Handler可以使用)
		c.Set("operator_id", claims.OperatorID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RequireRole 要求指定角色
// 补偿释放已确认预留是跨系统的破坏性操作,只允许supervisor执行
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			response.ErrorWithCode(c, 40104, "无权限执行此操作")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetOperatorID 从Context获取当前操作员ID
func GetOperatorID(c *gin.Context) uint {
	if v, exists := c.Get("operator_id"); exists {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// GetRole 从Context获取当前操作员角色
func GetRole(c *gin.Context) string {
	if v, exists := c.Get("role"); exists {
		if r, ok := v.(string); ok {
			return r
		}
	}
	return ""
}
