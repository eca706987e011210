package middleware

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"chatcpg/internal/utils"
	"chatcpg/pkgs/errcode"
	"chatcpg/pkgs/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth 只校验 token，签发由账号服务负责。通过后把 user_id 写入上下文
func JWTAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		log.Printf("[Auth] jwt secret is empty, all requests will be rejected")
	}
	key := []byte(secret)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if secret == "" || !strings.HasPrefix(auth, "Bearer ") {
			response.UnauthorizedError(c, errcode.UnauthorizedError, "未登录或token缺失")
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			response.UnauthorizedError(c, errcode.UnauthorizedError, "token无效或已过期")
			c.Abort()
			return
		}

		userID, err := claimUserID(claims[utils.ContextUserIDKey])
		if err != nil {
			response.UnauthorizedError(c, errcode.UnauthorizedError, "token缺少用户信息")
			c.Abort()
			return
		}
		c.Set(utils.ContextUserIDKey, userID)
		c.Next()
	}
}

// claimUserID JSON 数字解码为 float64，也兼容字符串形式
func claimUserID(v any) (uint, error) {
	switch id := v.(type) {
	case float64:
		if id <= 0 || id != math.Trunc(id) || id > math.MaxUint32 {
			return 0, fmt.Errorf("invalid user id %v", id)
		}
		return uint(id), nil
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("invalid user id %q", id)
		}
		return uint(n), nil
	default:
		return 0, errors.New("user id claim missing")
	}
}
