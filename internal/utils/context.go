package utils

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextUserIDKey JWT 中间件写入的用户ID
const ContextUserIDKey = "user_id"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func GenerateUUID() string {
	return uuid.New().String()
}

// GetUserIDFromContext 获取当前登录用户ID
func GetUserIDFromContext(c *gin.Context) (uint, error) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, errors.New("user id not found in context")
	}
	userID, ok := v.(uint)
	if !ok || userID == 0 {
		return 0, errors.New("invalid user id in context")
	}
	return userID, nil
}

// ParsePaginationParams 解析 limit/offset，limit 缺省为 20，最大 100
func ParsePaginationParams(c *gin.Context) (limit int, offset int, err error) {
	limit = DefaultPageSize
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if s := c.Query("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset")
		}
	}
	return limit, offset, nil
}
