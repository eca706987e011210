package middleware

import (
	"time"

	"chatcpg/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupCORS 封装CORS配置
func SetupCORS(corsConfig config.CORSConfig) gin.HandlerFunc {
	maxAge, err := time.ParseDuration(corsConfig.MaxAge)
	if err != nil {
		maxAge = 12 * time.Hour
	}

	return cors.New(cors.Config{
		AllowOrigins:     corsConfig.AllowOrigins,
		AllowMethods:     corsConfig.AllowMethods,
		AllowHeaders:     corsConfig.AllowHeaders,
		ExposeHeaders:    corsConfig.ExposeHeaders,
		AllowCredentials: corsConfig.AllowCredentials, // 允许携带凭证时 AllowOrigins 不能为 *
		MaxAge:           maxAge,                      // 预检请求缓存时间
	})
}
