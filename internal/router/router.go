package router

import (
	"chatcpg/internal/controller"

	"github.com/gin-gonic/gin"
)

// SetUpRouters auth 为 token 校验中间件
func SetUpRouters(r *gin.Engine, kc *controller.KBController, fc *controller.FileController, auth gin.HandlerFunc) {
	api := r.Group("/api")
	{
		kb := api.Group("knowledge")
		kb.Use(auth)
		{
			// KB
			kb.POST("/bases", kc.Create)
			kb.GET("/bases", kc.List)
			kb.GET("/bases/:id", kc.Detail)
			kb.PUT("/bases/:id", kc.Update)
			kb.DELETE("/bases/:id", kc.Delete)
			kb.GET("/bases/:id/stats", kc.Stats)
			kb.GET("/bases/:id/documents", kc.DocPage)
			kb.POST("/bases/:id/upload", fc.Upload)
			// Doc
			kb.GET("/documents/:id", kc.DocDetail)
			kb.DELETE("/documents/:id", kc.DeleteDoc)
			kb.GET("/documents/:id/download", fc.Download)
			kb.POST("/documents/:id/reprocess", fc.Reprocess)
			kb.GET("/chunks/:id", kc.Chunk)
			// RAG
			kb.POST("/search", kc.Search)
			kb.GET("/stats/vector", kc.VectorStats)
			kb.GET("/supported-formats", fc.SupportedFormats)
		}
	}
}
