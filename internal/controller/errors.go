package controller

import (
	"errors"
	"log"
	"net/http"

	"chatcpg/internal/service"
	"chatcpg/internal/worker"
	"chatcpg/pkgs/errcode"
	"chatcpg/pkgs/response"

	"github.com/gin-gonic/gin"
)

// writeError 业务错误映射为 HTTP 状态码，未识别的错误记录日志后返回 500
func writeError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		response.Error(ctx, http.StatusRequestEntityTooLarge, errcode.FileTooLarge, "文件大小超过限制")
	case errors.Is(err, service.ErrUnsupportedFileType):
		response.Error(ctx, http.StatusUnsupportedMediaType, errcode.FileTypeUnsupported, "不支持的文件类型")
	case errors.Is(err, service.ErrQuotaExceeded):
		response.Error(ctx, http.StatusTooManyRequests, errcode.QuotaExceeded, "本月上传次数已达上限")
	case errors.Is(err, service.ErrStorageExceeded):
		response.Error(ctx, http.StatusTooManyRequests, errcode.QuotaExceeded, "存储空间不足")
	case errors.Is(err, service.ErrNotFound):
		response.NotFoundError(ctx, errcode.NotFoundError, "资源不存在")
	case errors.Is(err, service.ErrForbidden):
		response.ForbiddenError(ctx, errcode.ForbiddenError, "权限不足")
	case errors.Is(err, service.ErrDuplicateName):
		response.Error(ctx, http.StatusConflict, errcode.KBNameDuplicated, "知识库名称已存在")
	case errors.Is(err, service.ErrInvalidChunkConfig):
		response.ParamError(ctx, errcode.KBInvalidChunking, "切片参数不合法，chunk_overlap 必须小于 chunk_size")
	case errors.Is(err, service.ErrInvalidInput):
		response.ParamError(ctx, errcode.ParamValidateError, "参数错误")
	case errors.Is(err, service.ErrInvalidStatus):
		response.Error(ctx, http.StatusConflict, errcode.DocumentStatus, "当前文档状态不允许该操作")
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolClosed):
		response.Error(ctx, http.StatusServiceUnavailable, errcode.InternalServerError, "处理队列繁忙，请稍后重试")
	default:
		log.Printf("[Controller] %s %s: %s: %v", ctx.Request.Method, ctx.FullPath(), fallback, err)
		response.InternalError(ctx, errcode.InternalServerError, fallback)
	}
}
