package controller

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chatcpg/internal/model"
	"chatcpg/internal/service"
	"chatcpg/internal/utils"
	"chatcpg/pkgs/errcode"
	"chatcpg/pkgs/response"

	"github.com/gin-gonic/gin"
)

type FileController struct {
	fileService   service.FileService
	ingestService service.IngestService
}

func NewFileController(fileService service.FileService, ingestService service.IngestService) *FileController {
	return &FileController{fileService: fileService, ingestService: ingestService}
}

func (fc *FileController) Upload(ctx *gin.Context) {
	// 1. 获取用户ID
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	// 2. 解析表单文件
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		response.ParamError(ctx, errcode.ParamBindError, "缺少上传文件")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.ParamError(ctx, errcode.FileUploadFailed, "上传失败")
		return
	}
	defer file.Close()

	// 3. 可选的标题与标签，标签以逗号分隔
	var tags []string
	if raw := ctx.PostForm("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	doc, _, err := fc.fileService.Upload(ctx.Request.Context(), &service.UploadInput{
		UserID:          userID,
		KnowledgeBaseID: ctx.Param("id"),
		Filename:        fileHeader.Filename,
		Title:           ctx.PostForm("title"),
		Tags:            tags,
		Size:            fileHeader.Size,
		Reader:          file,
	})
	if err != nil {
		writeError(ctx, err, "上传失败")
		return
	}

	response.SuccessWithMessage(ctx, "文件上传成功，正在后台处理", model.UploadResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		FileSize:   doc.FileSize,
		Status:     doc.Status,
		UploadedAt: doc.UploadedAt,
	})
}

func (fc *FileController) Download(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	rc, doc, err := fc.fileService.OpenDocument(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err, "文件不存在")
		return
	}
	defer rc.Close()

	disposition := fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s",
		strings.ReplaceAll(doc.Filename, `"`, ""), url.PathEscape(doc.Filename))
	ctx.DataFromReader(http.StatusOK, doc.FileSize, doc.MimeType, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

func (fc *FileController) Reprocess(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	h, err := fc.ingestService.Reprocess(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err, "重新处理失败")
		return
	}
	response.SuccessWithMessage(ctx, "已提交重新处理", gin.H{
		"document_id": ctx.Param("id"),
		"task":        h.Key(),
	})
}

func (fc *FileController) SupportedFormats(ctx *gin.Context) {
	response.Success(ctx, fc.fileService.SupportedFormats())
}
