package controller

import (
	"strconv"

	"chatcpg/internal/model"
	"chatcpg/internal/service"
	"chatcpg/internal/utils"
	"chatcpg/pkgs/errcode"
	"chatcpg/pkgs/response"

	"github.com/gin-gonic/gin"
)

type KBController struct {
	kbService service.KBService
}

func NewKBController(kbService service.KBService) *KBController {
	return &KBController{kbService: kbService}
}

func (kc *KBController) Create(ctx *gin.Context) {
	// 1. 获取用户ID
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	// 2. 绑定参数
	var req model.CreateKBRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.ParamError(ctx, errcode.ParamBindError, "参数错误")
		return
	}

	kb, err := kc.kbService.CreateKB(ctx.Request.Context(), userID, &req)
	if err != nil {
		writeError(ctx, err, "创建知识库失败")
		return
	}
	response.SuccessWithMessage(ctx, "创建知识库成功", kb)
}

func (kc *KBController) List(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	kbs, err := kc.kbService.ListKBs(ctx.Request.Context(), userID)
	if err != nil {
		writeError(ctx, err, "获取知识库列表失败")
		return
	}
	response.PageSuccess(ctx, kbs, int64(len(kbs)))
}

func (kc *KBController) Detail(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	detail, err := kc.kbService.GetKB(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err, "获取知识库详情失败")
		return
	}
	response.Success(ctx, detail)
}

func (kc *KBController) Update(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	var req model.UpdateKBRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.ParamError(ctx, errcode.ParamBindError, "参数错误")
		return
	}

	kb, err := kc.kbService.UpdateKB(ctx.Request.Context(), userID, ctx.Param("id"), &req)
	if err != nil {
		writeError(ctx, err, "更新知识库失败")
		return
	}
	response.SuccessWithMessage(ctx, "更新知识库成功", kb)
}

func (kc *KBController) Delete(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	if err := kc.kbService.DeleteKB(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		writeError(ctx, err, "删除知识库失败")
		return
	}
	response.SuccessWithMessage(ctx, "删除知识库成功", nil)
}

func (kc *KBController) Stats(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	// 复用详情接口的归属校验与统计重算
	detail, err := kc.kbService.GetKB(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err, "获取知识库统计失败")
		return
	}
	response.Success(ctx, detail.Stats)
}

func (kc *KBController) DocPage(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	limit, offset, err := utils.ParsePaginationParams(ctx)
	if err != nil {
		response.ParamError(ctx, errcode.ParamBindError, "分页参数错误")
		return
	}
	status := model.DocumentStatus(ctx.Query("status"))
	switch status {
	case "", model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed:
	default:
		response.ParamError(ctx, errcode.ParamValidateError, "状态参数错误")
		return
	}

	docs, total, err := kc.kbService.ListDocuments(ctx.Request.Context(), userID, ctx.Param("id"), status, limit, offset)
	if err != nil {
		writeError(ctx, err, "获取文档列表失败")
		return
	}
	response.PageSuccess(ctx, docs, total)
}

func (kc *KBController) DocDetail(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	detail, err := kc.kbService.GetDocument(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err, "获取文档详情失败")
		return
	}
	response.Success(ctx, detail)
}

func (kc *KBController) DeleteDoc(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	if err := kc.kbService.DeleteDocument(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		writeError(ctx, err, "删除文档失败")
		return
	}
	response.SuccessWithMessage(ctx, "删除文档成功", nil)
}

func (kc *KBController) Chunk(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	withContext, err := strconv.ParseBool(ctx.DefaultQuery("with_context", "false"))
	if err != nil {
		response.ParamError(ctx, errcode.ParamValidateError, "with_context 参数错误")
		return
	}

	chunk, err := kc.kbService.GetChunk(ctx.Request.Context(), userID, ctx.Param("id"), withContext)
	if err != nil {
		writeError(ctx, err, "获取切片失败")
		return
	}
	response.Success(ctx, chunk)
}

func (kc *KBController) Search(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	var req model.SearchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.ParamError(ctx, errcode.ParamBindError, "参数错误")
		return
	}
	if req.TopK < 0 || (req.ScoreThreshold != nil && (*req.ScoreThreshold < 0 || *req.ScoreThreshold > 1)) {
		response.ParamError(ctx, errcode.ParamValidateError, "top_k 或 score_threshold 参数错误")
		return
	}

	resp, err := kc.kbService.Search(ctx.Request.Context(), userID, &req)
	if err != nil {
		writeError(ctx, err, "检索失败")
		return
	}
	response.Success(ctx, resp)
}

func (kc *KBController) VectorStats(ctx *gin.Context) {
	userID, err := utils.GetUserIDFromContext(ctx)
	if err != nil {
		response.UnauthorizedError(ctx, errcode.UnauthorizedError, "用户验证失败")
		return
	}

	stats, err := kc.kbService.VectorStats(ctx.Request.Context(), userID)
	if err != nil {
		writeError(ctx, err, "获取向量统计失败")
		return
	}
	response.Success(ctx, stats)
}
