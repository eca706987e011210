package response

import (
	"net/http"

	"chatcpg/pkgs/errcode"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type PageData struct {
	Total int64 `json:"total"`
	List  any   `json:"list"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: errcode.Success, Message: "success", Data: data})
}

func SuccessWithMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: errcode.Success, Message: message, Data: data})
}

func PageSuccess(c *gin.Context, list any, total int64) {
	Success(c, PageData{Total: total, List: list})
}

// Error 以指定 HTTP 状态码返回错误
func Error(c *gin.Context, status int, code int, message string) {
	c.JSON(status, Response{Code: code, Message: message})
}

func ParamError(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

func UnauthorizedError(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

func ForbiddenError(c *gin.Context, code int, message string) {
	Error(c, http.StatusForbidden, code, message)
}

func NotFoundError(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

func InternalError(c *gin.Context, code int, message string) {
	Error(c, http.StatusInternalServerError, code, message)
}
