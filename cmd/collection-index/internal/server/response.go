package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediavault/cmd/collection-index/internal/domain"
)

// Response 统一响应格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Accepted 已接受响应，用于异步启动的任务
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    400,
		Message: message,
	})
}

// Error 错误响应
func Error(c *gin.Context, err error) {
	statusCode, code, message := parseError(err)
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// parseError 解析错误类型并返回相应的HTTP状态码
// 业务错误会被包装，用errors.Is匹配哨兵
func parseError(err error) (statusCode, code int, message string) {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound),
		errors.Is(err, domain.ErrCollectionNotIndexed),
		errors.Is(err, domain.ErrThumbnailNotCached):
		return http.StatusNotFound, 404, err.Error()
	case errors.Is(err, domain.ErrInvalidSortField),
		errors.Is(err, domain.ErrInvalidDirection),
		errors.Is(err, domain.ErrInvalidRebuildMode):
		return http.StatusBadRequest, 400, err.Error()
	case errors.Is(err, domain.ErrRebuildInProgress):
		return http.StatusConflict, 409, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, 503, "index store unavailable"
	default:
		return http.StatusInternalServerError, 500, "internal server error"
	}
}
