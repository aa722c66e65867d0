// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"course-rag-go/internal/model"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// statusFor 将领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrEmptyDocument),
		errors.Is(err, model.ErrInvalidChunkParams),
		errors.Is(err, model.ErrDimensionMismatch),
		errors.Is(err, model.ErrPromptBudgetExceeded):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrNotConfigured):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 处理失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}
