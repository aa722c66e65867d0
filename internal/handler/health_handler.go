package handler

import (
	"net/http"
	"time"

	"course-rag-go/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthHandler 报告服务存活状态。
type HealthHandler struct {
	docService service.DocumentService
	startedAt  time.Time
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(docService service.DocumentService) *HealthHandler {
	return &HealthHandler{docService: docService, startedAt: time.Now()}
}

// Health 返回存活状态与索引规模。
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.docService.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"total_chunks":   stats.TotalChunks,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
