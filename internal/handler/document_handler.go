package handler

import (
	"net/http"

	"course-rag-go/internal/service"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责章节文档的索引、删除与统计接口。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// IndexDocumentRequest 定义了章节文本索引的请求体。
type IndexDocumentRequest struct {
	CourseID  string `json:"course_id"`
	ChapterID string `json:"chapter_id"`
	Text      string `json:"text"`
}

// IndexDocument 同步索引章节文本；async=true 时改为发布异步任务。
func (h *DocumentHandler) IndexDocument(c *gin.Context) {
	var req IndexDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载")
		return
	}

	if c.Query("async") == "true" {
		taskID, err := h.docService.Enqueue(c.Request.Context(), req.CourseID, req.ChapterID, req.Text)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"code":    http.StatusAccepted,
			"message": "索引任务已提交",
			"data":    gin.H{"queued": true, "task_id": taskID},
		})
		return
	}

	doc, err := h.docService.IndexText(c.Request.Context(), req.CourseID, req.ChapterID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[DocumentHandler] 章节索引完成, course_id: %s, chapter_id: %s, version: %d", doc.CourseID, doc.ChapterID, doc.Version)
	respondOK(c, gin.H{"chunks_indexed": doc.ChunkCount, "version": doc.Version, "char_count": doc.CharCount})
}

// DeleteChapter 从索引中移除一个章节的全部分块。
func (h *DocumentHandler) DeleteChapter(c *gin.Context) {
	removed, err := h.docService.RemoveChapter(c.Request.Context(), c.Param("course_id"), c.Param("chapter_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"chunks_removed": removed})
}

// VectorStats 返回向量索引的统计信息。
func (h *DocumentHandler) VectorStats(c *gin.Context) {
	respondOK(c, h.docService.Stats())
}
